// Package relevance scores one email against pack rules and per-family
// configuration, producing a bounded confidence and a relevance gate.
package relevance

import (
	"path"
	"strings"

	"github.com/seanmckay/hearth/internal/config"
)

// Rule kinds, in gate-evaluation order.
const (
	KindDomain      = "domain"
	KindDisplayName = "display_name"
	KindPlatform    = "platform"
	KindKeyword     = "keyword"
	KindAttachment  = "attachment"
)

// Signal weights.
const (
	weightDomain        = 0.95
	weightDisplayName   = 0.80
	weightPlatform      = 0.85
	weightKeyword       = 0.15
	keywordCap          = 0.6
	domainPenalty       = 0.1
	attachmentBoost     = 0.3
	attachmentFloor     = 0.8
	minKeywordHits      = 2
)

// Rule is one entry in the ordered rule list. Evaluation is deterministic:
// rules are checked in slice order and the winning rule is reported with
// its weight so scoring stays inspectable per rule.
type Rule struct {
	ID      string
	Kind    string
	Pattern string
	Weight  float64
}

// Match records a rule that fired, with the value that triggered it.
type Match struct {
	RuleID string  `json:"ruleId"`
	Kind   string  `json:"kind"`
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// BuildRules produces the ordered rule list for a pack: configured domains
// first, then display-name keywords derived from them, then the pack's
// platform signatures, then keywords.
func BuildRules(pack *config.Pack) []Rule {
	var rules []Rule

	for _, d := range pack.SourceDomains {
		rules = append(rules, Rule{
			ID:      "domain:" + d,
			Kind:    KindDomain,
			Pattern: d,
			Weight:  weightDomain,
		})
	}

	for _, kw := range deriveDisplayKeywords(pack.SourceDomains) {
		rules = append(rules, Rule{
			ID:      "display:" + kw,
			Kind:    KindDisplayName,
			Pattern: kw,
			Weight:  weightDisplayName,
		})
	}

	for _, p := range pack.Rules.Platforms {
		rules = append(rules, Rule{
			ID:      "platform:" + p.Name,
			Kind:    KindPlatform,
			Pattern: strings.ToLower(p.SenderSubstring),
			Weight:  weightPlatform,
		})
	}

	for _, kw := range pack.AllKeywords() {
		rules = append(rules, Rule{
			ID:      "keyword:" + kw,
			Kind:    KindKeyword,
			Pattern: strings.ToLower(kw),
			Weight:  weightKeyword,
		})
	}

	return rules
}

// MatchDomain reports whether a sender domain matches a configured domain
// pattern. Patterns support glob-style wildcards ("*school*.org"); a
// literal pattern also matches its subdomains.
func MatchDomain(pattern, domain string) bool {
	pattern = strings.ToLower(pattern)
	domain = strings.ToLower(domain)

	if pattern == domain {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.HasSuffix(domain, "."+pattern)
	}
	ok, err := path.Match(pattern, domain)
	return err == nil && ok
}

// deriveDisplayKeywords extracts identifying labels from configured domain
// patterns, so mail-relay senders that carry the organization name only in
// the display name still gate. "*waterford*.org" yields "waterford".
func deriveDisplayKeywords(domains []string) []string {
	var keywords []string
	seen := make(map[string]bool)

	for _, d := range domains {
		cleaned := strings.Map(func(r rune) rune {
			if r == '*' || r == '?' || r == '[' || r == ']' {
				return -1
			}
			return r
		}, strings.ToLower(d))

		for _, label := range strings.Split(cleaned, ".") {
			if len(label) < 4 || genericLabels[label] || seen[label] {
				continue
			}
			seen[label] = true
			keywords = append(keywords, label)
		}
	}

	return keywords
}

var genericLabels = map[string]bool{
	"mail":    true,
	"email":   true,
	"smtp":    true,
	"info":    true,
	"news":    true,
	"noreply": true,
}

// SenderDomain extracts the domain portion of an address.
func SenderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(address[at+1:], ">"))
}
