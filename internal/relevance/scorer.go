package relevance

import (
	"strings"
)

// Email carries the fields of one message the scorer looks at.
type Email struct {
	Sender      string // address, e.g. "events@mail3.waterford.org"
	DisplayName string // e.g. "Waterford Elementary PTA"
	Subject     string
	Body        string
	HasICS      bool
}

// Result is the outcome of scoring one email.
type Result struct {
	Score    float64
	Relevant bool
	Matches  []Match

	// DomainMatched is the first configured domain pattern that matched,
	// empty when none did. Later patterns are not consulted.
	DomainMatched string

	// RelayDomain is the sender's domain when the email is relevant but
	// the domain is not itself a configured literal source. The discovery
	// orchestrator groups these for wildcard-source proposals.
	RelayDomain string
}

// Scorer evaluates emails against one pack's ordered rule list.
type Scorer struct {
	rules             []Rule
	configuredDomains []string
}

// NewScorer builds a scorer from an ordered rule list. The configured
// domain patterns drive the domain-bias stage.
func NewScorer(rules []Rule) *Scorer {
	var domains []string
	for _, r := range rules {
		if r.Kind == KindDomain {
			domains = append(domains, r.Pattern)
		}
	}
	return &Scorer{rules: rules, configuredDomains: domains}
}

// Score is a pure function over the email and the scorer's rules. The
// gate is an OR of independent signals; contributions are additive and
// the final score is clamped to [0,1]. An email with no gate signal
// scores exactly 0.
func (s *Scorer) Score(email Email) Result {
	res := Result{}

	senderDomain := SenderDomain(email.Sender)
	senderLower := strings.ToLower(email.Sender)
	displayLower := strings.ToLower(email.DisplayName)
	textLower := strings.ToLower(email.Subject + "\n" + email.Body)

	gateFired := false
	domainMatched := false
	keywordHits := 0

	for _, rule := range s.rules {
		switch rule.Kind {
		case KindDomain:
			// Only the first matching configured domain counts.
			if domainMatched || senderDomain == "" {
				continue
			}
			if MatchDomain(rule.Pattern, senderDomain) {
				domainMatched = true
				gateFired = true
				res.DomainMatched = rule.Pattern
				res.Score = rule.Weight
				res.Matches = append(res.Matches, Match{
					RuleID: rule.ID, Kind: rule.Kind, Value: senderDomain, Weight: rule.Weight,
				})
			}

		case KindDisplayName:
			if domainMatched || res.hasKind(KindDisplayName) {
				continue
			}
			if displayLower != "" && strings.Contains(displayLower, rule.Pattern) {
				gateFired = true
				res.Score = rule.Weight
				res.Matches = append(res.Matches, Match{
					RuleID: rule.ID, Kind: rule.Kind, Value: email.DisplayName, Weight: rule.Weight,
				})
			}

		case KindPlatform:
			if domainMatched || res.hasKind(KindDisplayName) || res.hasKind(KindPlatform) {
				continue
			}
			if rule.Pattern != "" && strings.Contains(senderLower, rule.Pattern) {
				gateFired = true
				res.Score = rule.Weight
				res.Matches = append(res.Matches, Match{
					RuleID: rule.ID, Kind: rule.Kind, Value: email.Sender, Weight: rule.Weight,
				})
			}

		case KindKeyword:
			// Substring matching, not tokenized. Partial-word hits are a
			// documented ambiguity pack authors may rely on.
			if rule.Pattern != "" && strings.Contains(textLower, rule.Pattern) {
				keywordHits++
				res.Matches = append(res.Matches, Match{
					RuleID: rule.ID, Kind: rule.Kind, Value: rule.Pattern, Weight: rule.Weight,
				})
			}
		}
	}

	// Keyword gate needs at least two distinct hits; contribution is
	// additive on top of any sender signal, capped at 0.6.
	if keywordHits >= minKeywordHits {
		gateFired = true
		contribution := weightKeyword * float64(keywordHits)
		if contribution > keywordCap {
			contribution = keywordCap
		}
		res.Score += contribution
	}
	// Below the gate minimum, keyword matches stay visible in Matches
	// but contribute nothing.

	// Domain bias: a fixed penalty, not exclusion. Unknown senders stay
	// eligible when another gate signal fired.
	if len(s.configuredDomains) > 0 && !domainMatched && gateFired {
		res.Score -= domainPenalty
	}

	// Attachment boost: an ICS attachment is near-certain evidence of a
	// real event.
	if email.HasICS {
		if gateFired {
			res.Score += attachmentBoost
		} else {
			gateFired = true
			res.Score = attachmentFloor
		}
		res.Matches = append(res.Matches, Match{
			RuleID: "attachment:ics", Kind: KindAttachment, Value: "text/calendar", Weight: attachmentBoost,
		})
	}

	if !gateFired {
		return Result{}
	}

	res.Score = clamp01(res.Score)
	res.Relevant = true

	if senderDomain != "" && !s.isConfiguredLiteral(senderDomain) {
		res.RelayDomain = senderDomain
	}

	return res
}

func (r *Result) hasKind(kind string) bool {
	for _, m := range r.Matches {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

func (s *Scorer) isConfiguredLiteral(domain string) bool {
	for _, d := range s.configuredDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
