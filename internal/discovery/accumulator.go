package discovery

import (
	"sort"
	"strings"
)

// Accumulator gathers per-scan frequency tables. It is created per run
// and threaded through the orchestrator explicitly, so a scan carries no
// shared state and two runs can never bleed counts into each other.
type Accumulator struct {
	SenderDomains map[string]int
	Keywords      map[string]int
	Platforms     map[string]int
	// relayDomains maps base domain (last two DNS labels) to the set of
	// full relay domains observed under it.
	relayDomains map[string]map[string]bool

	EmailsScanned int
	Relevant      int
	Flagged       int
	Failures      int
	Timeouts      int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		SenderDomains: make(map[string]int),
		Keywords:      make(map[string]int),
		Platforms:     make(map[string]int),
		relayDomains:  make(map[string]map[string]bool),
	}
}

func (a *Accumulator) CountDomain(domain string) {
	if domain != "" {
		a.SenderDomains[domain]++
	}
}

func (a *Accumulator) CountKeyword(keyword string) {
	if keyword != "" {
		a.Keywords[keyword]++
	}
}

func (a *Accumulator) CountPlatform(name string) {
	if name != "" {
		a.Platforms[name]++
	}
}

// ObserveRelay records a relevant sender domain that is not yet a
// configured source, grouped under its base domain.
func (a *Accumulator) ObserveRelay(domain string) {
	base := baseDomain(domain)
	if base == "" {
		return
	}
	if a.relayDomains[base] == nil {
		a.relayDomains[base] = make(map[string]bool)
	}
	a.relayDomains[base][domain] = true
}

// baseDomain returns the last two DNS labels of a domain name.
func baseDomain(domain string) string {
	labels := strings.Split(strings.ToLower(strings.TrimSpace(domain)), ".")
	if len(labels) < 2 {
		return ""
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}

// Proposal is one suggested configuration change, ranked by how often
// the scan saw it.
type Proposal struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
}

// Proposals is the config patch a completed scan suggests.
type Proposals struct {
	Sources         []Proposal `json:"sources,omitempty"`
	WildcardSources []Proposal `json:"wildcardSources,omitempty"`
	Keywords        []Proposal `json:"keywords,omitempty"`
	Platforms       []Proposal `json:"platforms,omitempty"`
}

// SessionOutput is the JSON blob persisted on a finalized session.
type SessionOutput struct {
	Proposals     Proposals `json:"proposals"`
	EmailsScanned int       `json:"emailsScanned"`
	Relevant      int       `json:"relevant"`
	Flagged       int       `json:"flagged"`
	Failures      int       `json:"failures"`
	Timeouts      int       `json:"timeouts"`
}

// BuildOutput turns the accumulated counts into ranked proposals.
// Confidence formulas: sources min(count/10, 1), keywords min(freq/20, 1),
// platforms min(occurrences/10, 1).
func (a *Accumulator) BuildOutput() *SessionOutput {
	out := &SessionOutput{
		EmailsScanned: a.EmailsScanned,
		Relevant:      a.Relevant,
		Flagged:       a.Flagged,
		Failures:      a.Failures,
		Timeouts:      a.Timeouts,
	}

	out.Proposals.Sources = rankCounts(a.SenderDomains, 10)
	out.Proposals.Keywords = rankCounts(a.Keywords, 20)
	out.Proposals.Platforms = rankCounts(a.Platforms, 10)

	// A base domain seen through more than one subdomain earns a
	// wildcard source covering the whole relay family.
	for base, subs := range a.relayDomains {
		if len(subs) > 1 {
			out.Proposals.WildcardSources = append(out.Proposals.WildcardSources, Proposal{
				Value:      "*." + base,
				Count:      len(subs),
				Confidence: capRatio(len(subs), 10),
			})
		}
	}
	sort.Slice(out.Proposals.WildcardSources, func(i, j int) bool {
		a, b := out.Proposals.WildcardSources[i], out.Proposals.WildcardSources[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Value < b.Value
	})
	return out
}

func rankCounts(counts map[string]int, denominator int) []Proposal {
	proposals := make([]Proposal, 0, len(counts))
	for value, count := range counts {
		proposals = append(proposals, Proposal{
			Value:      value,
			Count:      count,
			Confidence: capRatio(count, denominator),
		})
	}
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].Count != proposals[j].Count {
			return proposals[i].Count > proposals[j].Count
		}
		return proposals[i].Value < proposals[j].Value
	})
	return proposals
}

func capRatio(count, denominator int) float64 {
	ratio := float64(count) / float64(denominator)
	if ratio > 1 {
		return 1
	}
	return ratio
}
