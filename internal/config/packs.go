package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pack bundles discovery rules and per-family source configuration for one
// slice of family life (school, activities, and so on).
type Pack struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`

	// SourceDomains are the user's explicitly configured sending domains.
	// Glob patterns are supported (e.g. "*school*.org").
	SourceDomains []string `yaml:"source_domains"`

	// Keywords configured by the user, merged with rule keywords at scan time.
	Keywords []string `yaml:"keywords"`

	Rules PackRules `yaml:"rules"`
}

// PackRules are the pack-authored discovery rules.
type PackRules struct {
	Platforms []PlatformSignature `yaml:"platforms"`

	// EventKeywords are high-signal event-type words ("recital", "practice").
	EventKeywords []string `yaml:"event_keywords"`

	// ActionKeywords are action-required words ("rsvp", "permission slip").
	ActionKeywords []string `yaml:"action_keywords"`
}

// PlatformSignature identifies a known sending platform by a sender
// substring (e.g. "noreply@teamsnap.com" → TeamSnap).
type PlatformSignature struct {
	Name            string `yaml:"name"`
	SenderSubstring string `yaml:"sender_substring"`
}

type packsFile struct {
	Packs []Pack `yaml:"packs"`
}

// LoadPacks reads pack definitions from a YAML file.
func LoadPacks(path string) ([]Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read packs file: %w", err)
	}

	var file packsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid packs YAML in %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Packs))
	for _, p := range file.Packs {
		if p.ID == "" {
			return nil, fmt.Errorf("pack without id in %s", path)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pack id %q in %s", p.ID, path)
		}
		seen[p.ID] = true
	}

	return file.Packs, nil
}

// FindPack returns the pack with the given id, or nil.
func FindPack(packs []Pack, id string) *Pack {
	for i := range packs {
		if packs[i].ID == id {
			return &packs[i]
		}
	}
	return nil
}

// AllKeywords returns the pack's rule keywords merged with user keywords.
func (p *Pack) AllKeywords() []string {
	out := make([]string, 0, len(p.Rules.EventKeywords)+len(p.Rules.ActionKeywords)+len(p.Keywords))
	out = append(out, p.Rules.EventKeywords...)
	out = append(out, p.Rules.ActionKeywords...)
	out = append(out, p.Keywords...)
	return out
}
