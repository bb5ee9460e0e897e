// Package eligibility turns an employee's status tags and supported days into
// tiered eligibility counts and a funding allowance, driven by a declarative rule table.
package eligibility

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
)

// Tier is a bucket a tag can count toward.
type Tier string

const (
	TierAnnex1       Tier = "annex1"
	TierAnnex2Level1 Tier = "annex2_level1"
	TierAnnex2Level2 Tier = "annex2_level2"
	// TierAllowance tags count toward the allowance brackets only, never toward an annex count.
	TierAllowance Tier = "allowance"
)

func (t Tier) valid() bool {
	switch t {
	case TierAnnex1, TierAnnex2Level1, TierAnnex2Level2, TierAllowance:
		return true
	}
	return false
}

// ErrInvalidRules is returned when a rule table fails validation.
var ErrInvalidRules = errors.New("invalid eligibility rules")

//go:embed rules.yaml
var defaultRulesYAML []byte

// TagRule describes how one partner status label contributes.
type TagRule struct {
	ContributesTo  Tier   `yaml:"contributes_to"`
	AliasGroup     string `yaml:"alias_group,omitempty"`
	MinSupportDays int    `yaml:"min_support_days,omitempty"`
}

// Condition is satisfied when at least MinCount distinct criteria reached Tier.
type Condition struct {
	Tier     Tier `yaml:"tier"`
	MinCount int  `yaml:"min_count"`
}

// Bracket grants Amount when any of its conditions holds.
type Bracket struct {
	Amount int         `yaml:"amount"`
	AnyOf  []Condition `yaml:"any_of"`
}

// RuleTable is read-only once loaded; a single table may be shared by many scorers.
type RuleTable struct {
	Tags          map[string]TagRule `yaml:"tags"`
	Brackets      []Bracket          `yaml:"brackets"`
	DefaultAmount int                `yaml:"default_amount"`
}

// ParseRules decodes and validates a YAML rule table. Unknown keys are rejected.
func ParseRules(data []byte) (*RuleTable, error) {
	rt := &RuleTable{}
	if err := yaml.UnmarshalWithOptions(data, rt, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidRules, err)
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return rt, nil
}

// LoadRules reads a rule table from path, or returns the embedded production table when path is empty.
func LoadRules(path string) (*RuleTable, error) {
	if path == "" {
		return ParseRules(defaultRulesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eligibility rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// DefaultRules returns the embedded production rule table.
func DefaultRules() *RuleTable {
	rt, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded eligibility rules: %v", err))
	}
	return rt
}

func (rt *RuleTable) Validate() error {
	if len(rt.Tags) == 0 {
		return fmt.Errorf("%w: no tags", ErrInvalidRules)
	}
	if rt.DefaultAmount < 0 {
		return fmt.Errorf("%w: negative default_amount", ErrInvalidRules)
	}

	aliasTiers := make(map[string]Tier)
	for _, tag := range rt.TagNames() {
		rule := rt.Tags[tag]
		if !rule.ContributesTo.valid() {
			return fmt.Errorf("%w: tag %q has unknown tier %q", ErrInvalidRules, tag, rule.ContributesTo)
		}
		if rule.MinSupportDays < 0 {
			return fmt.Errorf("%w: tag %q has negative min_support_days", ErrInvalidRules, tag)
		}
		if rule.AliasGroup == "" {
			continue
		}
		// An alias group is one criterion, so all of its labels must land in the same tier.
		if tier, ok := aliasTiers[rule.AliasGroup]; ok && tier != rule.ContributesTo {
			return fmt.Errorf("%w: alias group %q spans tiers %s and %s", ErrInvalidRules, rule.AliasGroup, tier, rule.ContributesTo)
		}
		aliasTiers[rule.AliasGroup] = rule.ContributesTo
	}

	for i, b := range rt.Brackets {
		if b.Amount < 0 {
			return fmt.Errorf("%w: bracket %d has negative amount", ErrInvalidRules, i)
		}
		if len(b.AnyOf) == 0 {
			return fmt.Errorf("%w: bracket %d has no condition", ErrInvalidRules, i)
		}
		for _, c := range b.AnyOf {
			if !c.Tier.valid() {
				return fmt.Errorf("%w: bracket %d references unknown tier %q", ErrInvalidRules, i, c.Tier)
			}
			if c.MinCount < 1 {
				return fmt.Errorf("%w: bracket %d condition on %s needs min_count >= 1", ErrInvalidRules, i, c.Tier)
			}
		}
	}
	return nil
}

// TagNames returns the known tags in sorted order.
func (rt *RuleTable) TagNames() []string {
	names := make([]string, 0, len(rt.Tags))
	for name := range rt.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// allowance resolves the first bracket matched by counts.
func (rt *RuleTable) allowance(counts map[Tier]int) int {
	for _, b := range rt.Brackets {
		for _, c := range b.AnyOf {
			if counts[c.Tier] >= c.MinCount {
				return b.Amount
			}
		}
	}
	return rt.DefaultAmount
}
