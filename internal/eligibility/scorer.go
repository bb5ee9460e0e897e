package eligibility

import (
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Tally is the eligibility outcome stored on an employee's assessment row.
type Tally struct {
	Annex1       int
	Annex2Level1 int
	Annex2Level2 int
	Allowance    int
	// Unknown lists tags absent from the rule table, sorted. They never affect the counts.
	Unknown []string
}

// Scorer applies a RuleTable. It holds no state between calls.
type Scorer struct {
	rules  *RuleTable
	logger logrus.FieldLogger
}

func NewScorer(rules *RuleTable, logger logrus.FieldLogger) *Scorer {
	if logger == nil {
		nop := logrus.New()
		nop.SetOutput(io.Discard)
		logger = nop
	}
	return &Scorer{rules: rules, logger: logger}
}

// Score counts the distinct criteria reached per tier and resolves the allowance bracket.
//
// Tags sharing an alias group count once. Tags with a minimum number of support days
// are ignored below that threshold. Unknown tags are logged and skipped so that new
// partner vocabulary does not break a sync run.
func (s *Scorer) Score(tags []string, supportDays int) Tally {
	criteria := map[Tier]map[string]struct{}{}
	var unknown []string

	for _, tag := range normalizeTags(tags) {
		rule, ok := s.rules.Tags[tag]
		if !ok {
			unknown = append(unknown, tag)
			continue
		}
		if supportDays < rule.MinSupportDays {
			s.logger.WithFields(logrus.Fields{
				"tag":          tag,
				"support_days": supportDays,
				"min_days":     rule.MinSupportDays,
			}).Debug("eligibility tag below support days threshold")
			continue
		}
		criterion := tag
		if rule.AliasGroup != "" {
			criterion = "alias:" + rule.AliasGroup
		}
		if criteria[rule.ContributesTo] == nil {
			criteria[rule.ContributesTo] = map[string]struct{}{}
		}
		criteria[rule.ContributesTo][criterion] = struct{}{}
	}

	if len(unknown) > 0 {
		s.logger.WithField("tags", unknown).Warn("ignoring unknown eligibility tags")
	}

	counts := make(map[Tier]int, len(criteria))
	for tier, set := range criteria {
		counts[tier] = len(set)
	}
	return Tally{
		Annex1:       counts[TierAnnex1],
		Annex2Level1: counts[TierAnnex2Level1],
		Annex2Level2: counts[TierAnnex2Level2],
		Allowance:    s.rules.allowance(counts),
		Unknown:      unknown,
	}
}

// normalizeTags trims, drops blanks and de-duplicates without touching the caller's slice.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
