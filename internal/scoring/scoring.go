// Package scoring ranks channels and dates for a submission.  Every function
// here is pure: identical inputs always give identical scores and reasons.
package scoring

import (
	"fmt"
	"strings"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// Reason factor names.
const (
	FactorFamily    = "family_match"
	FactorSubgenre  = "subgenre_match"
	FactorNoFamily  = "family_mismatch"
	FactorTier      = "tier_reciprocity"
	FactorReach     = "reach_efficiency"
	FactorUnderused = "underutilization"
)

// Weights are the business tuning knobs of the scorer.  Each channel factor
// is capped at its weight so no single factor dominates unboundedly.
type Weights struct {
	FamilyMatch      float64 `yaml:"family_match"`
	SubgenreMatch    float64 `yaml:"subgenre_match"`
	FamilyMismatch   float64 `yaml:"family_mismatch"` // subtracted when nothing matches
	TierReciprocity  float64 `yaml:"tier_reciprocity"`
	ReachEfficiency  float64 `yaml:"reach_efficiency"`
	ReachFactorCap   float64 `yaml:"reach_factor_cap"` // reach factors above this earn nothing extra
	Underutilization float64 `yaml:"underutilization"`
	DateCapacity     float64 `yaml:"date_capacity"`
	DateFloorPenalty float64 `yaml:"date_floor_penalty"`
}

// DefaultWeights keep a family match ahead of any combination of the other
// channel factors.
func DefaultWeights() Weights {
	return Weights{
		FamilyMatch:      40,
		SubgenreMatch:    20,
		FamilyMismatch:   30,
		TierReciprocity:  20,
		ReachEfficiency:  15,
		ReachFactorCap:   0.25,
		Underutilization: 5,
		DateCapacity:     100,
		DateFloorPenalty: 50,
	}
}

// Validate rejects weights the scorer cannot work with.
func (w Weights) Validate() error {
	vals := map[string]float64{
		"family_match": w.FamilyMatch, "subgenre_match": w.SubgenreMatch, "family_mismatch": w.FamilyMismatch,
		"tier_reciprocity": w.TierReciprocity, "reach_efficiency": w.ReachEfficiency,
		"underutilization": w.Underutilization, "date_capacity": w.DateCapacity, "date_floor_penalty": w.DateFloorPenalty,
	}
	for k, v := range vals {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative", k)
		}
	}
	if w.ReachFactorCap <= 0 || w.ReachFactorCap > 1 {
		return fmt.Errorf("reach_factor_cap must be in (0,1], got %v", w.ReachFactorCap)
	}
	if w.SubgenreMatch > w.FamilyMatch {
		return fmt.Errorf("subgenre_match (%v) must not exceed family_match (%v)", w.SubgenreMatch, w.FamilyMatch)
	}
	return nil
}

// Scorer binds weights and tier table together.
type Scorer struct {
	Weights Weights
	Tiers   model.TierTable
}

// New returns a Scorer.
func New(w Weights, tt model.TierTable) Scorer { return Scorer{Weights: w, Tiers: tt} }

// ScoreChannel scores how well member m fits submission sub.  Reasons are
// returned in factor order and only for non-zero contributions.
func (s Scorer) ScoreChannel(sub model.Submission, m model.Member) (float64, []model.Reason) {
	var (
		total   float64
		reasons []model.Reason
	)
	add := func(factor string, pts float64, detail string) {
		if pts == 0 {
			return
		}
		total += pts
		reasons = append(reasons, model.Reason{Factor: factor, Points: pts, Detail: detail})
	}

	// 1. family
	switch matched := matchedSubgenres(sub, m); {
	case m.HasFamily(sub.Family):
		add(FactorFamily, s.Weights.FamilyMatch, fmt.Sprintf("audience engages with %q", sub.Family))
	case len(matched) > 0:
		add(FactorSubgenre, s.Weights.SubgenreMatch, "subgenre overlap: "+strings.Join(matched, ","))
	default:
		add(FactorNoFamily, -s.Weights.FamilyMismatch, fmt.Sprintf("no overlap with %q", sub.Family))
	}

	// 2. size-tier reciprocity
	if sub.MemberSizeTier > 0 && m.SizeTier > 0 {
		d := m.SizeTier.Distance(sub.MemberSizeTier)
		pts := s.Weights.TierReciprocity
		if d > 1 {
			pts /= float64(d)
		}
		add(FactorTier, pts, fmt.Sprintf("%s vs submitter %s (distance %d)", m.SizeTier, sub.MemberSizeTier, d))
	}

	// 3. reach efficiency, capped
	rf := m.EffectiveReachFactor(s.Tiers)
	capped := rf
	if capped > s.Weights.ReachFactorCap {
		capped = s.Weights.ReachFactorCap
	}
	if s.Weights.ReachFactorCap > 0 {
		add(FactorReach, s.Weights.ReachEfficiency*capped/s.Weights.ReachFactorCap, fmt.Sprintf("reach factor %.2f", rf))
	}

	// 4. underutilization
	if m.MonthlySubmissionLimit > 0 {
		free := 1 - float64(m.MonthlySubmissionCount)/float64(m.MonthlySubmissionLimit)
		if free < 0 {
			free = 0
		}
		add(FactorUnderused, s.Weights.Underutilization*free,
			fmt.Sprintf("%d/%d monthly submissions used", m.MonthlySubmissionCount, m.MonthlySubmissionLimit))
	}
	return total, reasons
}

// ScoreDate rewards low utilization and penalizes dates whose free channel
// count is under floor.
func (s Scorer) ScoreDate(slot model.DateSlot, floor int) float64 {
	score := s.Weights.DateCapacity * (1 - slot.Utilization())
	if floor > 0 && slot.AvailableChannels < floor {
		short := floor - slot.AvailableChannels
		if short > floor {
			short = floor
		}
		score -= s.Weights.DateFloorPenalty * float64(short) / float64(floor)
	}
	return score
}

// matchedSubgenres lists the submission's subgenres found in the member's
// families, in submission order.
func matchedSubgenres(sub model.Submission, m model.Member) []string {
	var out []string
	for _, g := range sub.Subgenres {
		if m.HasFamily(g) {
			out = append(out, g)
		}
	}
	return out
}
