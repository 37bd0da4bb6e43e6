package model

import (
	"fmt"
	"time"
)

// MemberStatus is the lifecycle state of a channel.  Members are never hard
// deleted while bookings reference them; they are paused or suspended.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberPaused    MemberStatus = "paused"
	MemberSuspended MemberStatus = "suspended"
)

// ParseMemberStatus maps a stored status string to a MemberStatus.
func ParseMemberStatus(s string) (MemberStatus, error) {
	switch MemberStatus(s) {
	case MemberActive, MemberPaused, MemberSuspended:
		return MemberStatus(s), nil
	}
	return "", fmt.Errorf("unknown member status %q", s)
}

// SizeTier is an ordered bucket derived from a follower count.  Tier 1 is
// the smallest.  The zero value means "not computed".
type SizeTier int

func (t SizeTier) String() string { return fmt.Sprintf("T%d", int(t)) }

// Distance returns the absolute number of tiers between t and o.
func (t SizeTier) Distance(o SizeTier) int {
	d := int(t) - int(o)
	if d < 0 {
		return -d
	}
	return d
}

// TierTable holds the follower-count breakpoints that separate tiers and the
// default reach factor used for each tier when a member has none calibrated.
// Breakpoints must be strictly ascending; a table with n breakpoints yields
// tiers T1..T(n+1).
type TierTable struct {
	Breakpoints  []int64   // lower bound (inclusive) of T2, T3, ...
	DefaultReach []float64 // indexed by tier-1; len == len(Breakpoints)+1
}

// DefaultTierTable is used when no tuning file overrides it.
func DefaultTierTable() TierTable {
	return TierTable{
		Breakpoints:  []int64{1_000, 10_000, 50_000, 250_000},
		DefaultReach: []float64{0.10, 0.08, 0.06, 0.05, 0.04},
	}
}

// Validate reports whether the table is usable.
func (tt TierTable) Validate() error {
	for i := 1; i < len(tt.Breakpoints); i++ {
		if tt.Breakpoints[i] <= tt.Breakpoints[i-1] {
			return fmt.Errorf("tier breakpoints must be ascending: %d after %d", tt.Breakpoints[i], tt.Breakpoints[i-1])
		}
	}
	if len(tt.DefaultReach) != len(tt.Breakpoints)+1 {
		return fmt.Errorf("need %d default reach factors, got %d", len(tt.Breakpoints)+1, len(tt.DefaultReach))
	}
	for i, f := range tt.DefaultReach {
		if f < 0 || f > 1 {
			return fmt.Errorf("default reach factor for T%d out of [0,1]: %v", i+1, f)
		}
	}
	return nil
}

// TierFor classifies a follower count.
func (tt TierTable) TierFor(followers int64) SizeTier {
	tier := 1
	for _, bp := range tt.Breakpoints {
		if followers < bp {
			break
		}
		tier++
	}
	return SizeTier(tier)
}

// ReachFor returns the default reach factor of a tier.  Unknown tiers fall
// back to the closest configured one.
func (tt TierTable) ReachFor(t SizeTier) float64 {
	if len(tt.DefaultReach) == 0 {
		return 0
	}
	i := int(t) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(tt.DefaultReach) {
		i = len(tt.DefaultReach) - 1
	}
	return tt.DefaultReach[i]
}

// Member is a channel in the repost network.  It corresponds to a row in the
// `members` table plus the monthly usage counter owned by the capacity
// ledger.
type Member struct {
	ID                     string       // members.id
	Name                   string       // members.name
	Handle                 string       // members.handle
	FollowerCount          int64        // members.follower_count
	SizeTier               SizeTier     // members.size_tier, derived from FollowerCount
	Families               []string     // members.families (JSON array)
	ReachFactor            *float64     // members.reach_factor (nullable)
	Status                 MemberStatus // members.status
	MonthlySubmissionCount int          // ledger month counter, overlaid at load time
	MonthlySubmissionLimit int          // members.monthly_submission_limit
	CreatedAt              time.Time    // members.created_at
	UpdatedAt              time.Time    // members.updated_at
}

// SetFollowerCount updates the follower count and recomputes the size tier so
// the two never drift apart.
func (m *Member) SetFollowerCount(n int64, tt TierTable) {
	if n < 0 {
		n = 0
	}
	m.FollowerCount = n
	m.SizeTier = tt.TierFor(n)
}

// EffectiveReachFactor returns the calibrated reach factor, or the tier
// default when none is set.  The result is clamped to [0,1].
func (m Member) EffectiveReachFactor(tt TierTable) float64 {
	f := tt.ReachFor(m.SizeTier)
	if m.ReachFactor != nil {
		f = *m.ReachFactor
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// EstimatedReach is followerCount × reachFactor, rounded down.
func (m Member) EstimatedReach(tt TierTable) int64 {
	return int64(float64(m.FollowerCount) * m.EffectiveReachFactor(tt))
}

// HasFamily reports whether the member's audience engages with family f.
func (m Member) HasFamily(f string) bool {
	for _, x := range m.Families {
		if x == f {
			return true
		}
	}
	return false
}

// Active reports whether the member is eligible for allocation.
func (m Member) Active() bool { return m.Status == MemberActive }
