package scheduling

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/config"
	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
)

// Allocation is the channel set proposed for one date.
type Allocation struct {
	Channels   []model.ChannelSuggestion
	TotalReach int64
	Target     *int64 // nil when the submission carried no reach target
	TargetMet  bool
}

// ChannelIDs returns the selected member ids in selection order.
func (a Allocation) ChannelIDs() []string {
	ids := make([]string, len(a.Channels))
	for i, c := range a.Channels {
		ids[i] = c.MemberID
	}
	return ids
}

// Quotas returns the reservation request for the selection.
func (a Allocation) Quotas() []ledger.ChannelQuota {
	q := make([]ledger.ChannelQuota, len(a.Channels))
	for i, c := range a.Channels {
		q[i] = ledger.ChannelQuota{ID: c.MemberID, MonthlyLimit: c.Member.MonthlySubmissionLimit}
	}
	return q
}

// Allocator scores the member pool for a submission and picks channels.
// Nothing here reserves capacity; the snapshot it reads is advisory.
type Allocator struct {
	ledger Snapshotter
	scorer scoring.Scorer
	cfg    config.Engine
}

func NewAllocator(l Snapshotter, s scoring.Scorer, cfg config.Engine) *Allocator {
	return &Allocator{ledger: l, scorer: s, cfg: cfg}
}

// SuggestChannels scores every active member against sub and drops the ones
// already at their per-date cap on date.  The result is ordered by score,
// then estimated reach, then member id.
func (a *Allocator) SuggestChannels(ctx context.Context, sub model.Submission, date time.Time, pool []model.Member) ([]model.ChannelSuggestion, error) {
	ids := make([]string, 0, len(pool))
	for _, m := range pool {
		if m.Active() {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return []model.ChannelSuggestion{}, nil
	}
	snap, err := a.ledger.Snapshot(ctx, date, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.ChannelSuggestion, 0, len(ids))
	for _, m := range pool {
		if !m.Active() || !snap.Available(m.ID) {
			continue
		}
		score, reasons := a.scorer.ScoreChannel(sub, m)
		out = append(out, model.ChannelSuggestion{
			Member:         m,
			MemberID:       m.ID,
			Handle:         m.Handle,
			Score:          score,
			Reasons:        reasons,
			EstimatedReach: m.EstimatedReach(a.scorer.Tiers),
		})
	}
	slices.SortStableFunc(out, func(x, y model.ChannelSuggestion) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(y.EstimatedReach, x.EstimatedReach); c != 0 {
			return c
		}
		return strings.Compare(x.MemberID, y.MemberID)
	})
	return out, nil
}

// SelectForReachTarget walks the ranked suggestions and takes channels until
// the accumulated reach meets target or the eligible pool runs out.  Members
// whose monthly quota is already used up are skipped.  A shortfall is
// reported through TargetMet, never as an error.
func (a *Allocator) SelectForReachTarget(ctx context.Context, sub model.Submission, date time.Time, pool []model.Member, target int64) (Allocation, error) {
	ranked, err := a.SuggestChannels(ctx, sub, date, pool)
	if err != nil {
		return Allocation{}, err
	}
	alloc := Allocation{Target: &target}
	for _, c := range ranked {
		if alloc.TotalReach >= target {
			break
		}
		if quotaExhausted(c.Member) {
			continue
		}
		alloc.Channels = append(alloc.Channels, c)
		alloc.TotalReach += c.EstimatedReach
	}
	alloc.TargetMet = alloc.TotalReach >= target
	return alloc, nil
}

// Allocate proposes channels for sub on date.  With a reach target it runs
// the greedy target search; without one it takes the configured default
// number of top-ranked channels.
func (a *Allocator) Allocate(ctx context.Context, sub model.Submission, date time.Time, pool []model.Member) (Allocation, error) {
	if sub.ExpectedReach != nil {
		return a.SelectForReachTarget(ctx, sub, date, pool, *sub.ExpectedReach)
	}
	ranked, err := a.SuggestChannels(ctx, sub, date, pool)
	if err != nil {
		return Allocation{}, err
	}
	alloc := Allocation{TargetMet: true}
	for _, c := range ranked {
		if len(alloc.Channels) >= a.cfg.DefaultChannelCount {
			break
		}
		if quotaExhausted(c.Member) {
			continue
		}
		alloc.Channels = append(alloc.Channels, c)
		alloc.TotalReach += c.EstimatedReach
	}
	return alloc, nil
}

func quotaExhausted(m model.Member) bool {
	return m.MonthlySubmissionCount >= m.MonthlySubmissionLimit
}
