// Package scheduling picks a date and a set of channels for a submission and
// turns the choice into a committed booking.
package scheduling

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/config"
	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
)

// Snapshotter is the read side of the capacity ledger.
type Snapshotter interface {
	Snapshot(ctx context.Context, date time.Time, channelIDs []string) (ledger.Snapshot, error)
}

// DateSelector ranks the dates in the lookahead window.
type DateSelector struct {
	ledger Snapshotter
	scorer scoring.Scorer
	cfg    config.Engine
}

func NewDateSelector(l Snapshotter, s scoring.Scorer, cfg config.Engine) *DateSelector {
	return &DateSelector{ledger: l, scorer: s, cfg: cfg}
}

// Candidates yields the calendar dates from tomorrow through the lookahead
// window.  "Tomorrow" is evaluated in the configured location; the yielded
// values are normalized to UTC midnight, the form the ledger keys on.
func (d *DateSelector) Candidates(now time.Time) iter.Seq[time.Time] {
	loc := d.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := now.In(loc).Date()
	return func(yield func(time.Time) bool) {
		for i := 1; i <= d.cfg.LookaheadDays; i++ {
			if !yield(time.Date(y, m, day+i, 0, 0, 0, 0, time.UTC)) {
				return
			}
		}
	}
}

// SuggestDates snapshots every candidate date against the given channel
// pool and returns the usable ones, best score first.  Equal scores keep the
// earlier date first.  Saturated dates are left out.
func (d *DateSelector) SuggestDates(ctx context.Context, channelIDs []string, now time.Time) ([]model.DateSlot, error) {
	var slots []model.DateSlot
	for date := range d.Candidates(now) {
		snap, err := d.ledger.Snapshot(ctx, date, channelIDs)
		if err != nil {
			return nil, err
		}
		slot := snap.Slot(channelIDs)
		if slot.Saturated() {
			continue
		}
		slot.IsIdeal = slot.Utilization() < d.cfg.HealthyUtilizationThreshold && slot.AvailableChannels > 0
		slot.Score = d.scorer.ScoreDate(slot, d.cfg.AvailableChannelFloor)
		slots = append(slots, slot)
	}
	slices.SortStableFunc(slots, func(a, b model.DateSlot) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})
	return slots, nil
}

// BestDate returns the top-ranked date, or ErrNotFound when every date in
// the window is saturated.
func (d *DateSelector) BestDate(ctx context.Context, channelIDs []string, now time.Time) (model.DateSlot, error) {
	slots, err := d.SuggestDates(ctx, channelIDs, now)
	if err != nil {
		return model.DateSlot{}, err
	}
	if len(slots) == 0 {
		return model.DateSlot{}, ErrNotFound
	}
	return slots[0], nil
}
