// Package pool assembles the member pool the schedulers work from: the
// active members from storage with their month usage taken from the
// capacity ledger.
package pool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// MemberLister returns the members eligible for scheduling.
type MemberLister interface {
	ListActive(ctx context.Context) ([]model.Member, error)
}

// UsageReader reports consumed monthly capacity per channel.
type UsageReader interface {
	MonthlyUsage(ctx context.Context, month time.Time, channelIDs []string) (map[string]int, error)
}

// loadTimeout bounds a shared load.  The load outlives any single caller,
// so it cannot run on a caller's deadline.
const loadTimeout = 10 * time.Second

// Source merges stored members with ledger usage.  Concurrent callers
// asking for the same month share one load.
type Source struct {
	members MemberLister
	usage   UsageReader
	group   singleflight.Group
	timeout time.Duration
}

func NewSource(members MemberLister, usage UsageReader) *Source {
	return &Source{members: members, usage: usage, timeout: loadTimeout}
}

// ActiveMembers returns the active members with MonthlySubmissionCount set
// to their usage in month.  The returned slice is owned by the caller.
// Each caller waits on its own ctx; a caller giving up does not fail the
// others sharing the load.
func (s *Source) ActiveMembers(ctx context.Context, month time.Time) ([]model.Member, error) {
	key := month.Format(model.MonthLayout)
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.load(lctx, month)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.([]model.Member)
	out := make([]model.Member, len(shared))
	copy(out, shared)
	return out, nil
}

func (s *Source) load(ctx context.Context, month time.Time) ([]model.Member, error) {
	members, err := s.members.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	active := members[:0]
	for _, m := range members {
		if m.Active() {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return []model.Member{}, nil
	}
	ids := make([]string, len(active))
	for i, m := range active {
		ids[i] = m.ID
	}
	used, err := s.usage.MonthlyUsage(ctx, month, ids)
	if err != nil {
		return nil, fmt.Errorf("monthly usage %s: %w", month.Format(model.MonthLayout), err)
	}
	for i := range active {
		active[i].MonthlySubmissionCount = used[active[i].ID]
	}
	return active, nil
}

// Static is a fixed member list, useful when no database is configured.
type Static []model.Member

func (s Static) ListActive(context.Context) ([]model.Member, error) {
	out := make([]model.Member, len(s))
	copy(out, s)
	return out, nil
}
