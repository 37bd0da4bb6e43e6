package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// CommittedLister returns committed bookings scheduled on or after from.
type CommittedLister interface {
	ListCommittedSince(ctx context.Context, from time.Time) ([]model.ScheduleBooking, error)
}

// Rebuild replays committed bookings from the start of now's month into l.
// That covers every date still bookable and every quota month still
// checked.  Each booking is restored under its reservation token so a later
// cancel releases it.  It returns the number of bookings replayed.
func Rebuild(ctx context.Context, l *MemoryLedger, src CommittedLister, now time.Time) (int, error) {
	from := Month(now)
	bookings, err := src.ListCommittedSince(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("rebuild ledger since %s: %w", from.Format(model.DateLayout), err)
	}
	n := 0
	for _, b := range bookings {
		if b.Cancelled() || b.ReservationToken == "" {
			continue
		}
		l.Restore(Token{ID: b.ReservationToken, Date: b.Date, ChannelIDs: b.AssignedChannelIDs})
		n++
	}
	return n, nil
}
