// Package ledger is the single source of truth for consumed scheduling
// capacity: submissions per date, submissions per channel per date and
// submissions per channel per month.  Only the ledger mutates these counters.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// Constraint names the capacity rule a reservation violated.
type Constraint string

const (
	DateFull             Constraint = "date_full"
	ChannelBusyOnDate    Constraint = "channel_busy_on_date"
	ChannelQuotaExceeded Constraint = "channel_quota_exceeded"
)

// ErrCapacity matches every *CapacityError via errors.Is.
var ErrCapacity = errors.New("capacity exhausted")

// CapacityError reports which constraint failed and which entity triggered
// it.  ChannelID is empty for DateFull.
type CapacityError struct {
	Constraint Constraint
	Date       time.Time
	ChannelID  string
}

func (e *CapacityError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("%s on %s", e.Constraint, e.Date.Format(model.DateLayout))
	}
	return fmt.Sprintf("%s: channel %s on %s", e.Constraint, e.ChannelID, e.Date.Format(model.DateLayout))
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

// Limits are the hard caps the ledger enforces.
type Limits struct {
	MaxDailySubmissions int
	PerChannelDailyCap  int
}

// ChannelQuota identifies a channel to reserve and its monthly limit.
type ChannelQuota struct {
	ID           string
	MonthlyLimit int
}

// Token identifies a committed reservation so it can be released.
type Token struct {
	ID         string
	Date       time.Time
	ChannelIDs []string
}

// Snapshot is a read-only view of a date's counters, valid for one decision
// cycle only.
type Snapshot struct {
	Date           time.Time
	ScheduledCount int
	MaxDaily       int
	PerChannelCap  int
	ChannelLoad    map[string]int // submissions already on Date, per channel
}

// Available reports whether channel id is below its per-date cap.
func (s Snapshot) Available(id string) bool { return s.ChannelLoad[id] < s.PerChannelCap }

// AvailableChannels counts the ids below their per-date cap.
func (s Snapshot) AvailableChannels(ids []string) int {
	n := 0
	for _, id := range ids {
		if s.Available(id) {
			n++
		}
	}
	return n
}

// Slot converts the snapshot into the partial DateSlot used for scoring.
func (s Snapshot) Slot(ids []string) model.DateSlot {
	return model.DateSlot{
		Date:              s.Date,
		ScheduledCount:    s.ScheduledCount,
		MaxDaily:          s.MaxDaily,
		AvailableChannels: s.AvailableChannels(ids),
	}
}

// Ledger is the capacity contract.  Reserve and Release are atomic with
// respect to concurrent callers touching the same date or channel.
type Ledger interface {
	// Reserve checks every constraint and, only if all pass, consumes one
	// unit of date capacity and one unit of each channel's daily and monthly
	// capacity.
	Reserve(ctx context.Context, date time.Time, channels []ChannelQuota) (Token, error)
	// Release undoes a reservation.  Releasing an unknown or already
	// released token is a no-op.
	Release(ctx context.Context, tokenID string) error
	Snapshot(ctx context.Context, date time.Time, channelIDs []string) (Snapshot, error)
	// MonthlyUsage returns the month counters for the given channels.
	MonthlyUsage(ctx context.Context, month time.Time, channelIDs []string) (map[string]int, error)
	// Prune drops counters for dates before `before` and months before its month.
	Prune(ctx context.Context, before time.Time) error
}

// Day normalizes t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Month normalizes t to the first day of its month, UTC.
func Month(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// uniqueChannels drops duplicate ids, keeping the first occurrence.
func uniqueChannels(in []ChannelQuota) []ChannelQuota {
	seen := make(map[string]struct{}, len(in))
	out := make([]ChannelQuota, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func channelIDs(in []ChannelQuota) []string {
	out := make([]string, len(in))
	for i, c := range in {
		out[i] = c.ID
	}
	return out
}
