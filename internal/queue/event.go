// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// Queue names.  Routing keys on the default exchange equal the queue name.
const (
	BookingCommittedQueue = "booking.committed"
	BookingCancelledQueue = "booking.cancelled"
)

// BookingCommittedEvent is published once a booking has been reserved and
// persisted.  It carries the reach snapshot taken at booking time so
// consumers never need to query the primary database.
type BookingCommittedEvent struct {
	BookingID           string   `json:"booking_id"`
	SubmissionID        string   `json:"submission_id"`
	Date                string   `json:"date"`
	ChannelIDs          []string `json:"channel_ids"`
	TotalEstimatedReach int64    `json:"total_estimated_reach"`
	TargetReach         *int64   `json:"target_reach,omitempty"`
	TargetMet           bool     `json:"target_met"`
	CommittedAt         string   `json:"committed_at"`
}

// BookingCancelledEvent is published after a booking is tombstoned and its
// capacity released.
type BookingCancelledEvent struct {
	BookingID    string   `json:"booking_id"`
	SubmissionID string   `json:"submission_id"`
	Date         string   `json:"date"`
	ChannelIDs   []string `json:"channel_ids"`
	CancelledAt  string   `json:"cancelled_at"`
}

// CommittedEvent builds the payload for a committed booking.
func CommittedEvent(b model.ScheduleBooking) BookingCommittedEvent {
	return BookingCommittedEvent{
		BookingID:           b.ID,
		SubmissionID:        b.SubmissionID,
		Date:                b.Date.Format(model.DateLayout),
		ChannelIDs:          b.AssignedChannelIDs,
		TotalEstimatedReach: b.TotalEstimatedReach,
		TargetReach:         b.TargetReach,
		TargetMet:           b.TargetMet,
		CommittedAt:         b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CancelledEvent builds the payload for a cancelled booking.
func CancelledEvent(b model.ScheduleBooking) BookingCancelledEvent {
	at := time.Now().UTC()
	if b.CancelledAt != nil {
		at = b.CancelledAt.UTC()
	}
	return BookingCancelledEvent{
		BookingID:    b.ID,
		SubmissionID: b.SubmissionID,
		Date:         b.Date.Format(model.DateLayout),
		ChannelIDs:   b.AssignedChannelIDs,
		CancelledAt:  at.Format(time.RFC3339),
	}
}
