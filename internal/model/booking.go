package model

import "time"

// BookingStatus is the state of a persisted booking.  Cancelled bookings
// remain as tombstones.
type BookingStatus string

const (
	BookingCommitted BookingStatus = "committed"
	BookingCancelled BookingStatus = "cancelled"
)

// ScheduleBooking is the committed outcome of scheduling a submission.  It
// corresponds to a row in `schedule_bookings`.  Reach figures are snapshots
// taken at booking time and are never recomputed.
type ScheduleBooking struct {
	ID                  string        `json:"id"`                    // schedule_bookings.id
	SubmissionID        string        `json:"submission_id"`         // schedule_bookings.submission_id
	Date                time.Time     `json:"date"`                  // schedule_bookings.scheduled_date
	AssignedChannelIDs  []string      `json:"assigned_channel_ids"`  // schedule_bookings.assigned_channel_ids
	TotalEstimatedReach int64         `json:"total_estimated_reach"` // schedule_bookings.total_estimated_reach
	TargetReach         *int64        `json:"target_reach,omitempty"`
	TargetMet           bool          `json:"target_met"`
	ReservationToken    string        `json:"-"` // schedule_bookings.reservation_token
	Status              BookingStatus `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	CancelledAt         *time.Time    `json:"cancelled_at,omitempty"`
}

// Cancelled reports whether the booking has been tombstoned.
func (b ScheduleBooking) Cancelled() bool { return b.Status == BookingCancelled }
