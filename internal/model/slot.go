package model

import "time"

// DateLayout is the calendar-date format used in keys, rows and payloads.
const DateLayout = "2006-01-02"

// MonthLayout identifies a quota month.
const MonthLayout = "2006-01"

// DateSlot describes one candidate calendar date.  It is computed on demand
// from a ledger snapshot and never persisted.
type DateSlot struct {
	Date              time.Time `json:"date"`
	ScheduledCount    int       `json:"scheduled_count"`
	MaxDaily          int       `json:"max_daily"`
	AvailableChannels int       `json:"available_channels"`
	IsIdeal           bool      `json:"is_ideal"`
	Score             float64   `json:"score"`
}

// Saturated reports whether no further booking can land on this date.
func (s DateSlot) Saturated() bool {
	return s.ScheduledCount >= s.MaxDaily || s.AvailableChannels <= 0
}

// Utilization is scheduled/max in [0,1].
func (s DateSlot) Utilization() float64 {
	if s.MaxDaily <= 0 {
		return 1
	}
	u := float64(s.ScheduledCount) / float64(s.MaxDaily)
	if u > 1 {
		return 1
	}
	return u
}

// Reason is one scoring contribution, kept so a ranking can be explained.
type Reason struct {
	Factor string  `json:"factor"`
	Points float64 `json:"points"`
	Detail string  `json:"detail"`
}

func (r Reason) String() string { return r.Factor + ": " + r.Detail }

// ChannelSuggestion is a scored candidate channel for a submission.
type ChannelSuggestion struct {
	Member         Member   `json:"-"`
	MemberID       string   `json:"member_id"`
	Handle         string   `json:"handle"`
	Score          float64  `json:"score"`
	Reasons        []Reason `json:"reasons"`
	EstimatedReach int64    `json:"estimated_reach"`
}
