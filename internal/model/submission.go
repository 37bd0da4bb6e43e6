package model

import (
	"errors"
	"strings"
	"time"
)

// Submission is a track submitted to the repost network for scheduling.  It
// is created by the intake collaborator and consumed once by the booking
// orchestrator.
type Submission struct {
	ID             string    `json:"id"`
	Family         string    `json:"family"`
	Subgenres      []string  `json:"subgenres,omitempty"`
	ExpectedReach  *int64    `json:"expected_reach,omitempty"` // nil: no target, take default channel count
	MemberSizeTier SizeTier  `json:"member_size_tier"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

var (
	ErrSubmissionID     = errors.New("submission id is required")
	ErrSubmissionFamily = errors.New("submission family is required")
	ErrSubmissionReach  = errors.New("expected reach must be positive")
)

// Validate enforces the submission invariants.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrSubmissionID
	}
	if strings.TrimSpace(s.Family) == "" {
		return ErrSubmissionFamily
	}
	if s.ExpectedReach != nil && *s.ExpectedReach <= 0 {
		return ErrSubmissionReach
	}
	return nil
}
