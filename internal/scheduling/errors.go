package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
)

// Kind tags a scheduling failure.
type Kind string

const (
	KindInvalid      Kind = "invalid_submission"
	KindNoCapacity   Kind = "no_capacity"
	KindCapacity     Kind = "capacity"
	KindPartialReach Kind = "partial_reach"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Sentinels for errors.Is.  A capacity failure also matches
// ledger.ErrCapacity through Unwrap.
var (
	ErrInvalid      = errors.New("invalid submission")
	ErrNoCapacity   = errors.New("no date in the lookahead window has capacity")
	ErrPartialReach = errors.New("reach target not met")
	ErrTimeout      = errors.New("scheduling deadline exceeded")
	ErrInternal     = errors.New("internal scheduling error")

	// ErrNotFound is returned by BestDate when every candidate date is saturated.
	ErrNotFound = errors.New("no candidate date")
)

// Error is the structured failure returned by the orchestrator.  Date,
// ChannelID and Constraint are set whenever they are known so the caller
// can retry with adjusted parameters.
type Error struct {
	Kind       Kind
	Date       time.Time
	ChannelID  string
	Constraint ledger.Constraint
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if !e.Date.IsZero() {
		msg += " on " + e.Date.Format(model.DateLayout)
	}
	if e.ChannelID != "" {
		msg += " channel " + e.ChannelID
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalid:
		return e.Kind == KindInvalid
	case ErrNoCapacity:
		return e.Kind == KindNoCapacity
	case ErrPartialReach:
		return e.Kind == KindPartialReach
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

func capacityFailure(ce *ledger.CapacityError) *Error {
	return &Error{Kind: KindCapacity, Date: ce.Date, ChannelID: ce.ChannelID, Constraint: ce.Constraint, Err: ce}
}

func internal(date time.Time, err error) *Error {
	return &Error{Kind: KindInternal, Date: date, Err: err}
}
