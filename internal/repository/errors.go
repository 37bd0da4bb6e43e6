// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as the
// scheduling engine and the handlers to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrBookingNotFound is returned when no booking row matches the lookup.
// Handlers translate this into an HTTP 404 response.
var ErrBookingNotFound = errors.New("booking not found")

// ErrMemberNotFound is returned when no member row matches the lookup.
var ErrMemberNotFound = errors.New("member not found")

// ErrDuplicateSubmission is returned when a booking already exists for the
// submission.  A submission is consumed exactly once.
var ErrDuplicateSubmission = errors.New("submission already booked")

// ErrConflict is returned when an update cannot be applied because the row
// is not in the expected state, such as cancelling a cancelled booking.
var ErrConflict = errors.New("conflict")
