package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/middleware"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/repository"
	"github.com/iliyamo/repost-scheduler/internal/scheduling"
)

// BookingEngine is the scheduling surface the API exposes.
type BookingEngine interface {
	Schedule(ctx context.Context, sub model.Submission) (model.ScheduleBooking, error)
	Booking(ctx context.Context, id string) (model.ScheduleBooking, error)
	Cancel(ctx context.Context, id string) (model.ScheduleBooking, error)
	SuggestDates(ctx context.Context, limit int) ([]model.DateSlot, error)
	SuggestChannels(ctx context.Context, sub model.Submission, date time.Time) ([]model.ChannelSuggestion, error)
}

// BookingHandler serves the booking and suggestion endpoints.  All methods
// assume JWT authentication and role checks ran in middleware.
type BookingHandler struct {
	Engine BookingEngine
	Log    zerolog.Logger
}

// NewBookingHandler constructs a BookingHandler.  engine must be non-nil.
func NewBookingHandler(engine BookingEngine, log zerolog.Logger) *BookingHandler {
	if engine == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: engine, Log: log.With().Str("component", "http").Logger()}
}

// submissionRequest is the JSON body of a scheduling request.
type submissionRequest struct {
	ID             string   `json:"id"`
	Family         string   `json:"family"`
	Subgenres      []string `json:"subgenres"`
	ExpectedReach  *int64   `json:"expected_reach"`
	MemberSizeTier int      `json:"member_size_tier"`
}

func (r submissionRequest) submission(now time.Time) model.Submission {
	return model.Submission{
		ID:             strings.TrimSpace(r.ID),
		Family:         strings.TrimSpace(r.Family),
		Subgenres:      r.Subgenres,
		ExpectedReach:  r.ExpectedReach,
		MemberSizeTier: model.SizeTier(r.MemberSizeTier),
		SubmittedAt:    now.UTC(),
	}
}

// Schedule handles POST /v1/bookings.  It returns 201 with the booking.  A
// booking that fell short of its reach target is still 201, with
// target_met=false and a warning.
func (h *BookingHandler) Schedule(c echo.Context) error {
	var body submissionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.Engine.Schedule(c.Request().Context(), body.submission(time.Now()))
	if errors.Is(err, scheduling.ErrPartialReach) {
		return c.JSON(http.StatusCreated, echo.Map{
			"booking":    b,
			"target_met": false,
			"warning":    err.Error(),
		})
	}
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking": b, "target_met": b.TargetMet})
}

// Get handles GET /v1/bookings/:id, including cancelled tombstones.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.Engine.Booking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles DELETE /v1/bookings/:id.  Cancelling twice returns the
// same tombstone.
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.Engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	h.Log.Info().Str("booking_id", b.ID).Str("by", middleware.UserID(c)).Msg("cancel requested")
	return c.JSON(http.StatusOK, b)
}

// SuggestDates handles GET /v1/dates/suggestions?limit=N.
func (h *BookingHandler) SuggestDates(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
		}
		limit = n
	}
	slots, err := h.Engine.SuggestDates(c.Request().Context(), limit)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"dates": slots})
}

// SuggestChannels handles POST /v1/channels/suggestions.  The body carries
// the submission and the date to rank channels for.
func (h *BookingHandler) SuggestChannels(c echo.Context) error {
	var body struct {
		Submission submissionRequest `json:"submission"`
		Date       string            `json:"date"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := time.Parse(model.DateLayout, body.Date)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	}
	chans, err := h.Engine.SuggestChannels(c.Request().Context(), body.Submission.submission(time.Now()), date)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"date": body.Date, "channels": chans})
}

// writeError maps engine and repository errors to HTTP responses.
func (h *BookingHandler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrDuplicateSubmission):
		return c.JSON(http.StatusConflict, echo.Map{"error": "submission already booked"})
	case errors.Is(err, scheduling.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": errors.Unwrap(err).Error()})
	}

	var se *scheduling.Error
	if !errors.As(err, &se) {
		h.Log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": string(se.Kind)}
	if !se.Date.IsZero() {
		body["date"] = se.Date.Format(model.DateLayout)
	}
	if se.ChannelID != "" {
		body["channel_id"] = se.ChannelID
	}
	if se.Constraint != "" {
		body["constraint"] = se.Constraint
	}
	switch se.Kind {
	case scheduling.KindCapacity:
		return c.JSON(http.StatusConflict, body)
	case scheduling.KindNoCapacity:
		return c.JSON(http.StatusUnprocessableEntity, body)
	case scheduling.KindTimeout:
		return c.JSON(http.StatusGatewayTimeout, body)
	}
	h.Log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, body)
}
