package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/repository"
	"github.com/iliyamo/repost-scheduler/internal/scheduling"
)

type fakeEngine struct {
	booking model.ScheduleBooking
	err     error
	gotSub  model.Submission
	gotDate time.Time
	limit   int
}

func (f *fakeEngine) Schedule(_ context.Context, sub model.Submission) (model.ScheduleBooking, error) {
	f.gotSub = sub
	return f.booking, f.err
}
func (f *fakeEngine) Booking(context.Context, string) (model.ScheduleBooking, error) {
	return f.booking, f.err
}
func (f *fakeEngine) Cancel(context.Context, string) (model.ScheduleBooking, error) {
	return f.booking, f.err
}
func (f *fakeEngine) SuggestDates(_ context.Context, limit int) ([]model.DateSlot, error) {
	f.limit = limit
	return []model.DateSlot{{Date: time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC), MaxDaily: 5, Score: 100}}, f.err
}
func (f *fakeEngine) SuggestChannels(_ context.Context, sub model.Submission, date time.Time) ([]model.ChannelSuggestion, error) {
	f.gotSub, f.gotDate = sub, date
	return []model.ChannelSuggestion{{MemberID: "a", Score: 60}}, f.err
}

func newServer(f *fakeEngine) *echo.Echo {
	e := echo.New()
	h := NewBookingHandler(f, zerolog.Nop())
	e.POST("/v1/bookings", h.Schedule)
	e.GET("/v1/bookings/:id", h.Get)
	e.DELETE("/v1/bookings/:id", h.Cancel)
	e.GET("/v1/dates/suggestions", h.SuggestDates)
	e.POST("/v1/channels/suggestions", h.SuggestChannels)
	return e
}

func do(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func booked() model.ScheduleBooking {
	return model.ScheduleBooking{
		ID:                 "b-1",
		SubmissionID:       "s-1",
		Date:               time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC),
		AssignedChannelIDs: []string{"a", "b"},
		TargetMet:          true,
		Status:             model.BookingCommitted,
	}
}

const scheduleBody = `{"id":" s-1 ","family":"house","subgenres":["deep"],"expected_reach":1500,"member_size_tier":2}`

func TestScheduleCreated(t *testing.T) {
	f := &fakeEngine{booking: booked()}
	rec, out := do(newServer(f), http.MethodPost, "/v1/bookings", scheduleBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if out["target_met"] != true || out["booking"].(map[string]any)["id"] != "b-1" {
		t.Fatalf("body = %v", out)
	}
	if f.gotSub.ID != "s-1" || *f.gotSub.ExpectedReach != 1500 || f.gotSub.MemberSizeTier != 2 || f.gotSub.SubmittedAt.IsZero() {
		t.Fatalf("submission = %+v", f.gotSub)
	}
}

func TestSchedulePartialReachIsCreatedWithWarning(t *testing.T) {
	b := booked()
	b.TargetMet = false
	f := &fakeEngine{booking: b, err: &scheduling.Error{Kind: scheduling.KindPartialReach, Err: errors.New("reached 800 of 1500")}}
	rec, out := do(newServer(f), http.MethodPost, "/v1/bookings", scheduleBody)
	if rec.Code != http.StatusCreated || out["target_met"] != false || out["warning"] == nil {
		t.Fatalf("status = %d body = %v", rec.Code, out)
	}
}

func TestScheduleErrorMapping(t *testing.T) {
	day := time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"capacity", &scheduling.Error{Kind: scheduling.KindCapacity, Date: day, ChannelID: "a", Constraint: ledger.ChannelBusyOnDate,
			Err: &ledger.CapacityError{Constraint: ledger.ChannelBusyOnDate, Date: day, ChannelID: "a"}}, http.StatusConflict, "capacity"},
		{"no capacity", &scheduling.Error{Kind: scheduling.KindNoCapacity}, http.StatusUnprocessableEntity, "no_capacity"},
		{"timeout", &scheduling.Error{Kind: scheduling.KindTimeout, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "timeout"},
		{"internal", &scheduling.Error{Kind: scheduling.KindInternal, Err: errors.New("db")}, http.StatusInternalServerError, "internal"},
		{"invalid", &scheduling.Error{Kind: scheduling.KindInvalid, Err: model.ErrSubmissionFamily}, http.StatusBadRequest, model.ErrSubmissionFamily.Error()},
		{"duplicate", &scheduling.Error{Kind: scheduling.KindInternal, Err: fmt.Errorf("persist: %w", repository.ErrDuplicateSubmission)}, http.StatusConflict, "submission already booked"},
		{"opaque", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := do(newServer(&fakeEngine{err: tc.err}), http.MethodPost, "/v1/bookings", scheduleBody)
			if rec.Code != tc.status || out["error"] != tc.code {
				t.Fatalf("status = %d body = %v", rec.Code, out)
			}
		})
	}

	rec, out := do(newServer(&fakeEngine{err: cases[0].err}), http.MethodPost, "/v1/bookings", scheduleBody)
	if out["constraint"] != "channel_busy_on_date" || out["channel_id"] != "a" || out["date"] != "2030-01-11" {
		t.Fatalf("status = %d detail = %v", rec.Code, out)
	}
}

func TestScheduleBadBody(t *testing.T) {
	rec, _ := do(newServer(&fakeEngine{}), http.MethodPost, "/v1/bookings", `{"id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetAndCancel(t *testing.T) {
	rec, out := do(newServer(&fakeEngine{booking: booked()}), http.MethodGet, "/v1/bookings/b-1", "")
	if rec.Code != http.StatusOK || out["id"] != "b-1" || out["status"] != "committed" {
		t.Fatalf("get: %d %v", rec.Code, out)
	}
	if _, ok := out["reservation_token"]; ok {
		t.Fatal("reservation token must not be exposed")
	}

	rec, _ = do(newServer(&fakeEngine{err: repository.ErrBookingNotFound}), http.MethodGet, "/v1/bookings/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: %d", rec.Code)
	}

	b := booked()
	b.Status = model.BookingCancelled
	rec, out = do(newServer(&fakeEngine{booking: b}), http.MethodDelete, "/v1/bookings/b-1", "")
	if rec.Code != http.StatusOK || out["status"] != "cancelled" {
		t.Fatalf("cancel: %d %v", rec.Code, out)
	}
}

func TestSuggestDates(t *testing.T) {
	f := &fakeEngine{}
	rec, out := do(newServer(f), http.MethodGet, "/v1/dates/suggestions?limit=3", "")
	if rec.Code != http.StatusOK || f.limit != 3 || len(out["dates"].([]any)) != 1 {
		t.Fatalf("status = %d body = %v limit = %d", rec.Code, out, f.limit)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		rec, _ := do(newServer(f), http.MethodGet, "/v1/dates/suggestions?limit="+bad, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: status = %d", bad, rec.Code)
		}
	}
}

func TestSuggestChannels(t *testing.T) {
	f := &fakeEngine{}
	body := `{"submission":{"id":"s-1","family":"house"},"date":"2030-01-12"}`
	rec, out := do(newServer(f), http.MethodPost, "/v1/channels/suggestions", body)
	if rec.Code != http.StatusOK || out["date"] != "2030-01-12" {
		t.Fatalf("status = %d body = %v", rec.Code, out)
	}
	if f.gotDate != time.Date(2030, 1, 12, 0, 0, 0, 0, time.UTC) || f.gotSub.Family != "house" {
		t.Fatalf("engine got %v %+v", f.gotDate, f.gotSub)
	}

	rec, _ = do(newServer(f), http.MethodPost, "/v1/channels/suggestions", `{"submission":{"id":"s"},"date":"12/01/2030"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", Health(map[string]Check{
		"mysql": func(context.Context) error { return nil },
	}))
	rec, out := do(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthy: %d %v", rec.Code, out)
	}

	e = echo.New()
	e.GET("/healthz", Health(map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}))
	rec, out = do(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable || out["failed"].(map[string]any)["redis"] != "connection refused" {
		t.Fatalf("degraded: %d %v", rec.Code, out)
	}
}
