package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/repost-scheduler/internal/config"
	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/repository"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
)

// now is a Thursday afternoon; tomorrow is 2030-01-11.
var now = time.Date(2030, 1, 10, 15, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2030, 1, d, 0, 0, 0, 0, time.UTC) }

func testEngine() config.Engine {
	e := config.DefaultEngine()
	e.LookaheadDays = 3
	e.MaxDailySubmissions = 5
	e.PerChannelDailyCap = 1
	e.DefaultChannelCount = 2
	e.AvailableChannelFloor = 1
	e.ScheduleTimeout = 0
	return e
}

func limitsOf(e config.Engine) ledger.Limits {
	return ledger.Limits{MaxDailySubmissions: e.MaxDailySubmissions, PerChannelDailyCap: e.PerChannelDailyCap}
}

func testScorer() scoring.Scorer { return scoring.New(scoring.DefaultWeights(), model.DefaultTierTable()) }

// member builds an active channel with reach factor 0.5, so its estimated
// reach is half its followers.
func member(id string, followers int64, families ...string) model.Member {
	rf := 0.5
	m := model.Member{
		ID:                     id,
		Handle:                 "@" + id,
		Families:               families,
		ReachFactor:            &rf,
		Status:                 model.MemberActive,
		MonthlySubmissionLimit: 10,
	}
	m.SetFollowerCount(followers, model.DefaultTierTable())
	return m
}

// scenarioPool has estimated reaches 1000, 800 and 500.
func scenarioPool() []model.Member {
	return []model.Member{
		member("c", 1000, "house"),
		member("a", 2000, "house"),
		member("b", 1600, "house"),
	}
}

func reach(n int64) *int64 { return &n }

func submission(id string, target *int64) model.Submission {
	return model.Submission{ID: id, Family: "house", ExpectedReach: target, SubmittedAt: now}
}

type memStore struct {
	mu        sync.Mutex
	bookings  map[string]model.ScheduleBooking
	persistFn func(model.ScheduleBooking) error
}

func newMemStore() *memStore { return &memStore{bookings: map[string]model.ScheduleBooking{}} }

func (s *memStore) PersistBooking(_ context.Context, b model.ScheduleBooking) error {
	if s.persistFn != nil {
		if err := s.persistFn(b); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bookings {
		if existing.SubmissionID == b.SubmissionID {
			return repository.ErrDuplicateSubmission
		}
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *memStore) LoadBooking(_ context.Context, id string) (model.ScheduleBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.ScheduleBooking{}, repository.ErrBookingNotFound
	}
	return b, nil
}

func (s *memStore) MarkCancelled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.Cancelled() {
		return repository.ErrConflict
	}
	b.Status = model.BookingCancelled
	b.CancelledAt = &at
	s.bookings[id] = b
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

type recPublisher struct {
	mu        sync.Mutex
	committed []string
	cancelled []string
}

func (p *recPublisher) BookingCommitted(_ context.Context, b model.ScheduleBooking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = append(p.committed, b.ID)
	return nil
}

func (p *recPublisher) BookingCancelled(_ context.Context, b model.ScheduleBooking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, b.ID)
	return nil
}

// staticMembers serves the same pool for every month.
type staticMembers []model.Member

func (s staticMembers) ActiveMembers(context.Context, time.Time) ([]model.Member, error) {
	out := make([]model.Member, len(s))
	copy(out, s)
	return out, nil
}
