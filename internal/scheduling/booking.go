package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/config"
	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
)

// State is a step of the per-submission scheduling state machine.
type State string

const (
	StateReceived         State = "received"
	StateDateChosen       State = "date_chosen"
	StateChannelsProposed State = "channels_proposed"
	StateReserving        State = "reserving"
	StateCommitted        State = "committed"
	StateFailed           State = "failed"
)

// BookingStore persists bookings.  MarkCancelled must fail when the booking
// is not in the committed state.
type BookingStore interface {
	PersistBooking(ctx context.Context, b model.ScheduleBooking) error
	LoadBooking(ctx context.Context, id string) (model.ScheduleBooking, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) error
}

// MemberSource supplies the active member pool with month usage applied.
type MemberSource interface {
	ActiveMembers(ctx context.Context, month time.Time) ([]model.Member, error)
}

// ChannelPlanner proposes channels for a chosen date.
type ChannelPlanner interface {
	Allocate(ctx context.Context, sub model.Submission, date time.Time, pool []model.Member) (Allocation, error)
}

// Publisher is notified after a booking is committed or cancelled.
type Publisher interface {
	BookingCommitted(ctx context.Context, b model.ScheduleBooking) error
	BookingCancelled(ctx context.Context, b model.ScheduleBooking) error
}

type nopPublisher struct{}

func (nopPublisher) BookingCommitted(context.Context, model.ScheduleBooking) error { return nil }
func (nopPublisher) BookingCancelled(context.Context, model.ScheduleBooking) error { return nil }

// Deps wires an Orchestrator.  Publisher and Now are optional.
type Deps struct {
	Ledger    ledger.Ledger
	Members   MemberSource
	Store     BookingStore
	Scorer    scoring.Scorer
	Engine    config.Engine
	Publisher Publisher
	Planner   ChannelPlanner // defaults to an Allocator over Ledger
	Log       zerolog.Logger
	Now       func() time.Time
}

// Orchestrator turns a submission into a committed booking.
type Orchestrator struct {
	ledger  ledger.Ledger
	members MemberSource
	store   BookingStore
	dates   *DateSelector
	alloc   *Allocator
	planner ChannelPlanner
	pub     Publisher
	cfg     config.Engine
	log     zerolog.Logger
	now     func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		ledger:  d.Ledger,
		members: d.Members,
		store:   d.Store,
		dates:   NewDateSelector(d.Ledger, d.Scorer, d.Engine),
		alloc:   NewAllocator(d.Ledger, d.Scorer, d.Engine),
		planner: d.Planner,
		pub:     d.Publisher,
		cfg:     d.Engine,
		log:     d.Log.With().Str("component", "orchestrator").Logger(),
		now:     d.Now,
	}
	if o.planner == nil {
		o.planner = o.alloc
	}
	if o.pub == nil {
		o.pub = nopPublisher{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Schedule picks a date and channels for sub, reserves the capacity and
// persists the booking.  A reservation that loses a race is retried once
// with fresh snapshots.  When the reach target is not met the booking is
// still committed and returned together with a KindPartialReach error.
func (o *Orchestrator) Schedule(ctx context.Context, sub model.Submission) (model.ScheduleBooking, error) {
	if err := sub.Validate(); err != nil {
		return model.ScheduleBooking{}, &Error{Kind: KindInvalid, Err: err}
	}
	if o.cfg.ScheduleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ScheduleTimeout)
		defer cancel()
	}
	log := o.log.With().Str("submission_id", sub.ID).Logger()

	const attempts = 2
	var lost *ledger.CapacityError
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.ScheduleBooking{}, o.timeout(log, lost, err)
		}
		b, err := o.attempt(ctx, log, sub)
		if err == nil {
			return o.committed(ctx, log, b)
		}
		var ce *ledger.CapacityError
		if !errors.As(err, &ce) {
			return model.ScheduleBooking{}, err
		}
		lost = ce
		log.Info().
			Int("attempt", attempt).
			Str("date", ce.Date.Format(model.DateLayout)).
			Str("channel_id", ce.ChannelID).
			Str("constraint", string(ce.Constraint)).
			Msg("reservation lost to concurrent booking")
	}
	log.Warn().Str("state", string(StateFailed)).Str("constraint", string(lost.Constraint)).Msg("capacity exhausted after retry")
	return model.ScheduleBooking{}, capacityFailure(lost)
}

// attempt runs the state machine once.  A *ledger.CapacityError return
// means the reservation raced and the caller may retry.
func (o *Orchestrator) attempt(ctx context.Context, log zerolog.Logger, sub model.Submission) (model.ScheduleBooking, error) {
	now := o.now()
	log.Debug().Str("state", string(StateReceived)).Send()

	date, alloc, err := o.propose(ctx, log, sub, now)
	if err != nil {
		return model.ScheduleBooking{}, err
	}
	log.Debug().Str("state", string(StateChannelsProposed)).Strs("channels", alloc.ChannelIDs()).Int64("reach", alloc.TotalReach).Send()

	if err := ctx.Err(); err != nil {
		return model.ScheduleBooking{}, &Error{Kind: KindTimeout, Date: date, Err: err}
	}

	// Past this point the call runs to completion; the deadline no longer
	// applies to ledger or store writes.
	log.Debug().Str("state", string(StateReserving)).Send()
	bg := context.WithoutCancel(ctx)
	tok, err := o.ledger.Reserve(bg, date, alloc.Quotas())
	if err != nil {
		var ce *ledger.CapacityError
		if errors.As(err, &ce) {
			return model.ScheduleBooking{}, ce
		}
		return model.ScheduleBooking{}, internal(date, fmt.Errorf("reserve: %w", err))
	}

	b := model.ScheduleBooking{
		ID:                  uuid.NewString(),
		SubmissionID:        sub.ID,
		Date:                date,
		AssignedChannelIDs:  tok.ChannelIDs,
		TotalEstimatedReach: alloc.TotalReach,
		TargetReach:         alloc.Target,
		TargetMet:           alloc.TargetMet,
		ReservationToken:    tok.ID,
		Status:              model.BookingCommitted,
		CreatedAt:           now.UTC(),
	}
	if err := o.store.PersistBooking(bg, b); err != nil {
		if rerr := o.ledger.Release(bg, tok.ID); rerr != nil {
			log.Error().Err(rerr).Str("token", tok.ID).Msg("release after failed persist")
		}
		return model.ScheduleBooking{}, internal(date, fmt.Errorf("persist booking: %w", err))
	}
	return b, nil
}

// propose picks the date and channel set.  Dates are tried in rank order
// until one yields channels: the date ranking counts a channel free on a
// day even when its monthly quota is spent, so the best date can still come
// back empty while a date in the next quota month fits.
func (o *Orchestrator) propose(ctx context.Context, log zerolog.Logger, sub model.Submission, now time.Time) (time.Time, Allocation, error) {
	firstMonth := ledger.Month(o.firstCandidate(now))
	pools := map[time.Time][]model.Member{}
	poolFor := func(month time.Time) ([]model.Member, error) {
		if p, ok := pools[month]; ok {
			return p, nil
		}
		p, err := o.members.ActiveMembers(ctx, month)
		if err != nil {
			return nil, err
		}
		pools[month] = p
		return p, nil
	}

	pool, err := poolFor(firstMonth)
	if err != nil {
		return time.Time{}, Allocation{}, o.failure(ctx, time.Time{}, fmt.Errorf("load member pool: %w", err))
	}
	slots, err := o.dates.SuggestDates(ctx, memberIDs(pool), now)
	if err != nil {
		return time.Time{}, Allocation{}, o.failure(ctx, time.Time{}, fmt.Errorf("select date: %w", err))
	}
	if len(slots) == 0 {
		log.Warn().Str("state", string(StateFailed)).Int("lookahead_days", o.cfg.LookaheadDays).Msg("no date with capacity")
		return time.Time{}, Allocation{}, &Error{Kind: KindNoCapacity, Err: ErrNotFound}
	}

	for _, slot := range slots {
		date := slot.Date
		log.Debug().Str("state", string(StateDateChosen)).Str("date", date.Format(model.DateLayout)).Float64("score", slot.Score).Send()
		pool, err := poolFor(ledger.Month(date))
		if err != nil {
			return time.Time{}, Allocation{}, o.failure(ctx, date, fmt.Errorf("load member pool: %w", err))
		}
		alloc, err := o.planner.Allocate(ctx, sub, date, pool)
		if err != nil {
			return time.Time{}, Allocation{}, o.failure(ctx, date, fmt.Errorf("allocate channels: %w", err))
		}
		if len(alloc.Channels) > 0 {
			return date, alloc, nil
		}
		log.Debug().Str("date", date.Format(model.DateLayout)).Msg("no eligible channels, trying next date")
	}
	first := slots[0].Date
	log.Warn().Str("state", string(StateFailed)).Int("dates_tried", len(slots)).Msg("no eligible channels on any date")
	return time.Time{}, Allocation{}, &Error{Kind: KindNoCapacity, Date: first, Err: errors.New("no eligible channels in window")}
}

func (o *Orchestrator) committed(ctx context.Context, log zerolog.Logger, b model.ScheduleBooking) (model.ScheduleBooking, error) {
	log.Info().
		Str("state", string(StateCommitted)).
		Str("booking_id", b.ID).
		Str("date", b.Date.Format(model.DateLayout)).
		Strs("channels", b.AssignedChannelIDs).
		Int64("reach", b.TotalEstimatedReach).
		Bool("target_met", b.TargetMet).
		Msg("booking committed")
	if err := o.pub.BookingCommitted(context.WithoutCancel(ctx), b); err != nil {
		log.Error().Err(err).Str("booking_id", b.ID).Msg("publish booking committed")
	}
	if !b.TargetMet {
		return b, &Error{Kind: KindPartialReach, Date: b.Date,
			Err: fmt.Errorf("reached %d of %d", b.TotalEstimatedReach, *b.TargetReach)}
	}
	return b, nil
}

// failure classifies an error from a read step: deadline problems become
// KindTimeout, everything else KindInternal.
func (o *Orchestrator) failure(ctx context.Context, date time.Time, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Date: date, Err: err}
	}
	return internal(date, err)
}

func (o *Orchestrator) timeout(log zerolog.Logger, lost *ledger.CapacityError, err error) error {
	e := &Error{Kind: KindTimeout, Err: err}
	if lost != nil {
		e.Date, e.ChannelID, e.Constraint = lost.Date, lost.ChannelID, lost.Constraint
	}
	log.Warn().Err(err).Str("state", string(StateFailed)).Msg("scheduling deadline exceeded")
	return e
}

func (o *Orchestrator) firstCandidate(now time.Time) time.Time {
	for d := range o.dates.Candidates(now) {
		return d
	}
	return ledger.Day(now)
}

// Cancel tombstones a booking and releases its capacity.  Cancelling a
// booking that is already cancelled returns the tombstone unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (model.ScheduleBooking, error) {
	b, err := o.store.LoadBooking(ctx, id)
	if err != nil {
		return model.ScheduleBooking{}, err
	}
	log := o.log.With().Str("booking_id", b.ID).Str("submission_id", b.SubmissionID).Logger()
	if b.Cancelled() {
		// A previous cancel may have stopped before the release.
		if err := o.ledger.Release(ctx, b.ReservationToken); err != nil {
			return b, internal(b.Date, fmt.Errorf("release: %w", err))
		}
		return b, nil
	}

	at := o.now().UTC()
	if err := o.store.MarkCancelled(ctx, b.ID, at); err != nil {
		// Lost a race with another cancel: report the stored tombstone.
		if cur, lerr := o.store.LoadBooking(ctx, id); lerr == nil && cur.Cancelled() {
			return cur, nil
		}
		return model.ScheduleBooking{}, internal(b.Date, fmt.Errorf("mark cancelled: %w", err))
	}
	if err := o.ledger.Release(ctx, b.ReservationToken); err != nil {
		return model.ScheduleBooking{}, internal(b.Date, fmt.Errorf("release: %w", err))
	}
	b.Status = model.BookingCancelled
	b.CancelledAt = &at
	log.Info().Str("date", b.Date.Format(model.DateLayout)).Msg("booking cancelled")
	if err := o.pub.BookingCancelled(context.WithoutCancel(ctx), b); err != nil {
		log.Error().Err(err).Msg("publish booking cancelled")
	}
	return b, nil
}

// Booking loads a booking, including cancelled tombstones.
func (o *Orchestrator) Booking(ctx context.Context, id string) (model.ScheduleBooking, error) {
	return o.store.LoadBooking(ctx, id)
}

// SuggestDates ranks the lookahead window against the current pool.  A
// positive limit truncates the result.
func (o *Orchestrator) SuggestDates(ctx context.Context, limit int) ([]model.DateSlot, error) {
	now := o.now()
	pool, err := o.members.ActiveMembers(ctx, ledger.Month(o.firstCandidate(now)))
	if err != nil {
		return nil, err
	}
	slots, err := o.dates.SuggestDates(ctx, memberIDs(pool), now)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return slots, nil
}

// SuggestChannels ranks the pool for sub on date without reserving anything.
func (o *Orchestrator) SuggestChannels(ctx context.Context, sub model.Submission, date time.Time) ([]model.ChannelSuggestion, error) {
	if err := sub.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	date = ledger.Day(date)
	pool, err := o.members.ActiveMembers(ctx, ledger.Month(date))
	if err != nil {
		return nil, err
	}
	return o.alloc.SuggestChannels(ctx, sub, date, pool)
}

func memberIDs(pool []model.Member) []string {
	ids := make([]string, 0, len(pool))
	for _, m := range pool {
		if m.Active() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
