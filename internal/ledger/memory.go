package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// MemoryLedger keeps counters in process.  Each date and each channel owns
// its counters and its mutex, so reservations touching disjoint dates and
// channels run in parallel.  Suitable for a single instance and for tests.
//
// Lock order is the date shard first, then channel shards by ascending id,
// then mu.  mu guards only the shard and token maps and is never held while
// waiting for a shard.
type MemoryLedger struct {
	limits Limits

	mu     sync.Mutex
	dates  map[string]*dateShard
	chans  map[string]*chanShard
	tokens map[string]memToken
}

type dateShard struct {
	sync.Mutex
	count   int
	retired bool // pruned; callers must look the shard up again
}

type chanShard struct {
	sync.Mutex
	daily   map[string]int // by date
	monthly map[string]int // by month
}

type memToken struct {
	date     string
	month    string
	channels []string
}

// NewMemoryLedger returns an empty ledger enforcing limits.
func NewMemoryLedger(limits Limits) *MemoryLedger {
	return &MemoryLedger{
		limits: limits,
		dates:  map[string]*dateShard{},
		chans:  map[string]*chanShard{},
		tokens: map[string]memToken{},
	}
}

// lockDate returns the locked shard for dk, creating it if needed.
func (l *MemoryLedger) lockDate(dk string) *dateShard {
	for {
		l.mu.Lock()
		s, ok := l.dates[dk]
		if !ok {
			s = &dateShard{}
			l.dates[dk] = s
		}
		l.mu.Unlock()

		s.Lock()
		if !s.retired {
			return s
		}
		s.Unlock()
	}
}

// lockChannels locks the shards for ids, which must be sorted and unique.
func (l *MemoryLedger) lockChannels(ids []string) []*chanShard {
	shards := make([]*chanShard, len(ids))
	l.mu.Lock()
	for i, id := range ids {
		s, ok := l.chans[id]
		if !ok {
			s = &chanShard{daily: map[string]int{}, monthly: map[string]int{}}
			l.chans[id] = s
		}
		shards[i] = s
	}
	l.mu.Unlock()
	for _, s := range shards {
		s.Lock()
	}
	return shards
}

func unlockChannels(shards []*chanShard) {
	for i := len(shards) - 1; i >= 0; i-- {
		shards[i].Unlock()
	}
}

func sortedIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func (l *MemoryLedger) Reserve(ctx context.Context, date time.Time, channels []ChannelQuota) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	day := Day(date)
	dk := day.Format(model.DateLayout)
	mk := day.Format(model.MonthLayout)
	channels = uniqueChannels(channels)
	ids := channelIDs(channels)

	ds := l.lockDate(dk)
	defer ds.Unlock()
	order := sortedIDs(ids)
	shards := l.lockChannels(order)
	defer unlockChannels(shards)
	byID := make(map[string]*chanShard, len(order))
	for i, id := range order {
		byID[id] = shards[i]
	}

	if ds.count+1 > l.limits.MaxDailySubmissions {
		return Token{}, &CapacityError{Constraint: DateFull, Date: day}
	}
	for _, c := range channels {
		s := byID[c.ID]
		if s.daily[dk]+1 > l.limits.PerChannelDailyCap {
			return Token{}, &CapacityError{Constraint: ChannelBusyOnDate, Date: day, ChannelID: c.ID}
		}
		if s.monthly[mk] >= c.MonthlyLimit {
			return Token{}, &CapacityError{Constraint: ChannelQuotaExceeded, Date: day, ChannelID: c.ID}
		}
	}
	ds.count++
	for _, s := range shards {
		s.daily[dk]++
		s.monthly[mk]++
	}

	tok := Token{ID: uuid.NewString(), Date: day, ChannelIDs: ids}
	l.mu.Lock()
	l.tokens[tok.ID] = memToken{date: dk, month: mk, channels: order}
	l.mu.Unlock()
	return tok, nil
}

// Restore counts a reservation that was committed before this process
// started.  Limits are not checked: the booking already exists.  Restoring
// a token that is already known is a no-op.
func (l *MemoryLedger) Restore(tok Token) {
	day := Day(tok.Date)
	dk := day.Format(model.DateLayout)
	mk := day.Format(model.MonthLayout)
	order := sortedIDs(tok.ChannelIDs)

	ds := l.lockDate(dk)
	defer ds.Unlock()
	shards := l.lockChannels(order)
	defer unlockChannels(shards)

	l.mu.Lock()
	_, known := l.tokens[tok.ID]
	if !known {
		l.tokens[tok.ID] = memToken{date: dk, month: mk, channels: order}
	}
	l.mu.Unlock()
	if known {
		return
	}
	ds.count++
	for _, s := range shards {
		s.daily[dk]++
		s.monthly[mk]++
	}
}

func (l *MemoryLedger) Release(ctx context.Context, tokenID string) error {
	// whoever removes the token owns the decrement
	l.mu.Lock()
	t, ok := l.tokens[tokenID]
	delete(l.tokens, tokenID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	ds := l.lockDate(t.date)
	defer ds.Unlock()
	shards := l.lockChannels(t.channels)
	defer unlockChannels(shards)

	if ds.count > 0 {
		ds.count--
	}
	for _, s := range shards {
		decr(s.daily, t.date)
		decr(s.monthly, t.month)
	}
	return nil
}

func decr[K comparable](m map[K]int, k K) {
	if m[k] <= 1 {
		delete(m, k)
		return
	}
	m[k]--
}

// Snapshot is advisory, so shards are read one at a time.
func (l *MemoryLedger) Snapshot(ctx context.Context, date time.Time, ids []string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	day := Day(date)
	dk := day.Format(model.DateLayout)
	s := Snapshot{
		Date:          day,
		MaxDaily:      l.limits.MaxDailySubmissions,
		PerChannelCap: l.limits.PerChannelDailyCap,
		ChannelLoad:   make(map[string]int, len(ids)),
	}

	l.mu.Lock()
	ds := l.dates[dk]
	l.mu.Unlock()
	if ds != nil {
		ds.Lock()
		s.ScheduledCount = ds.count
		ds.Unlock()
	}
	for id, cs := range l.channelShards(ids) {
		cs.Lock()
		if n := cs.daily[dk]; n > 0 {
			s.ChannelLoad[id] = n
		}
		cs.Unlock()
	}
	return s, nil
}

func (l *MemoryLedger) MonthlyUsage(ctx context.Context, month time.Time, ids []string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mk := Month(month).Format(model.MonthLayout)
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		out[id] = 0
	}
	for id, cs := range l.channelShards(ids) {
		cs.Lock()
		out[id] = cs.monthly[mk]
		cs.Unlock()
	}
	return out, nil
}

// channelShards returns the existing shards for ids without locking them.
func (l *MemoryLedger) channelShards(ids []string) map[string]*chanShard {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*chanShard, len(ids))
	for _, id := range ids {
		if cs, ok := l.chans[id]; ok {
			out[id] = cs
		}
	}
	return out
}

func (l *MemoryLedger) Prune(ctx context.Context, before time.Time) error {
	dk := Day(before).Format(model.DateLayout)
	mk := Month(before).Format(model.MonthLayout)

	// ISO dates and months compare correctly as strings
	l.mu.Lock()
	stale := map[string]*dateShard{}
	for k, s := range l.dates {
		if k < dk {
			stale[k] = s
		}
	}
	chans := make([]*chanShard, 0, len(l.chans))
	for _, s := range l.chans {
		chans = append(chans, s)
	}
	for id, t := range l.tokens {
		if t.date < dk {
			delete(l.tokens, id)
		}
	}
	l.mu.Unlock()

	for k, s := range stale {
		s.Lock()
		s.retired = true
		s.Unlock()
		l.mu.Lock()
		if l.dates[k] == s {
			delete(l.dates, k)
		}
		l.mu.Unlock()
	}
	for _, s := range chans {
		s.Lock()
		for k := range s.daily {
			if k < dk {
				delete(s.daily, k)
			}
		}
		for k := range s.monthly {
			if k < mk {
				delete(s.monthly, k)
			}
		}
		s.Unlock()
	}
	return nil
}
