package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// reserveScript checks every constraint and increments all counters in one
// atomic step.  Keys touched are remembered under the token key so release
// can undo exactly what was done.
//
//	KEYS: date, token, chanDay[1..n], chanMonth[1..n]
//	ARGV: maxDaily, perChannelCap, n, monthlyLimit[1..n], ttlSeconds
//	returns {code, index}: 0 ok, 1 date full, 2 channel busy, 3 quota exceeded
var reserveScript = redis.NewScript(`
	local n = tonumber(ARGV[3])
	local scheduled = tonumber(redis.call('GET', KEYS[1]) or '0')
	if scheduled + 1 > tonumber(ARGV[1]) then
		return {1, 0}
	end
	for i = 1, n do
		local busy = tonumber(redis.call('GET', KEYS[2 + i]) or '0')
		if busy + 1 > tonumber(ARGV[2]) then
			return {2, i}
		end
		local used = tonumber(redis.call('GET', KEYS[2 + n + i]) or '0')
		if used >= tonumber(ARGV[3 + i]) then
			return {3, i}
		end
	end

	local ttl = tonumber(ARGV[4 + n])
	redis.call('INCR', KEYS[1])
	redis.call('EXPIRE', KEYS[1], ttl)
	redis.call('RPUSH', KEYS[2], KEYS[1])
	for i = 1, 2 * n do
		redis.call('INCR', KEYS[2 + i])
		redis.call('EXPIRE', KEYS[2 + i], ttl)
		redis.call('RPUSH', KEYS[2], KEYS[2 + i])
	end
	redis.call('EXPIRE', KEYS[2], ttl)
	return {0, 0}
`)

// releaseScript decrements every counter recorded under the token and drops
// the token.  A missing token means already released.
var releaseScript = redis.NewScript(`
	local keys = redis.call('LRANGE', KEYS[1], 0, -1)
	if #keys == 0 then
		return 0
	end
	for _, k in ipairs(keys) do
		local v = redis.call('DECR', k)
		if v <= 0 then
			redis.call('DEL', k)
		end
	end
	redis.call('DEL', KEYS[1])
	return 1
`)

// RedisLedger stores counters in Redis so every API instance shares one
// view of capacity.  Keys:
//
//	{<prefix>}:date:<YYYY-MM-DD>
//	{<prefix>}:chan:<id>:<YYYY-MM-DD>
//	{<prefix>}:quota:<id>:<YYYY-MM>
//	{<prefix>}:token:<uuid>
//
// The braces are a cluster hash tag: every key lands in one slot, so the
// multi-key scripts run unchanged on Redis Cluster.
type RedisLedger struct {
	rdb    redis.UniversalClient
	limits Limits
	prefix string
	now    func() time.Time
}

// NewRedisLedger binds a ledger to rdb.  prefix namespaces all keys.
func NewRedisLedger(rdb redis.UniversalClient, limits Limits, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "ledger"
	}
	if !strings.HasPrefix(prefix, "{") {
		prefix = "{" + prefix + "}"
	}
	return &RedisLedger{rdb: rdb, limits: limits, prefix: prefix, now: time.Now}
}

func (l *RedisLedger) dateKey(day string) string { return l.prefix + ":date:" + day }
func (l *RedisLedger) tokenKey(id string) string { return l.prefix + ":token:" + id }
func (l *RedisLedger) chanKey(id, day string) string {
	return l.prefix + ":chan:" + id + ":" + day
}
func (l *RedisLedger) quotaKey(id, month string) string {
	return l.prefix + ":quota:" + id + ":" + month
}

// ttlFor keeps counters until a month after the booking month ends, long
// enough for quota checks and late cancellations.
func (l *RedisLedger) ttlFor(day time.Time) int64 {
	expires := Month(day).AddDate(0, 2, 0)
	secs := int64(expires.Sub(l.now()) / time.Second)
	if secs < 86400 {
		secs = 86400
	}
	return secs
}

func (l *RedisLedger) Reserve(ctx context.Context, date time.Time, channels []ChannelQuota) (Token, error) {
	day := Day(date)
	dk := day.Format(model.DateLayout)
	mk := day.Format(model.MonthLayout)
	channels = uniqueChannels(channels)
	n := len(channels)

	tok := Token{ID: uuid.NewString(), Date: day, ChannelIDs: channelIDs(channels)}
	keys := make([]string, 0, 2+2*n)
	keys = append(keys, l.dateKey(dk), l.tokenKey(tok.ID))
	for _, c := range channels {
		keys = append(keys, l.chanKey(c.ID, dk))
	}
	for _, c := range channels {
		keys = append(keys, l.quotaKey(c.ID, mk))
	}
	args := make([]interface{}, 0, 4+n)
	args = append(args, l.limits.MaxDailySubmissions, l.limits.PerChannelDailyCap, n)
	for _, c := range channels {
		args = append(args, c.MonthlyLimit)
	}
	args = append(args, l.ttlFor(day))

	vals, err := reserveScript.Run(ctx, l.rdb, keys, args...).Int64Slice()
	if err != nil {
		return Token{}, fmt.Errorf("ledger reserve: %w", err)
	}
	if len(vals) != 2 {
		return Token{}, fmt.Errorf("ledger reserve: unexpected script result %v", vals)
	}
	code, idx := vals[0], int(vals[1])
	channelAt := func() string {
		if idx >= 1 && idx <= n {
			return channels[idx-1].ID
		}
		return ""
	}
	switch code {
	case 0:
		return tok, nil
	case 1:
		return Token{}, &CapacityError{Constraint: DateFull, Date: day}
	case 2:
		return Token{}, &CapacityError{Constraint: ChannelBusyOnDate, Date: day, ChannelID: channelAt()}
	case 3:
		return Token{}, &CapacityError{Constraint: ChannelQuotaExceeded, Date: day, ChannelID: channelAt()}
	}
	return Token{}, fmt.Errorf("ledger reserve: unknown result code %d", code)
}

func (l *RedisLedger) Release(ctx context.Context, tokenID string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.tokenKey(tokenID)}).Err(); err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

func (l *RedisLedger) Snapshot(ctx context.Context, date time.Time, ids []string) (Snapshot, error) {
	day := Day(date)
	dk := day.Format(model.DateLayout)
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, l.dateKey(dk))
	for _, id := range ids {
		keys = append(keys, l.chanKey(id, dk))
	}
	vals, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger snapshot: %w", err)
	}
	s := Snapshot{
		Date:           day,
		ScheduledCount: asInt(vals[0]),
		MaxDaily:       l.limits.MaxDailySubmissions,
		PerChannelCap:  l.limits.PerChannelDailyCap,
		ChannelLoad:    make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if n := asInt(vals[i+1]); n > 0 {
			s.ChannelLoad[id] = n
		}
	}
	return s, nil
}

func (l *RedisLedger) MonthlyUsage(ctx context.Context, month time.Time, ids []string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	mk := Month(month).Format(model.MonthLayout)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.quotaKey(id, mk)
	}
	vals, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger monthly usage: %w", err)
	}
	for i, id := range ids {
		out[id] = asInt(vals[i])
	}
	return out, nil
}

// Prune removes counters older than before.  Keys also carry a TTL, so this
// only tidies ahead of expiry.
func (l *RedisLedger) Prune(ctx context.Context, before time.Time) error {
	dk := Day(before).Format(model.DateLayout)
	mk := Month(before).Format(model.MonthLayout)
	sets := []struct {
		pattern string
		cutoff  string
	}{
		{l.prefix + ":date:*", dk},
		{l.prefix + ":chan:*", dk},
		{l.prefix + ":quota:*", mk},
	}
	for _, s := range sets {
		keys, err := l.scan(ctx, s.pattern)
		if err != nil {
			return fmt.Errorf("ledger prune scan: %w", err)
		}
		var stale []string
		for _, key := range keys {
			period := key[strings.LastIndex(key, ":")+1:]
			if period < s.cutoff {
				stale = append(stale, key)
			}
		}
		if len(stale) > 0 {
			if err := l.rdb.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("ledger prune: %w", err)
			}
		}
	}
	return nil
}

// scan lists keys matching pattern.  A cluster client scans every master;
// with the hash tag only one of them holds ledger keys.
func (l *RedisLedger) scan(ctx context.Context, pattern string) ([]string, error) {
	if cc, ok := l.rdb.(*redis.ClusterClient); ok {
		var (
			mu   sync.Mutex
			keys []string
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := scanNode(ctx, node, pattern)
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return err
		})
		return keys, err
	}
	return scanNode(ctx, l.rdb, pattern)
}

func scanNode(ctx context.Context, c redis.Cmdable, pattern string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func asInt(v interface{}) int {
	switch t := v.(type) {
	case string:
		n, _ := strconv.Atoi(t)
		return n
	case int64:
		return int(t)
	}
	return 0
}
