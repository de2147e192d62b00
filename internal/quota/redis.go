package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript checks and increments in one step so a denied call never
// touches the counter. Returns {allowed, consumed, pttl}.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// RedisStore keeps one expiring counter per client in Redis. The key's TTL is
// the window: when it expires the record rolls over.
type RedisStore struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisStore builds a store on an existing client.
func NewRedisStore(rdb redis.Scripter, limit int, window time.Duration) (*RedisStore, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return &RedisStore{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "tryon:quota:",
		now:    time.Now,
	}, nil
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		key = UnknownClient
	}
	res, err := consumeScript.Run(ctx, s.rdb, []string{s.prefix + key}, s.limit, s.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota: redis consume: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("quota: redis consume: unexpected reply %v", res)
	}
	d := Decision{Limit: s.limit, Allowed: res[0] == 1}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = s.window
	}
	d.ResetAt = s.now().Add(ttl)
	if d.Allowed {
		d.Remaining = s.limit - int(res[1])
	}
	return d, nil
}

var _ Store = (*RedisStore)(nil)
