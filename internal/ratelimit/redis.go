package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript runs the same fixed-window policy as MemoryStore inside Redis so
// the check and the increment cannot interleave across instances.
// Returns {exceeded, count, pttl}.
var hitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
  return {1, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {0, current, ttl}
`)

// RedisStore shares counters between API instances.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:", now: time.Now}
}

func (s *RedisStore) Hit(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, max, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = 0
	}
	return Decision{
		Exceeded: res[0] == 1,
		Count:    int(res[1]),
		ResetAt:  s.now().Add(ttl),
	}, nil
}
