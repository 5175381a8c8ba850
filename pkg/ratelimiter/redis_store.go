package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript refills and consumes a bucket stored as a hash
// {tokens, last} where last is the refill anchor in unix milliseconds.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local n = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local intervals = math.floor((now - last) / interval)
if intervals > 0 then
	local cap = math.floor(capacity / rate) + 1
	if intervals > cap then
		intervals = cap
	end
	tokens = math.min(capacity, tokens + intervals * rate)
	last = now
end

local remaining = tokens - n
if remaining >= 0 then
	tokens = remaining
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], (math.floor(capacity / rate) + 1) * interval)
return {remaining, last + interval}
`)

// RedisStore keeps buckets in Redis so that every replica shares them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore stores buckets under prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		config.Capacity,
		config.RefillRate,
		config.RefillInterval.Milliseconds(),
		s.now().UnixMilli(),
		tokens,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("consume tokens for %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("consume tokens for %q: unexpected script reply %v", key, res)
	}
	return int(res[0]), time.UnixMilli(res[1]), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset %q: %w", key, err)
	}
	return nil
}
