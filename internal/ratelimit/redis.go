package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces rate-limit hashes
const DefaultRedisKeyPrefix = "faucet:ratelimit:"

// Each bucket is a hash {count, started}, started in unix milliseconds.
// The first pass only reads so that a rejection never mutates state.
const checkAndRecordScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local retry = 0
for _, key in ipairs(KEYS) do
  local rec = redis.call('HMGET', key, 'count', 'started')
  local count = tonumber(rec[1])
  local started = tonumber(rec[2])
  if count and started and (now - started) <= window and count >= max then
    if started + window > retry then
      retry = started + window
    end
  end
end
if retry > 0 then
  return {0, retry}
end

for _, key in ipairs(KEYS) do
  local rec = redis.call('HMGET', key, 'count', 'started')
  local count = tonumber(rec[1])
  local started = tonumber(rec[2])
  if (not count) or (not started) or (now - started) > window then
    redis.call('HSET', key, 'count', 1, 'started', now)
    redis.call('PEXPIRE', key, ttl)
  else
    redis.call('HINCRBY', key, 'count', 1)
  end
end
return {1, 0}
`

// expiryBuffer keeps a hash alive slightly past its window so Redis TTL never
// expires a record that the timestamp comparison still considers current
const expiryBuffer = time.Second

// RedisStore is a Limiter backed by Redis. Check-and-increment runs as one Lua script,
// which makes it atomic across every process sharing the Redis instance.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisClock overrides the time source, for tests
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		s.now = now
	}
}

// WithKeyPrefix overrides DefaultRedisKeyPrefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed limiter
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		script: redis.NewScript(checkAndRecordScript),
		prefix: DefaultRedisKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Limiter = (*RedisStore)(nil)

// CheckAndRecord runs the admission script for every bucket of key
func (s *RedisStore) CheckAndRecord(ctx context.Context, key Key, limit Limit) (Decision, error) {
	if err := limit.validate(); err != nil {
		return Decision{}, err
	}

	buckets := key.Buckets()
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = s.prefix + b
	}

	now := s.now()
	windowMs := limit.Window.Milliseconds()
	res, err := s.script.Run(ctx, s.client, keys,
		now.UnixMilli(),
		windowMs,
		limit.MaxRequests,
		windowMs+expiryBuffer.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}

	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.UnixMilli(res[1])}, nil
}

// Reset deletes every rate-limit hash under the store prefix
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan rate limit keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete rate limit keys: %w", err)
	}
	return nil
}
