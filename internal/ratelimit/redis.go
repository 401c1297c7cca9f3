package ratelimit

import (
	"context"
	"time"

	"ads-console/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisBucket shares one token bucket per credential/account key across
// processes. Refill bookkeeping lives in Redis; the scripts keep the
// read-modify-write atomic so concurrent workers never overdraw.
//
// Semantics match the in-process Bucket: Acquire waits up to maxWait,
// Penalize empties the bucket for at least the given duration.
type RedisBucket struct {
	rdb    *redis.Client
	size   float64
	refill float64 // tokens per second

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRedisBucket(rdb *redis.Client, cfg config.RateConfig) *RedisBucket {
	return &RedisBucket{
		rdb:    rdb,
		size:   float64(cfg.BucketSize),
		refill: cfg.RefillPerSec,
		clock:  time.Now,
		sleep:  sleepCtx,
	}
}

var acquireScript = redis.NewScript(`
-- KEYS[1] = bucket hash key
-- KEYS[2] = penalty key
-- ARGV[1] = capacity
-- ARGV[2] = refill rate (tokens per millisecond)
-- ARGV[3] = cost
-- ARGV[4] = now (unix milliseconds)
--
-- Returns {1, 0} when acquired, {0, wait_ms} otherwise.
local pttl = redis.call('PTTL', KEYS[2])
if pttl > 0 then
  return {0, pttl}
end

local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = cap
  ts = now
end

tokens = math.min(cap, tokens + math.max(0, now - ts) * rate)

if tokens >= cost then
  redis.call('HMSET', KEYS[1], 'tokens', tokens - cost, 'ts', now)
  redis.call('PEXPIRE', KEYS[1], 3600000)
  return {1, 0}
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], 3600000)
return {0, math.ceil((cost - tokens) / rate)}
`)

var penalizeScript = redis.NewScript(`
-- KEYS[1] = bucket hash key
-- KEYS[2] = penalty key
-- ARGV[1] = penalty duration ms
-- ARGV[2] = now (unix milliseconds)
--
-- Only extend an existing penalty, never shorten it.
local pttl = redis.call('PTTL', KEYS[2])
local d = tonumber(ARGV[1])
if pttl < d then
  redis.call('SET', KEYS[2], '1', 'PX', d)
end
redis.call('HMSET', KEYS[1], 'tokens', 0, 'ts', ARGV[2])
redis.call('PEXPIRE', KEYS[1], 3600000)
return 1
`)

func (b *RedisBucket) Acquire(ctx context.Context, key string, cost int, maxWait time.Duration) error {
	if cost <= 0 {
		cost = 1
	}
	if float64(cost) > b.size {
		return ErrCostTooLarge
	}

	bucketKey := "ratelimit:bucket:" + key
	penaltyKey := "ratelimit:penalty:" + key
	ratePerMS := b.refill / 1000.0

	deadline := b.clock().Add(maxWait)
	for {
		now := b.clock()
		res, err := acquireScript.Run(ctx, b.rdb,
			[]string{bucketKey, penaltyKey},
			b.size, ratePerMS, cost, now.UnixMilli(),
		).Int64Slice()
		if err != nil {
			return err
		}
		if len(res) == 2 && res[0] == 1 {
			return nil
		}

		wait := time.Duration(res[1]) * time.Millisecond
		if wait <= 0 {
			wait = time.Millisecond
		}
		if now.Add(wait).After(deadline) {
			return ErrWaitExceeded
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (b *RedisBucket) Penalize(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	bucketKey := "ratelimit:bucket:" + key
	penaltyKey := "ratelimit:penalty:" + key

	// Penalize is advisory; a failed write only costs earlier retries.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = penalizeScript.Run(ctx, b.rdb,
		[]string{bucketKey, penaltyKey},
		d.Milliseconds(), b.clock().UnixMilli(),
	).Err()
}
