package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// MintPolicy bounds token minting per delegatee.
type MintPolicy struct {
	PerMinute int
	Burst     int
}

// MemoryMintLimiter rate-limits minting in process, one token bucket per
// delegatee. Suitable for tests and single-instance deployments.
type MemoryMintLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	policy  MintPolicy
}

// NewMemoryMintLimiter creates an in-process limiter.
func NewMemoryMintLimiter(policy MintPolicy) *MemoryMintLimiter {
	if policy.PerMinute <= 0 {
		policy.PerMinute = 60
	}
	if policy.Burst <= 0 {
		policy.Burst = policy.PerMinute
	}
	return &MemoryMintLimiter{
		buckets: make(map[string]*rate.Limiter),
		policy:  policy,
	}
}

var _ MintLimiter = (*MemoryMintLimiter)(nil)

func (l *MemoryMintLimiter) Allow(_ context.Context, delegatee string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.buckets[delegatee]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.policy.PerMinute)/60.0), l.policy.Burst)
		l.buckets[delegatee] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// redisMintScript implements the token bucket atomically in Redis so mint
// limits hold across replicas.
// KEYS[1] = bucket key, ARGV[1] = refill rate/s, ARGV[2] = capacity,
// ARGV[3] = cost, ARGV[4] = now (seconds, fractional)
var redisMintScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return allowed
`)

// RedisMintLimiter enforces mint limits across replicas via a Lua token
// bucket.
type RedisMintLimiter struct {
	client *redis.Client
	policy MintPolicy
}

// NewRedisMintLimiter creates a Redis-backed limiter.
func NewRedisMintLimiter(addr, password string, db int, policy MintPolicy) *RedisMintLimiter {
	if policy.PerMinute <= 0 {
		policy.PerMinute = 60
	}
	if policy.Burst <= 0 {
		policy.Burst = policy.PerMinute
	}
	return &RedisMintLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		policy: policy,
	}
}

var _ MintLimiter = (*RedisMintLimiter)(nil)

func (l *RedisMintLimiter) Allow(ctx context.Context, delegatee string) (bool, error) {
	key := fmt.Sprintf("mint_limit:%s", delegatee)
	ratePerSec := float64(l.policy.PerMinute) / 60.0
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisMintScript.Run(ctx, l.client, []string{key}, ratePerSec, l.policy.Burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis mint limiter: %w", err)
	}
	return res == 1, nil
}
