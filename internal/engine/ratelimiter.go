package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/epcis-repository/internal/metrics"
)

const (
	NamespaceCapture      = "capture"
	NamespaceQuery        = "query"
	NamespaceSubscription = "subscription"
)

// RateRule is the fixed-window budget of one namespace.
type RateRule struct {
	Limit  int
	Window time.Duration
}

func DefaultRateRules() map[string]RateRule {
	return map[string]RateRule{
		NamespaceCapture:      {Limit: 1000, Window: time.Minute},
		NamespaceQuery:        {Limit: 2000, Window: time.Minute},
		NamespaceSubscription: {Limit: 500, Window: time.Minute},
	}
}

// RateDecision is the outcome of counting one request. Reset is the number
// of whole seconds until the current window ends.
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     int
}

// RateLimiter counts requests per namespace and key in fixed windows.
type RateLimiter interface {
	Limit(ctx context.Context, namespace, key string) (RateDecision, error)
}

func decide(rule RateRule, count int64, remaining time.Duration) RateDecision {
	d := RateDecision{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: int(max(0, int64(rule.Limit)-count)),
		Reset:     int(math.Ceil(remaining.Seconds())),
	}
	return d
}

// RedisRateLimiter keeps one counter key per namespace and key. The first
// hit of a window creates the key with the window as its expiry.
type RedisRateLimiter struct {
	client *redis.Client
	rules  map[string]RateRule
	logger *slog.Logger
	script *redis.Script
}

// Lua script for an atomic fixed window counter. Returns the count after
// this hit and the milliseconds left in the window.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    -- Key lost its expiry; start the window again
    redis.call('PEXPIRE', key, window)
    ttl = window
end

return {count, ttl}
`)

func NewRedisRateLimiter(client *redis.Client, rules map[string]RateRule, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		rules:  rules,
		logger: logger,
		script: fixedWindowScript,
	}
}

func rlKey(namespace, key string) string {
	return fmt.Sprintf("rl:%s:%s", namespace, key)
}

func (rl *RedisRateLimiter) Limit(ctx context.Context, namespace, key string) (RateDecision, error) {
	rule, ok := rl.rules[namespace]
	if !ok {
		return RateDecision{}, fmt.Errorf("unknown rate limit namespace %q", namespace)
	}

	res, err := rl.script.Run(ctx, rl.client, []string{rlKey(namespace, key)}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "namespace", namespace, "key", key)
		return RateDecision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 2 {
		return RateDecision{}, fmt.Errorf("unexpected rate limit script result %v", res)
	}

	d := decide(rule, res[0], time.Duration(res[1])*time.Millisecond)
	if !d.Allowed {
		metrics.RateLimitDenials.WithLabelValues(namespace).Inc()
		rl.logger.Debug("rate limited", "namespace", namespace, "key", key, "limit", rule.Limit)
	}
	return d, nil
}

// MemoryRateLimiter is the single-process counterpart of RedisRateLimiter.
// Expired windows are swept at most once per sweepEvery, the shortest
// configured window.
type MemoryRateLimiter struct {
	mu         sync.Mutex
	rules      map[string]RateRule
	windows    map[string]*rateWindow
	now        func() time.Time
	sweepEvery time.Duration
	nextSweep  time.Time
}

type rateWindow struct {
	count int64
	reset time.Time
}

func NewMemoryRateLimiter(rules map[string]RateRule) *MemoryRateLimiter {
	every := time.Minute
	for _, r := range rules {
		if r.Window > 0 && r.Window < every {
			every = r.Window
		}
	}
	return &MemoryRateLimiter{
		rules:      rules,
		windows:    make(map[string]*rateWindow),
		now:        time.Now,
		sweepEvery: every,
	}
}

func (rl *MemoryRateLimiter) Limit(_ context.Context, namespace, key string) (RateDecision, error) {
	rule, ok := rl.rules[namespace]
	if !ok {
		return RateDecision{}, fmt.Errorf("unknown rate limit namespace %q", namespace)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.nextSweep) {
		rl.sweep(now)
		rl.nextSweep = now.Add(rl.sweepEvery)
	}

	k := rlKey(namespace, key)
	w, ok := rl.windows[k]
	if !ok || !now.Before(w.reset) {
		w = &rateWindow{reset: now.Add(rule.Window)}
		rl.windows[k] = w
	}
	w.count++

	d := decide(rule, w.count, w.reset.Sub(now))
	if !d.Allowed {
		metrics.RateLimitDenials.WithLabelValues(namespace).Inc()
	}
	return d, nil
}

// sweep drops expired windows. Called with mu held.
func (rl *MemoryRateLimiter) sweep(now time.Time) {
	for k, w := range rl.windows {
		if !now.Before(w.reset) {
			delete(rl.windows, k)
		}
	}
}
