package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
)

// RateLimiter answers whether a subject is over quota for an action.
// Allow is a pure peek; Record commits one attempt. The two shipped
// strategies (local fixed-window and counter-store backed) satisfy the
// same contract and agree on sequential input sequences.
type RateLimiter interface {
	Allow(ctx context.Context, subjectKey, action string) (bool, error)
	Record(ctx context.Context, subjectKey, action string) error
}

// CounterStore is a shared, TTL-capable increment store (redis). It is the
// single source of truth across process instances; the TTL attaches on the
// increment that lands on 1.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// rateLimitWindow is one fixed window for a (subjectKey, action) pair.
type rateLimitWindow struct {
	attemptCount int
	windowStart  time.Time
	lastAttempt  time.Time
}

// LocalRateLimiter keeps fixed-window counters in process memory. Windows
// roll over lazily on access; there is no background sweeper. State is
// per-instance and is not synchronized across a multi-instance deployment.
type LocalRateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateLimitWindow
	policies models.RateLimitPolicies
	logger   *slog.Logger
	now      func() time.Time
}

// NewLocalRateLimiter creates a process-local fixed-window limiter.
func NewLocalRateLimiter(policies models.RateLimitPolicies, logger *slog.Logger) *LocalRateLimiter {
	return &LocalRateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
}

func rateLimitKey(subjectKey, action string) string {
	return subjectKey + "|" + action
}

// window returns the current window for the key, rolling it over if the
// policy window has elapsed. Caller must hold mu.
func (l *LocalRateLimiter) window(subjectKey, action string) *rateLimitWindow {
	key := rateLimitKey(subjectKey, action)
	now := l.now()

	w, ok := l.windows[key]
	if !ok {
		w = &rateLimitWindow{windowStart: now}
		l.windows[key] = w
		return w
	}

	if now.After(w.windowStart.Add(l.policies.For(action).Window)) {
		w.attemptCount = 0
		w.windowStart = now
	}
	return w
}

func (l *LocalRateLimiter) Allow(ctx context.Context, subjectKey, action string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.window(subjectKey, action)
	limited := w.attemptCount >= l.policies.For(action).MaxAttempts
	if limited {
		l.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.Int("attempts", w.attemptCount))
	}
	return !limited, nil
}

func (l *LocalRateLimiter) Record(ctx context.Context, subjectKey, action string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.window(subjectKey, action)
	w.attemptCount++
	w.lastAttempt = l.now()
	return nil
}

// DistributedRateLimiter counts attempts in the shared counter store so
// all process instances see the same quota. Store failures fail open:
// an unreachable counter store must not lock out every user.
type DistributedRateLimiter struct {
	store    CounterStore
	policies models.RateLimitPolicies
	logger   *slog.Logger
}

// NewDistributedRateLimiter creates a counter-store backed limiter.
func NewDistributedRateLimiter(store CounterStore, policies models.RateLimitPolicies, logger *slog.Logger) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		store:    store,
		policies: policies,
		logger:   logger,
	}
}

func (l *DistributedRateLimiter) counterKey(subjectKey, action string) string {
	return "ratelimit:" + action + ":" + subjectKey
}

func (l *DistributedRateLimiter) Allow(ctx context.Context, subjectKey, action string) (bool, error) {
	count, err := l.store.Get(ctx, l.counterKey(subjectKey, action))
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			slog.String("action", action),
			slog.Any("error", err))
		return true, nil
	}

	policy := l.policies.For(action)
	if count >= int64(policy.MaxAttempts) {
		l.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.Int64("attempts", count))
		return false, nil
	}
	return true, nil
}

func (l *DistributedRateLimiter) Record(ctx context.Context, subjectKey, action string) error {
	policy := l.policies.For(action)
	if _, err := l.store.Increment(ctx, l.counterKey(subjectKey, action), policy.Window); err != nil {
		l.logger.Error("failed to record rate limit attempt",
			slog.String("action", action),
			slog.Any("error", err))
	}
	return nil
}
