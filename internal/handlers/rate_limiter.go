package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter gates coupon validation attempts per customer so the endpoint
// cannot be used to enumerate codes.
type rateLimiter interface {
	Allow(key string) bool
}

type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limiterWindow
}

type limiterWindow struct {
	attempts int
	resetAt  time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]limiterWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.windows[key]
	if !ok || now.After(entry.resetAt) {
		l.evictExpiredLocked(now)
		l.windows[key] = limiterWindow{attempts: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.attempts >= l.limit {
		return false
	}
	entry.attempts++
	l.windows[key] = entry
	return true
}

func (l *fixedWindowLimiter) evictExpiredLocked(now time.Time) {
	for key, entry := range l.windows {
		if now.After(entry.resetAt) {
			delete(l.windows, key)
		}
	}
}
