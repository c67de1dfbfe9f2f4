package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// simpleRateLimiter is a fixed-window counter per key. Windows for stale
// keys are dropped whenever a new window opens, so the map stays bounded
// by the number of keys active within one window.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	openedAt time.Time
	used     int
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*rateWindow),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.windows[key]
	if win == nil || now.Sub(win.openedAt) >= l.window {
		l.dropStale(now)
		l.windows[key] = &rateWindow{openedAt: now, used: 1}
		return true
	}
	if win.used >= l.limit {
		return false
	}
	win.used++
	return true
}

func (l *simpleRateLimiter) dropStale(now time.Time) {
	for key, win := range l.windows {
		if now.Sub(win.openedAt) >= l.window {
			delete(l.windows, key)
		}
	}
}
