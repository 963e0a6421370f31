package auth

import (
	"sync"
	"time"

	"svchub/internal/config"
)

// fixedWindow is one identity's counter.
type fixedWindow struct {
	start time.Time
	count int
}

// limiter keeps an independent fixed-window counter per identity. A single
// limiter instance is shared across transports, so HTTP requests and
// realtime tool calls draw from the same quota.
type limiter struct {
	defaults config.RateLimitConfig

	mu      sync.Mutex
	windows map[string]*fixedWindow

	// now is swappable for tests.
	now func() time.Time
}

func newLimiter(defaults config.RateLimitConfig) *limiter {
	if defaults.Window <= 0 {
		defaults.Window = config.DefaultRateLimitWindow
	}
	if defaults.Max <= 0 {
		defaults.Max = config.DefaultRateLimitMax
	}
	return &limiter{
		defaults: defaults,
		windows:  make(map[string]*fixedWindow),
		now:      time.Now,
	}
}

// allow consumes one unit of the identity's quota and reports whether the
// request is within the window's budget. The crossing request is rejected;
// a request after window expiry starts a fresh window and succeeds.
func (l *limiter) allow(id *Identity) bool {
	policy := id.RateLimit
	if policy.Window <= 0 {
		policy.Window = l.defaults.Window
	}
	if policy.Max <= 0 {
		policy.Max = l.defaults.Max
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[id.ID]
	if w == nil || now.Sub(w.start) >= policy.Window {
		w = &fixedWindow{start: now}
		l.windows[id.ID] = w
	}

	if w.count >= policy.Max {
		return false
	}
	w.count++
	return true
}
