// Package ratelimit provides fixed-window request limiting keyed by actor.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`
	// Window is the length of the counting window.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Requests: 20,
		Window:   60 * time.Second,
		Enabled:  true,
	}
}

// window is one actor's counter for the current fixed window.
type window struct {
	start time.Time
	count int
}

// Limiter counts requests per key in fixed windows. A request past the limit
// is rejected until the window rolls over; counts never carry across windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Requests <= 0 {
		config.Requests = 20
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Allow records a request for the given key and reports whether it fits in
// the current window.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(key, now)
	if w.count >= l.config.Requests {
		return false
	}
	w.count++
	return true
}

// RetryAfter returns how long until the given key's window rolls over. Zero
// means a request would be allowed now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(key, now)
	if w.count < l.config.Requests {
		return 0
	}
	return w.start.Add(l.config.Window).Sub(now)
}

// Remaining returns how many requests the key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	if !l.config.Enabled {
		return l.config.Requests
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.window(key, l.now())
	remaining := l.config.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears the counter for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// window returns the key's counter, rolling it over when the window has
// elapsed. Must be called with the mutex held.
func (l *Limiter) window(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if ok && now.Sub(w.start) < l.config.Window {
		return w
	}
	if !ok && len(l.windows) >= l.maxKeys {
		l.prune(now)
	}
	w = &window{start: now}
	l.windows[key] = w
	return w
}

// prune drops keys whose windows have elapsed. Must be called with the mutex
// held.
func (l *Limiter) prune(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.config.Window {
			delete(l.windows, key)
		}
	}
}
