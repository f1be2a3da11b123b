// Package ratelimit enforces per-client request quotas over fixed minute and hour windows.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// Window names reported in domain.RateLimitError and metrics.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

const sweepInterval = time.Minute

// Config holds per-client quotas. A zero quota disables that window.
type Config struct {
	PerMinute int
	PerHour   int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

type window struct {
	start time.Time
	count int
}

// roll restarts the window when it has elapsed. Windows anchor at the first request after expiry.
func (w *window) roll(now time.Time, size time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
	}
}

type clientState struct {
	mu       sync.Mutex
	minute   window
	hour     window
	lastSeen time.Time
	evicted  bool
}

// Limiter tracks request counts per client. Each client has its own lock;
// idle clients are dropped by a lazy sweep piggybacked on Allow.
type Limiter struct {
	cfg       Config
	clients   sync.Map // client ID -> *clientState
	now       func() time.Time
	lastSweep atomic.Int64
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

// Allow admits one request for clientID or returns *domain.RateLimitError.
// Rejected requests are not counted.
func (l *Limiter) Allow(clientID string) error {
	now := l.now()
	l.maybeSweep(now)

	for {
		v, _ := l.clients.LoadOrStore(clientID, &clientState{})
		c := v.(*clientState)

		c.mu.Lock()
		if c.evicted {
			c.mu.Unlock()
			continue
		}
		err := l.admit(c, now)
		c.mu.Unlock()

		if err != nil {
			metrics.RateLimitRejectionsTotal.WithLabelValues(err.Window).Inc()
			return err
		}
		return nil
	}
}

func (l *Limiter) admit(c *clientState, now time.Time) *domain.RateLimitError {
	c.minute.roll(now, time.Minute)
	c.hour.roll(now, time.Hour)
	c.lastSeen = now

	// hour first so the hint covers both windows
	if l.cfg.PerHour > 0 && c.hour.count >= l.cfg.PerHour {
		return &domain.RateLimitError{Window: WindowHour, RetryAfter: c.hour.start.Add(time.Hour).Sub(now)}
	}
	if l.cfg.PerMinute > 0 && c.minute.count >= l.cfg.PerMinute {
		return &domain.RateLimitError{Window: WindowMinute, RetryAfter: c.minute.start.Add(time.Minute).Sub(now)}
	}

	c.minute.count++
	c.hour.count++
	return nil
}

// maybeSweep evicts clients idle for longer than the hour window, at most once per sweepInterval.
func (l *Limiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(sweepInterval) {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	l.clients.Range(func(key, value any) bool {
		c := value.(*clientState)
		c.mu.Lock()
		if now.Sub(c.lastSeen) >= time.Hour {
			c.evicted = true
			l.clients.Delete(key)
		}
		c.mu.Unlock()
		return true
	})
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	l.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
