package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleThreshold = 10 * time.Minute
	sweepEvery     = time.Minute
)

// callerLimit is the limiter of one key and when that key was last seen.
type callerLimit struct {
	lim  *rate.Limiter
	seen time.Time
}

// MemoryLimiter keeps a rate.Limiter per key. A key's first request finds
// a full bucket of burst tokens, which refills at rate tokens per second.
// Keys unseen for ten minutes are dropped by a sweeper goroutine until
// Close.
type MemoryLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	callers map[string]*callerLimit

	closeOnce sync.Once
	stop      chan struct{}
}

// NewMemoryLimiter returns a limiter allowing rate requests per second per
// key with bursts of up to burst requests.
func NewMemoryLimiter(perSecond float64, burst int) *MemoryLimiter {
	m := newMemoryLimiter(perSecond, burst, time.Now)
	go m.sweep()
	return m
}

func newMemoryLimiter(perSecond float64, burst int, clock func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
		clock:   clock,
		callers: make(map[string]*callerLimit),
		stop:    make(chan struct{}),
	}
}

// Allow spends one token of key's budget.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.clock()
	return m.limiterFor(key, now).AllowN(now, 1), nil
}

func (m *MemoryLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callers[key]
	if !ok {
		c = &callerLimit{lim: rate.NewLimiter(m.limit, m.burst)}
		m.callers[key] = c
	}
	c.seen = now
	return c.lim
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callers)
}

// Close stops the sweeper. It may be called more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.evictStale()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := m.clock().Add(-staleThreshold)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.callers {
		if c.seen.Before(cutoff) {
			delete(m.callers, key)
		}
	}
}
