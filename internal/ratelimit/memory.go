package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxKeys bounds how many clients a Memory limiter tracks.
const DefaultMaxKeys = 10000

// Memory is a sliding-window limiter held in process memory. Per-client
// state lives in an LRU, so idle clients are evicted without a sweeper.
type Memory struct {
	mu       sync.Mutex
	visitors *lru.Cache[string, *visitor]
	rate     int
	window   time.Duration
	now      func() time.Time
}

// visitor holds the request timestamps of one client inside the window.
type visitor struct {
	mu       sync.Mutex
	requests []time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithMaxKeys overrides DefaultMaxKeys.
func WithMaxKeys(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.visitors, _ = lru.New[string, *visitor](n)
		}
	}
}

// NewMemory allows rate requests per window for each key.
func NewMemory(rate int, window time.Duration, opts ...MemoryOption) *Memory {
	visitors, _ := lru.New[string, *visitor](DefaultMaxKeys)
	m := &Memory{
		visitors: visitors,
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) lookup(key string) *visitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors.Get(key)
	if !ok {
		v = &visitor{requests: make([]time.Time, 0, m.rate)}
		m.visitors.Add(key, v)
	}
	return v
}

// prune drops timestamps that fell out of the window. v.mu must be held.
func (v *visitor) prune(cutoff time.Time) {
	i := 0
	for i < len(v.requests) && !v.requests[i].After(cutoff) {
		i++
	}
	v.requests = v.requests[i:]
}

func (m *Memory) Allow(key string) bool {
	v := m.lookup(key)
	v.mu.Lock()
	defer v.mu.Unlock()

	now := m.now()
	v.prune(now.Add(-m.window))
	if len(v.requests) >= m.rate {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

func (m *Memory) RetryAfter(key string) time.Duration {
	m.mu.Lock()
	v, ok := m.visitors.Peek(key)
	m.mu.Unlock()
	if !ok {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := m.now()
	v.prune(now.Add(-m.window))
	if len(v.requests) < m.rate || len(v.requests) == 0 {
		return 0
	}
	return v.requests[0].Add(m.window).Sub(now)
}
