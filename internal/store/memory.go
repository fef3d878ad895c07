package store

import (
	"context"
	"sync"
	"time"
)

// entry holds a value (or counter) and its expiry deadline.
type entry struct {
	val     string
	count   int64
	expires time.Time
}

// Memory implements KV in-process. It backs the degraded mode used when the
// shared store is unavailable: limits and cooldowns become per-instance
// rather than global, which is documented behavior.
//
// Expired entries are dropped lazily on access and swept opportunistically
// after a threshold of writes to bound memory.
type Memory struct {
	mu     sync.Mutex
	data   map[string]*entry
	writes uint64

	// now is a test seam.
	now func() time.Time
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

const sweepEvery = 5000

// sweep removes expired entries. Caller holds mu.
func (m *Memory) sweep(now time.Time) {
	m.writes++
	if m.writes < sweepEvery {
		return
	}
	m.writes = 0
	for k, e := range m.data {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.data, k)
		}
	}
}

// live returns the entry at key if present and unexpired. Caller holds mu.
func (m *Memory) live(key string, now time.Time) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && now.After(e.expires) {
		delete(m.data, key)
		return nil
	}
	return e
}

// IncrWindow increments the counter at key, creating it with the window
// expiry when absent.
func (m *Memory) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now)

	e := m.live(key, now)
	if e == nil {
		e = &entry{expires: now.Add(window)}
		m.data[key] = e
	}
	e.count++
	return e.count, nil
}

// SetNX sets key only if absent (or expired).
func (m *Memory) SetNX(_ context.Context, key, val string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now)

	if m.live(key, now) != nil {
		return false, nil
	}
	m.data[key] = &entry{val: val, expires: now.Add(ttl)}
	return true, nil
}

// PTTL returns the remaining lifetime of key, or zero when absent.
func (m *Memory) PTTL(_ context.Context, key string) (time.Duration, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key, now)
	if e == nil || e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Sub(now), nil
}

// Get returns the value at key, or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key, now)
	if e == nil {
		return "", ErrMiss
	}
	return e.val, nil
}

// Set writes key=val with a TTL.
func (m *Memory) Set(_ context.Context, key, val string, ttl time.Duration) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now)

	m.data[key] = &entry{val: val, expires: now.Add(ttl)}
	return nil
}

// Del removes key.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
