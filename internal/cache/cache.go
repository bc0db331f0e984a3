// Package cache provides a per-user, short-TTL read-through cache over
// weight profile and pattern reads. It is an explicit dependency handed
// to the advisor, never package-level state, so tests can construct
// isolated instances.
package cache

import (
	"sync"
	"time"

	"github.com/caldant/attuned/internal/storage"
)

// DefaultTTL is how long a cached read stays fresh without an
// intervening write.
const DefaultTTL = 2 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type profileEntry struct {
	row storage.WeightProfileRow
	at  time.Time
}

type patternEntry struct {
	rows []storage.PatternRow
	at   time.Time
}

// Cache caches per-user profile and pattern reads. Explicit
// invalidation is visible to the very next read in this process;
// staleness up to the TTL is acceptable otherwise.
type Cache struct {
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	profiles map[string]profileEntry
	patterns map[string]patternEntry
}

// New creates a Cache with DefaultTTL.
func New() *Cache {
	return NewWithClock(realClock{}, DefaultTTL)
}

// NewWithTTL creates a Cache with a custom TTL on the real clock.
func NewWithTTL(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return NewWithClock(realClock{}, ttl)
}

// NewWithClock creates a Cache with a custom clock and TTL (for testing).
func NewWithClock(clock Clock, ttl time.Duration) *Cache {
	return &Cache{
		clock:    clock,
		ttl:      ttl,
		profiles: make(map[string]profileEntry),
		patterns: make(map[string]patternEntry),
	}
}

// Profile returns the user's cached profile row, calling load on miss
// or expiry. Only successful loads are cached; a storage.ErrNotFound
// passes through so a profile created moments later is seen promptly.
func (c *Cache) Profile(userID string, load func() (storage.WeightProfileRow, error)) (storage.WeightProfileRow, error) {
	c.mu.RLock()
	if e, ok := c.profiles[userID]; ok && c.fresh(e.at) {
		c.mu.RUnlock()
		return e.row, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := c.profiles[userID]; ok && c.fresh(e.at) {
		return e.row, nil
	}

	row, err := load()
	if err != nil {
		return storage.WeightProfileRow{}, err
	}
	c.profiles[userID] = profileEntry{row: row, at: c.clock.Now()}
	return row, nil
}

// Patterns returns the user's cached pattern list, calling load on miss
// or expiry.
func (c *Cache) Patterns(userID string, load func() ([]storage.PatternRow, error)) ([]storage.PatternRow, error) {
	c.mu.RLock()
	if e, ok := c.patterns[userID]; ok && c.fresh(e.at) {
		c.mu.RUnlock()
		return e.rows, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.patterns[userID]; ok && c.fresh(e.at) {
		return e.rows, nil
	}

	rows, err := load()
	if err != nil {
		return nil, err
	}
	c.patterns[userID] = patternEntry{rows: rows, at: c.clock.Now()}
	return rows, nil
}

// Invalidate drops the user's cached profile and patterns. The next
// read goes back to storage.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, userID)
	delete(c.patterns, userID)
}

func (c *Cache) fresh(at time.Time) bool {
	return c.clock.Now().Before(at.Add(c.ttl))
}
