package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/caldant/attuned/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewWithClock(clock, DefaultTTL), clock
}

func TestProfileCachesWithinTTL(t *testing.T) {
	c, clock := newTestCache()

	loads := 0
	load := func() (storage.WeightProfileRow, error) {
		loads++
		return storage.WeightProfileRow{UserID: "u1", Version: int64(loads)}, nil
	}

	row, err := c.Profile("u1", load)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if row.Version != 1 {
		t.Errorf("version = %d", row.Version)
	}

	// Second read within the TTL serves the cached row.
	clock.advance(time.Minute)
	row, err = c.Profile("u1", load)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if loads != 1 {
		t.Errorf("loader called %d times, want 1", loads)
	}
	if row.Version != 1 {
		t.Errorf("got reloaded row inside TTL: version %d", row.Version)
	}

	// Past the TTL the loader runs again.
	clock.advance(2 * time.Minute)
	row, err = c.Profile("u1", load)
	if err != nil {
		t.Fatalf("third read: %v", err)
	}
	if loads != 2 {
		t.Errorf("loader called %d times after expiry, want 2", loads)
	}
	if row.Version != 2 {
		t.Errorf("stale row served after expiry: version %d", row.Version)
	}
}

// Invalidation must be visible to the very next read, not after the TTL.
func TestInvalidateVisibleImmediately(t *testing.T) {
	c, _ := newTestCache()

	loads := 0
	load := func() (storage.WeightProfileRow, error) {
		loads++
		return storage.WeightProfileRow{UserID: "u1", Version: int64(loads)}, nil
	}

	if _, err := c.Profile("u1", load); err != nil {
		t.Fatalf("prime: %v", err)
	}

	c.Invalidate("u1")

	row, err := c.Profile("u1", load)
	if err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if row.Version != 2 {
		t.Errorf("read after invalidate served stale row: version %d", row.Version)
	}
}

func TestInvalidateScopedToUser(t *testing.T) {
	c, _ := newTestCache()

	loads := map[string]int{}
	loadFor := func(user string) func() (storage.WeightProfileRow, error) {
		return func() (storage.WeightProfileRow, error) {
			loads[user]++
			return storage.WeightProfileRow{UserID: user}, nil
		}
	}

	c.Profile("u1", loadFor("u1"))
	c.Profile("u2", loadFor("u2"))

	c.Invalidate("u1")

	c.Profile("u1", loadFor("u1"))
	c.Profile("u2", loadFor("u2"))

	if loads["u1"] != 2 {
		t.Errorf("u1 loads = %d, want 2", loads["u1"])
	}
	if loads["u2"] != 1 {
		t.Errorf("u2 loads = %d, want 1 (unrelated user invalidated)", loads["u2"])
	}
}

// Load errors pass through uncached so the next read retries.
func TestErrorsNotCached(t *testing.T) {
	c, _ := newTestCache()

	loads := 0
	load := func() (storage.WeightProfileRow, error) {
		loads++
		if loads == 1 {
			return storage.WeightProfileRow{}, storage.ErrNotFound
		}
		return storage.WeightProfileRow{UserID: "u1", Version: 1}, nil
	}

	if _, err := c.Profile("u1", load); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	row, err := c.Profile("u1", load)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if row.Version != 1 {
		t.Errorf("retry served cached failure")
	}
}

func TestPatternsCacheAndInvalidate(t *testing.T) {
	c, clock := newTestCache()

	loads := 0
	load := func() ([]storage.PatternRow, error) {
		loads++
		return []storage.PatternRow{{UserID: "u1", Name: "p1"}}, nil
	}

	rows, err := c.Patterns("u1", load)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}

	clock.advance(time.Minute)
	if _, err := c.Patterns("u1", load); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if loads != 1 {
		t.Errorf("loader called %d times within TTL", loads)
	}

	c.Invalidate("u1")
	if _, err := c.Patterns("u1", load); err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if loads != 2 {
		t.Errorf("invalidate did not clear patterns: %d loads", loads)
	}
}
