package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a compare-and-swap write loses to
// a concurrent update. Callers reload and retry.
var ErrVersionConflict = errors.New("version conflict")

// WeightProfileRow is a user's learned weight profile as stored: an
// opaque JSON document plus the optimistic-concurrency version counter.
// The typed view lives in the scoring package.
type WeightProfileRow struct {
	UserID      string
	ProfileJSON string
	Version     int64
	UpdatedAt   time.Time
}

// PatternRow is one discovered context→intent rule. Name is both the
// primary key (with UserID) and the upsert identity the miner rewrites;
// Label is the human-readable description; ConditionsJSON holds the
// structured condition triples.
type PatternRow struct {
	UserID         string
	Name           string
	Label          string
	Intent         string
	ConditionsJSON string
	Confidence     float64
	MatchCount     int
	FollowCount    int
	Active         bool
	UpdatedAt      time.Time
}

// FeedbackRecord is an immutable, append-only feedback event: what the
// engine suggested, what the user actually picked, and the feature
// snapshot in effect at suggestion time.
type FeedbackRecord struct {
	ID                  string
	UserID              string
	SuggestedIntent     string
	SuggestedConfidence float64
	SelectedIntent      string
	WasOverride         bool
	ContextJSON         string
	OverrideReason      string
	CreatedAt           time.Time
}

// Job is a queued background task.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
