// Package signals defines the context aggregate the suggestion engine
// consumes: biometric recovery data, today's calendar, and an ambient
// mood reading. Acquisition of these signals lives behind the Provider
// interface; the engine itself never talks to a platform API.
package signals

import (
	"context"
	"time"
)

// Context is a snapshot of everything known about the user's current
// situation. Every field is optional: a nil pointer means the source
// was unavailable, and downstream consumers skip the factor entirely
// rather than defaulting it.
type Context struct {
	Recovery   *float64  `json:"recovery,omitempty"`    // 0-100 recovery score
	Strain     *float64  `json:"strain,omitempty"`      // cumulative strain score
	SleepHours *float64  `json:"sleep_hours,omitempty"` // last night's sleep
	Calendar   *Calendar `json:"calendar,omitempty"`
	Mood       *Mood     `json:"mood,omitempty"`
}

// Calendar holds today's events plus the next upcoming event, if any.
type Calendar struct {
	Events    []Event `json:"events"`
	NextEvent *Event  `json:"next_event,omitempty"`
}

// Event is a single calendar entry.
type Event struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
}

// Mood is an ambient mood reading, typically derived from what the user
// is listening to. Energy and Valence are in [0,1].
type Mood struct {
	Energy  float64 `json:"energy"`
	Valence float64 `json:"valence"`
}

// Provider supplies the current Context for a user when the caller
// doesn't pass one explicitly.
type Provider interface {
	Fetch(ctx context.Context, userID string) (Context, error)
}

// StaticProvider returns a fixed Context for every user. Used when no
// live signal source is wired up and in tests.
type StaticProvider struct {
	Context Context
}

func (p *StaticProvider) Fetch(_ context.Context, _ string) (Context, error) {
	return p.Context, nil
}
