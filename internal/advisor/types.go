package advisor

import (
	"time"

	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/signals"
)

// Suggestion sources, in order of how personal the evidence was.
const (
	// SourcePattern means a discovered context rule fired.
	SourcePattern = "pattern"
	// SourcePersonalized means the user's learned weight profile drove
	// the ranking.
	SourcePersonalized = "personalized"
	// SourceDefault means the shipped defaults drove the ranking (no
	// profile exists yet).
	SourceDefault = "default"
	// SourceFallback means signals were unavailable and only the time
	// of day informed the suggestion.
	SourceFallback = "fallback"
)

// SuggestRequest asks for an intent suggestion. Signals overrides the
// configured provider when set, which is how callers that already hold
// fresh context avoid a second fetch.
type SuggestRequest struct {
	UserID  string           `json:"user_id"`
	Signals *signals.Context `json:"signals,omitempty"`
}

// Suggestion is the engine's answer: the recommended intent, how sure
// it is, and why. FeedbackCount is how much history backed the answer,
// so clients can show how established the personalization is.
type Suggestion struct {
	Intent        string           `json:"intent"`
	Confidence    float64          `json:"confidence"`
	Reason        string           `json:"reason"`
	Source        string           `json:"source"`
	FeedbackCount int              `json:"feedback_count"`
	Alternative   string           `json:"alternative,omitempty"`
	Features      feature.Snapshot `json:"features"`
}

// FeedbackRequest reports what the user actually chose after a
// suggestion. SuggestedIntent may be empty when the user acted without
// asking first.
//
// Features is the snapshot echoed back from Suggestion.Features. It is
// what learning attributes the choice to, so it must be the snapshot
// the suggestion was made under, not one re-derived later; only when
// the caller has nothing to echo is a fresh snapshot extracted at
// feedback time.
type FeedbackRequest struct {
	UserID              string            `json:"user_id"`
	SuggestedIntent     string            `json:"suggested_intent,omitempty"`
	SuggestedConfidence float64           `json:"suggested_confidence,omitempty"`
	SelectedIntent      string            `json:"selected_intent"`
	OverrideReason      string            `json:"override_reason,omitempty"`
	Features            *feature.Snapshot `json:"features,omitempty"`
	Signals             *signals.Context  `json:"signals,omitempty"`
}

// FeedbackResult acknowledges a recorded feedback event. LearningQueued
// is false when the feedback row was written but the learning job could
// not be enqueued; the event still counts, it just won't adjust weights
// until something else triggers learning.
type FeedbackResult struct {
	FeedbackID     string `json:"feedback_id"`
	WasOverride    bool   `json:"was_override"`
	LearningQueued bool   `json:"learning_queued"`
	JobID          string `json:"job_id,omitempty"`
}

// PatternSummary is one discovered rule as reported by Stats.
type PatternSummary struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	MatchCount int     `json:"match_count"`
}

// Stats summarizes everything the engine has learned about a user.
type Stats struct {
	UserID           string           `json:"user_id"`
	FeedbackCount    int              `json:"feedback_count"`
	OverrideCount    int              `json:"override_count"`
	OverrideRate     float64          `json:"override_rate"`
	ConfidenceLevel  float64          `json:"confidence_level"`
	ProfileVersion   int64            `json:"profile_version"`
	LastLearnedAt    *time.Time       `json:"last_learned_at,omitempty"`
	ActivePatterns   []PatternSummary `json:"active_patterns"`
	RecentSelections map[string]int   `json:"recent_selections"`
}
