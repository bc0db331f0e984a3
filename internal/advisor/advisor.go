// Package advisor is the facade in front of the suggestion engine: it
// resolves signals, runs pattern matching and weighted scoring, records
// feedback, and hands learning work to the background queue.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caldant/attuned/internal/cache"
	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/learning"
	"github.com/caldant/attuned/internal/pattern"
	"github.com/caldant/attuned/internal/scoring"
	"github.com/caldant/attuned/internal/signals"
	"github.com/caldant/attuned/internal/storage"
)

// ErrUnknownIntent is returned when a request names an intent outside
// the supported set.
var ErrUnknownIntent = errors.New("unknown intent")

// Store is the storage surface the advisor needs.
type Store interface {
	GetWeightProfile(userID string) (storage.WeightProfileRow, error)
	ListPatterns(userID string, activeOnly bool) ([]storage.PatternRow, error)
	InsertFeedback(rec storage.FeedbackRecord) error
	EnqueueJob(job storage.Job) error
	CountFeedback(userID string) (total, overrides int, err error)
	GetRecentFeedback(userID string, limit int) ([]storage.FeedbackRecord, error)
}

// Clock abstracts wall-clock time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Advisor ties the engine together. It is safe for concurrent use.
type Advisor struct {
	store    Store
	cache    *cache.Cache
	provider signals.Provider
	clock    Clock
	logger   *slog.Logger
}

// New creates an Advisor. provider may be nil, in which case requests
// without explicit signals fall back to time-of-day-only suggestions.
func New(store Store, c *cache.Cache, provider signals.Provider) *Advisor {
	return NewWithClock(store, c, provider, realClock{})
}

// NewWithClock is New with an injected clock.
func NewWithClock(store Store, c *cache.Cache, provider signals.Provider, clock Clock) *Advisor {
	if c == nil {
		c = cache.New()
	}
	return &Advisor{
		store:    store,
		cache:    c,
		provider: provider,
		clock:    clock,
		logger:   slog.Default(),
	}
}

// Suggest recommends an intent for the user's current context.
//
// Discovered patterns are checked first; when one matches, its rule
// wins over the weighted ranking. Otherwise the learned profile (or the
// shipped defaults) drives a weighted multi-factor ranking.
//
// The path is total: missing signals, a missing profile, and storage
// failures all degrade to a minimally-confident default-table answer
// instead of an error. The only error is an empty user id.
func (a *Advisor) Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error) {
	if req.UserID == "" {
		return Suggestion{}, errors.New("user_id is required")
	}

	sig, noSignals := a.resolveSignals(ctx, req.UserID, req.Signals)
	snap := feature.Extract(sig, a.clock.Now())

	var (
		prof          *scoring.Profile
		pats          []storage.PatternRow
		storageFailed bool
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		row, err := a.cache.Profile(req.UserID, func() (storage.WeightProfileRow, error) {
			return a.store.GetWeightProfile(req.UserID)
		})
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			a.logger.Warn("weight profile unavailable, using defaults",
				"user_id", req.UserID, "error", err)
			storageFailed = true
			return nil
		}
		p, err := scoring.DecodeProfile(row.ProfileJSON)
		if err != nil {
			a.logger.Warn("weight profile corrupt, using defaults",
				"user_id", req.UserID, "error", err)
			storageFailed = true
			return nil
		}
		prof = &p
		return nil
	})
	g.Go(func() error {
		rows, err := a.cache.Patterns(req.UserID, func() ([]storage.PatternRow, error) {
			return a.store.ListPatterns(req.UserID, true)
		})
		if err != nil {
			a.logger.Warn("patterns unavailable, skipping pattern match",
				"user_id", req.UserID, "error", err)
			return nil
		}
		pats = rows
		return nil
	})
	g.Wait()

	weights := scoring.DefaultWeights()
	sens := scoring.DefaultSensitivities()
	feedbackCount := 0
	source := SourceDefault
	if prof != nil {
		weights = scoring.Merge(prof.ContextWeights)
		sens = scoring.MergeSensitivities(prof.SensitivityAdjustments)
		feedbackCount = prof.TotalFeedbackCount
		source = SourcePersonalized
	}

	ranked := scoring.Rank(weights, sens, snap)

	if row, ok := pattern.Match(pats, snap); ok {
		return Suggestion{
			Intent:        row.Intent,
			Confidence:    round2(math.Max(row.Confidence, scoring.MinConfidence)),
			Reason:        "learned pattern: " + row.Label,
			Source:        SourcePattern,
			FeedbackCount: feedbackCount,
			Alternative:   alternative(ranked, row.Intent),
			Features:      snap,
		}, nil
	}

	top, runnerUp := ranked[0], ranked[1]
	s := Suggestion{
		Intent:        string(top.Intent),
		Source:        source,
		FeedbackCount: feedbackCount,
		Alternative:   alternative(ranked, string(top.Intent)),
		Features:      snap,
	}
	switch {
	case storageFailed:
		s.Source = SourceFallback
		s.Confidence = scoring.MinConfidence
		s.Reason = "profile unavailable, using defaults"
	case noSignals:
		s.Source = SourceFallback
		s.Confidence = scoring.MinConfidence
		s.Reason = "limited context, going by time of day"
	default:
		s.Confidence = scoring.Confidence(top.Score, runnerUp.Score, feedbackCount)
		s.Reason = buildReason(snap, weights, top.Intent)
	}
	return s, nil
}

// RecordFeedback persists the user's actual choice and enqueues a
// learning job. The write is the source of truth; a failed enqueue is
// reported via LearningQueued rather than failing the call.
func (a *Advisor) RecordFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResult, error) {
	if req.UserID == "" {
		return FeedbackResult{}, errors.New("user_id is required")
	}
	if !scoring.Valid(req.SelectedIntent) {
		return FeedbackResult{}, fmt.Errorf("%w %q", ErrUnknownIntent, req.SelectedIntent)
	}
	if req.SuggestedIntent != "" && !scoring.Valid(req.SuggestedIntent) {
		return FeedbackResult{}, fmt.Errorf("%w %q", ErrUnknownIntent, req.SuggestedIntent)
	}

	// The stored snapshot is the one the suggestion was made under;
	// re-extraction is only a fallback for callers with nothing to echo.
	var snap feature.Snapshot
	if req.Features != nil {
		snap = *req.Features
	} else {
		sig, _ := a.resolveSignals(ctx, req.UserID, req.Signals)
		snap = feature.Extract(sig, a.clock.Now())
	}
	ctxJSON, err := json.Marshal(snap)
	if err != nil {
		return FeedbackResult{}, fmt.Errorf("encoding context snapshot: %w", err)
	}

	rec := storage.FeedbackRecord{
		ID:                  uuid.NewString(),
		UserID:              req.UserID,
		SuggestedIntent:     req.SuggestedIntent,
		SuggestedConfidence: req.SuggestedConfidence,
		SelectedIntent:      req.SelectedIntent,
		WasOverride:         req.SuggestedIntent != "" && req.SelectedIntent != req.SuggestedIntent,
		ContextJSON:         string(ctxJSON),
		OverrideReason:      req.OverrideReason,
		CreatedAt:           a.clock.Now().UTC(),
	}
	if err := a.store.InsertFeedback(rec); err != nil {
		return FeedbackResult{}, fmt.Errorf("recording feedback: %w", err)
	}

	res := FeedbackResult{FeedbackID: rec.ID, WasOverride: rec.WasOverride}

	payload, _ := json.Marshal(learning.LearnPayload{FeedbackID: rec.ID})
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        learning.JobTypeLearn,
		PayloadJSON: string(payload),
	}
	if err := a.store.EnqueueJob(job); err != nil {
		a.logger.Warn("failed to enqueue learning job",
			"feedback_id", rec.ID, "error", err)
		return res, nil
	}
	res.LearningQueued = true
	res.JobID = job.ID
	return res, nil
}

// Stats reports what the engine has learned about a user. Counts come
// from the feedback table rather than the profile so they stay accurate
// even while learning jobs are queued.
func (a *Advisor) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, errors.New("user_id is required")
	}

	st := Stats{
		UserID:           userID,
		ActivePatterns:   []PatternSummary{},
		RecentSelections: map[string]int{},
	}

	total, overrides, err := a.store.CountFeedback(userID)
	if err != nil {
		return Stats{}, fmt.Errorf("counting feedback: %w", err)
	}
	st.FeedbackCount = total
	st.OverrideCount = overrides
	if total > 0 {
		st.OverrideRate = round2(float64(overrides) / float64(total))
	}
	st.ConfidenceLevel = round2(scoring.FeedbackConfidence(total))

	row, err := a.store.GetWeightProfile(userID)
	switch {
	case err == nil:
		st.ProfileVersion = row.Version
		p, err := scoring.DecodeProfile(row.ProfileJSON)
		if err != nil {
			return Stats{}, err
		}
		if !p.LastLearnedAt.IsZero() {
			t := p.LastLearnedAt
			st.LastLearnedAt = &t
		}
	case errors.Is(err, storage.ErrNotFound):
		// No profile yet; defaults apply.
	default:
		return Stats{}, fmt.Errorf("loading weight profile: %w", err)
	}

	pats, err := a.store.ListPatterns(userID, true)
	if err != nil {
		return Stats{}, fmt.Errorf("listing patterns: %w", err)
	}
	for _, p := range pats {
		st.ActivePatterns = append(st.ActivePatterns, PatternSummary{
			Name:       p.Name,
			Label:      p.Label,
			Intent:     p.Intent,
			Confidence: round2(p.Confidence),
			MatchCount: p.MatchCount,
		})
	}

	recent, err := a.store.GetRecentFeedback(userID, 20)
	if err != nil {
		return Stats{}, fmt.Errorf("loading recent feedback: %w", err)
	}
	for _, r := range recent {
		st.RecentSelections[r.SelectedIntent]++
	}
	return st, nil
}

// resolveSignals picks explicit signals over the provider. The boolean
// is true when no signals at all were available and the suggestion can
// only go by time of day.
func (a *Advisor) resolveSignals(ctx context.Context, userID string, explicit *signals.Context) (signals.Context, bool) {
	if explicit != nil {
		return *explicit, false
	}
	if a.provider == nil {
		return signals.Context{}, true
	}
	sig, err := a.provider.Fetch(ctx, userID)
	if err != nil {
		a.logger.Warn("signal fetch failed, using time of day only",
			"user_id", userID, "error", err)
		return signals.Context{}, true
	}
	return sig, false
}

// buildReason names the active buckets that pushed the chosen intent
// up, in plain words.
func buildReason(snap feature.Snapshot, w scoring.Weights, intent scoring.Intent) string {
	var parts []string
	for _, b := range snap.ActiveBuckets() {
		if w[b.Label][intent] > 0 {
			parts = append(parts, strings.ReplaceAll(b.Label, "_", " "))
		}
	}
	switch len(parts) {
	case 0:
		return "no strong signal, " + string(intent) + " looks least bad"
	case 1:
		return parts[0] + " favors " + string(intent)
	default:
		last := parts[len(parts)-1]
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + last + " favor " + string(intent)
	}
}

func alternative(ranked []scoring.Scored, chosen string) string {
	for _, s := range ranked {
		if string(s.Intent) != chosen {
			return string(s.Intent)
		}
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
