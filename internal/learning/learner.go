// Package learning adjusts a user's weight profile from feedback and
// runs the background worker that processes queued learn jobs.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/scoring"
	"github.com/caldant/attuned/internal/storage"
)

const (
	// baseRate is the per-feedback weight step.
	baseRate = 0.1

	// overrideMultiplier doubles the evidence of an explicit correction
	// relative to a passive confirmation.
	overrideMultiplier = 2.0

	// penaltyFactor softens the negative update on the wrongly-suggested
	// intent, so one miss doesn't collapse its weight.
	penaltyFactor = 0.5

	// maxSaveAttempts bounds the compare-and-swap retry loop when
	// concurrent feedback events race on the same profile.
	maxSaveAttempts = 5
)

// ProfileStore is the storage surface the learner needs.
type ProfileStore interface {
	GetWeightProfile(userID string) (storage.WeightProfileRow, error)
	SaveWeightProfile(row storage.WeightProfileRow) (int64, error)
	CountFeedback(userID string) (total, overrides int, err error)
}

// Invalidator drops a user's cache entries after a profile write.
type Invalidator interface {
	Invalidate(userID string)
}

// PatternMiner re-derives patterns after learning. Its failure never
// fails the learn.
type PatternMiner interface {
	Run(ctx context.Context, userID string) error
}

// Learner applies the online weight-update rule to a user's profile.
type Learner struct {
	store  ProfileStore
	cache  Invalidator
	miner  PatternMiner
	logger *slog.Logger
}

// NewLearner wires a Learner. cache and miner may be nil (no-op), which
// tests use to exercise the update rule in isolation.
func NewLearner(store ProfileStore, cache Invalidator, miner PatternMiner) *Learner {
	return &Learner{
		store:  store,
		cache:  cache,
		miner:  miner,
		logger: slog.Default(),
	}
}

// Learn applies one feedback record:
//
//  1. The selected intent gains baseRate (doubled on override) in every
//     ambient bucket of the record's stored context.
//  2. On override, the wrongly-suggested intent loses half a baseRate
//     in the same buckets.
//  3. Feedback counters are recomputed from stored history, never
//     incremented blindly.
//  4. The profile is saved with compare-and-swap; conflicts reload and
//     reapply, so concurrent feedback can't silently drop updates.
//
// Cache invalidation follows a successful save. Pattern mining runs
// last, best-effort.
func (l *Learner) Learn(ctx context.Context, rec storage.FeedbackRecord) error {
	var snap feature.Snapshot
	if err := json.Unmarshal([]byte(rec.ContextJSON), &snap); err != nil {
		return fmt.Errorf("decoding context snapshot: %w", err)
	}

	total, overrides, err := l.store.CountFeedback(rec.UserID)
	if err != nil {
		return fmt.Errorf("counting feedback: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := l.store.GetWeightProfile(rec.UserID)
		var profile scoring.Profile
		switch {
		case err == nil:
			if profile, err = scoring.DecodeProfile(row.ProfileJSON); err != nil {
				return err
			}
		case errors.Is(err, storage.ErrNotFound):
			// First feedback: seed from defaults, version 0 inserts.
			profile = scoring.NewProfile()
			row = storage.WeightProfileRow{UserID: rec.UserID}
		default:
			return fmt.Errorf("loading weight profile: %w", err)
		}

		applyUpdate(&profile, snap, rec)
		profile.TotalFeedbackCount = total
		if total > 0 {
			profile.OverrideRate = float64(overrides) / float64(total)
		}
		profile.ConfidenceLevel = scoring.FeedbackConfidence(total)
		profile.LastLearnedAt = time.Now().UTC()

		doc, err := profile.Encode()
		if err != nil {
			return err
		}
		row.ProfileJSON = doc

		_, err = l.store.SaveWeightProfile(row)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return fmt.Errorf("saving weight profile: %w", err)
		}
		if attempt+1 >= maxSaveAttempts {
			return fmt.Errorf("saving weight profile: %w after %d attempts", err, maxSaveAttempts)
		}
	}

	if l.cache != nil {
		l.cache.Invalidate(rec.UserID)
	}

	if l.miner != nil {
		if err := l.miner.Run(ctx, rec.UserID); err != nil {
			l.logger.Warn("pattern mining failed", "user_id", rec.UserID, "error", err)
		}
	}
	return nil
}

// applyUpdate mutates the profile weights for one feedback record.
// Each ambient bucket is updated independently, never combinatorially.
func applyUpdate(p *scoring.Profile, snap feature.Snapshot, rec storage.FeedbackRecord) {
	multiplier := 1.0
	if rec.WasOverride {
		multiplier = overrideMultiplier
	}

	selected := scoring.Intent(rec.SelectedIntent)
	suggested := scoring.Intent(rec.SuggestedIntent)

	for _, bucket := range snap.LearningBuckets() {
		wv, ok := p.ContextWeights[bucket]
		if !ok {
			wv = make(map[scoring.Intent]float64)
			p.ContextWeights[bucket] = wv
		}
		wv[selected] += baseRate * multiplier
		if rec.WasOverride {
			wv[suggested] -= baseRate * penaltyFactor
		}
	}
}
