package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/scoring"
	"github.com/caldant/attuned/internal/storage"
)

const (
	// DiscoveryThreshold is the minimum number of observations of a
	// candidate key before a pattern may exist for it.
	DiscoveryThreshold = 3

	// MinSuccessRate is the selected-intent consistency a candidate
	// needs to be (or stay) active.
	MinSuccessRate = 0.6

	// historyWindow bounds how much feedback history a mining run reads.
	historyWindow = 50
)

// MinerStore is the storage surface the miner needs.
type MinerStore interface {
	GetRecentFeedback(userID string, limit int) ([]storage.FeedbackRecord, error)
	UpsertPattern(p storage.PatternRow) error
}

// Miner re-derives a user's patterns from recent feedback history.
// Mining is idempotent: the same history always produces the same
// pattern rows, keyed by candidate name.
type Miner struct {
	store  MinerStore
	logger *slog.Logger
}

// NewMiner creates a Miner backed by the given store.
func NewMiner(store MinerStore) *Miner {
	return &Miner{store: store, logger: slog.Default()}
}

// Run mines the user's recent feedback and upserts the resulting
// patterns. A user with fewer than DiscoveryThreshold records is a
// no-op.
func (m *Miner) Run(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := m.store.GetRecentFeedback(userID, historyWindow)
	if err != nil {
		return fmt.Errorf("loading feedback history: %w", err)
	}
	if len(records) < DiscoveryThreshold {
		return nil
	}

	candidates := tally(records)

	// Sorted names keep upsert order deterministic across runs.
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	for _, name := range names {
		c := candidates[name]
		if c.total < DiscoveryThreshold {
			continue
		}

		intent, count := c.topIntent()
		rate := float64(count) / float64(c.total)

		condsJSON, err := EncodeConditions(c.conditions)
		if err != nil {
			return err
		}

		row := storage.PatternRow{
			UserID:         userID,
			Name:           name,
			Label:          c.label,
			Intent:         intent,
			ConditionsJSON: condsJSON,
			Confidence:     rate,
			MatchCount:     c.total,
			FollowCount:    count,
			Active:         rate >= MinSuccessRate,
			UpdatedAt:      now,
		}
		if err := m.store.UpsertPattern(row); err != nil {
			return fmt.Errorf("upserting pattern %q: %w", name, err)
		}
	}

	m.logger.Debug("pattern mining complete", "user_id", userID, "records", len(records), "candidates", len(candidates))
	return nil
}

// candidate accumulates intent selections for one composite context key.
type candidate struct {
	label      string
	conditions []Condition
	total      int
	intents    map[string]int
}

// topIntent returns the most-selected intent, breaking ties by the
// fixed intent enumeration order.
func (c *candidate) topIntent() (string, int) {
	best, bestCount := "", -1
	for _, it := range scoring.Intents {
		if n := c.intents[string(it)]; n > bestCount {
			best, bestCount = string(it), n
		}
	}
	return best, bestCount
}

// tally derives candidate keys from every record's stored context and
// counts intent selections per key.
func tally(records []storage.FeedbackRecord) map[string]*candidate {
	out := make(map[string]*candidate)

	add := func(name, label string, conds []Condition, intent string) {
		c, ok := out[name]
		if !ok {
			c = &candidate{label: label, conditions: conds, intents: make(map[string]int)}
			out[name] = c
		}
		c.total++
		c.intents[intent]++
	}

	for _, rec := range records {
		var snap feature.Snapshot
		if err := json.Unmarshal([]byte(rec.ContextJSON), &snap); err != nil {
			continue // malformed snapshot, skip the record
		}

		for _, k := range candidateKeys(snap) {
			add(k.name, k.label, k.conditions, rec.SelectedIntent)
		}
	}
	return out
}

type key struct {
	name       string
	label      string
	conditions []Condition
}

// candidateKeys derives the composite keys a snapshot contributes to:
// recovery×time, calendar×time, mood×time, and the imminent-event
// singletons.
func candidateKeys(snap feature.Snapshot) []key {
	var keys []key

	if snap.RecoveryBucket != "" && snap.TimeBucket != "" {
		if rc, ok := recoveryCondition(snap.RecoveryBucket); ok {
			keys = append(keys, key{
				name:  snap.RecoveryBucket + "_" + snap.TimeBucket,
				label: humanize(snap.RecoveryBucket) + " during " + humanize(snap.TimeBucket),
				conditions: []Condition{
					rc,
					eqCondition("time_bucket", snap.TimeBucket),
				},
			})
		}
	}

	if snap.CalendarBucket != "" && snap.TimeBucket != "" {
		keys = append(keys, key{
			name:  snap.CalendarBucket + "_" + snap.TimeBucket,
			label: humanize(snap.CalendarBucket) + " during " + humanize(snap.TimeBucket),
			conditions: []Condition{
				eqCondition("calendar_bucket", snap.CalendarBucket),
				eqCondition("time_bucket", snap.TimeBucket),
			},
		})
	}

	if snap.MoodBucket != "" && snap.TimeBucket != "" {
		keys = append(keys, key{
			name:  snap.MoodBucket + "_" + snap.TimeBucket,
			label: humanize(snap.MoodBucket) + " during " + humanize(snap.TimeBucket),
			conditions: []Condition{
				eqCondition("mood_bucket", snap.MoodBucket),
				eqCondition("time_bucket", snap.TimeBucket),
			},
		})
	}

	if snap.HasUpcomingWorkout {
		keys = append(keys, key{
			name:       feature.FlagPreWorkout,
			label:      "before a workout",
			conditions: []Condition{flagCondition("has_upcoming_workout")},
		})
	}

	if snap.HasUpcomingMeeting {
		keys = append(keys, key{
			name:       feature.FlagPreMeeting,
			label:      "before a meeting",
			conditions: []Condition{flagCondition("has_upcoming_meeting")},
		})
	}

	return keys
}

func humanize(bucket string) string {
	return strings.ReplaceAll(bucket, "_", " ")
}
