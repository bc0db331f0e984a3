// Package pattern implements discovered context→intent rules: the
// structured conditions they are made of, the first-match fast path the
// suggest flow consults, and the frequency miner that derives rules
// from feedback history.
package pattern

import (
	"encoding/json"
	"fmt"

	"github.com/caldant/attuned/internal/feature"
)

// Condition ops.
const (
	OpEq    = "eq"    // exact equality on a categorical or boolean feature
	OpRange = "range" // inclusive [min, max] check on a numeric feature
)

// Condition is a single constraint over one feature of a snapshot.
// Exactly one of Value, Flag, or Min/Max is populated depending on Op
// and the feature's type.
type Condition struct {
	Feature string   `json:"feature"`
	Op      string   `json:"op"`
	Value   string   `json:"value,omitempty"`
	Flag    *bool    `json:"flag,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
}

// Holds reports whether the condition is satisfied by the snapshot.
// A condition referencing a feature the snapshot doesn't carry fails;
// absence is never treated as zero.
func (c Condition) Holds(snap feature.Snapshot) bool {
	switch c.Feature {
	case "time_bucket":
		return c.eqString(snap.TimeBucket)
	case "recovery_bucket":
		return c.eqString(snap.RecoveryBucket)
	case "calendar_bucket":
		return c.eqString(snap.CalendarBucket)
	case "mood_bucket":
		return c.eqString(snap.MoodBucket)
	case "recovery":
		return c.inRange(snap.Recovery)
	case "strain":
		return c.inRange(snap.Strain)
	case "sleep_hours":
		return c.inRange(snap.SleepHours)
	case "minutes_until_event":
		if snap.MinutesUntilEvent == nil {
			return false
		}
		v := float64(*snap.MinutesUntilEvent)
		return c.inRange(&v)
	case "has_upcoming_workout":
		return c.eqFlag(snap.HasUpcomingWorkout)
	case "has_upcoming_meeting":
		return c.eqFlag(snap.HasUpcomingMeeting)
	default:
		return false
	}
}

func (c Condition) eqString(have string) bool {
	return c.Op == OpEq && have != "" && have == c.Value
}

func (c Condition) eqFlag(have bool) bool {
	// Flag features are only "present" when set; a condition on an
	// unset flag fails rather than matching false.
	return c.Op == OpEq && c.Flag != nil && have && *c.Flag
}

func (c Condition) inRange(have *float64) bool {
	if c.Op != OpRange || have == nil {
		return false
	}
	if c.Min != nil && *have < *c.Min {
		return false
	}
	if c.Max != nil && *have > *c.Max {
		return false
	}
	return true
}

// Matches reports whether every condition holds. A pattern with no
// conditions matches nothing.
func Matches(conds []Condition, snap feature.Snapshot) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !c.Holds(snap) {
			return false
		}
	}
	return true
}

// EncodeConditions serializes conditions for storage. Struct field
// order is fixed, so equal condition sets encode identically.
func EncodeConditions(conds []Condition) (string, error) {
	b, err := json.Marshal(conds)
	if err != nil {
		return "", fmt.Errorf("encoding conditions: %w", err)
	}
	return string(b), nil
}

// DecodeConditions parses a stored condition set.
func DecodeConditions(doc string) ([]Condition, error) {
	var conds []Condition
	if err := json.Unmarshal([]byte(doc), &conds); err != nil {
		return nil, fmt.Errorf("decoding conditions: %w", err)
	}
	return conds, nil
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// eqCondition builds an equality condition on a categorical feature.
func eqCondition(featureName, value string) Condition {
	return Condition{Feature: featureName, Op: OpEq, Value: value}
}

// flagCondition builds an equality condition on a boolean feature.
func flagCondition(featureName string) Condition {
	return Condition{Feature: featureName, Op: OpEq, Flag: boolPtr(true)}
}

// recoveryCondition builds the condition for a recovery bucket. It
// matches the bucket label itself rather than a reconstructed numeric
// range: the extractor buckets fractional scores continuously, and a
// bucket-equality condition agrees with it at every score, including
// the interval edges where an integer range would not.
func recoveryCondition(bucket string) (Condition, bool) {
	switch bucket {
	case feature.RecoveryLow, feature.RecoveryMedium, feature.RecoveryHigh:
		return eqCondition("recovery_bucket", bucket), true
	}
	return Condition{}, false
}
