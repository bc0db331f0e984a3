package scoring

import (
	"encoding/json"
	"fmt"
	"time"
)

// Profile is the typed view of a user's learned weight profile. It is
// stored as a JSON document in storage.WeightProfileRow; the version
// counter lives on the row, not here.
type Profile struct {
	ContextWeights         Weights            `json:"context_weights"`
	SensitivityAdjustments map[string]float64 `json:"sensitivity_adjustments"`
	DefaultsVersion        int                `json:"defaults_version"`
	TotalFeedbackCount     int                `json:"total_feedback_count"`
	OverrideRate           float64            `json:"override_rate"`
	ConfidenceLevel        float64            `json:"confidence_level"`
	LastLearnedAt          time.Time          `json:"last_learned_at"`
}

// NewProfile returns a profile seeded from the shipped defaults. The
// learner creates one lazily on a user's first feedback; personalization
// mutates this copy, never the defaults themselves.
func NewProfile() Profile {
	return Profile{
		ContextWeights:         DefaultWeights(),
		SensitivityAdjustments: DefaultSensitivities(),
		DefaultsVersion:        defaultsVersion,
	}
}

// DecodeProfile parses a stored profile document.
func DecodeProfile(doc string) (Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return Profile{}, fmt.Errorf("decoding weight profile: %w", err)
	}
	if p.ContextWeights == nil {
		p.ContextWeights = make(Weights)
	}
	if p.SensitivityAdjustments == nil {
		p.SensitivityAdjustments = DefaultSensitivities()
	}
	return p, nil
}

// Encode serializes the profile for storage. encoding/json emits map
// keys in sorted order, so equal profiles encode to identical bytes.
func (p Profile) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding weight profile: %w", err)
	}
	return string(b), nil
}

// MergeSensitivities overlays learned category multipliers on the
// defaults, so categories without an adjustment keep default behavior.
func MergeSensitivities(learned map[string]float64) map[string]float64 {
	out := DefaultSensitivities()
	for k, v := range learned {
		out[k] = v
	}
	return out
}
