package scoring

import "github.com/caldant/attuned/internal/feature"

// Weights maps bucket label → intent → signed weight. Weights are
// unbounded: negative values are inhibitory evidence, and learned
// magnitudes grow over a user's lifetime (no decay is applied).
type Weights map[string]map[Intent]float64

// defaultsVersion identifies the shipped prior table. Bumped whenever
// the table below changes shape.
const defaultsVersion = 1

// defaultWeights is the shipped prior table. New users score against it
// verbatim; personalization always mutates a copy seeded from it, so
// buckets the user has no feedback for keep behaving like this table.
var defaultWeights = Weights{
	feature.RecoveryLow: {
		IntentRelax:    0.7,
		IntentSleep:    0.3,
		IntentFocus:    -0.2,
		IntentEnergize: -0.3,
		IntentWorkout:  -0.5, // low recovery argues hardest against training
	},
	feature.RecoveryMedium: {
		IntentFocus:   0.3,
		IntentWorkout: 0.2,
		IntentRelax:   0.1,
	},
	feature.RecoveryHigh: {
		IntentWorkout:  0.6,
		IntentEnergize: 0.4,
		IntentFocus:    0.3,
		IntentRelax:    -0.2,
		IntentSleep:    -0.4,
	},

	feature.TimeEarlyMorning: {
		IntentEnergize: 0.4,
		IntentWorkout:  0.3,
		IntentFocus:    0.2,
		IntentSleep:    -0.2,
	},
	feature.TimeMorning: {
		IntentFocus:    0.5,
		IntentWorkout:  0.3,
		IntentEnergize: 0.2,
		IntentRelax:    -0.1,
		IntentSleep:    -0.4,
	},
	feature.TimeAfternoon: {
		IntentFocus:    0.4,
		IntentEnergize: 0.2,
		IntentSleep:    -0.3,
	},
	feature.TimeEvening: {
		IntentRelax:   0.5,
		IntentSleep:   0.2,
		IntentWorkout: 0.1,
		IntentFocus:   -0.2,
	},
	feature.TimeLateNight: {
		IntentSleep:    0.7,
		IntentRelax:    0.3,
		IntentFocus:    -0.4,
		IntentEnergize: -0.5,
		IntentWorkout:  -0.6,
	},

	feature.CalendarBusy: {
		IntentFocus:    0.5,
		IntentEnergize: 0.2,
		IntentWorkout:  -0.2,
		IntentRelax:    -0.1,
	},
	feature.CalendarModerate: {
		IntentFocus: 0.2,
	},
	feature.CalendarLight: {
		IntentRelax:    0.3,
		IntentWorkout:  0.3,
		IntentEnergize: 0.2,
	},

	feature.MoodEnergetic: {
		IntentWorkout:  0.5,
		IntentEnergize: 0.4,
		IntentFocus:    0.2,
		IntentSleep:    -0.3,
	},
	feature.MoodCalm: {
		IntentRelax: 0.5,
		IntentSleep: 0.3,
		IntentFocus: 0.1,
	},
	feature.MoodFocused: {
		IntentFocus:   0.6,
		IntentRelax:   -0.2,
		IntentWorkout: -0.1,
	},

	feature.FlagPreMeeting: {
		IntentFocus:    0.6,
		IntentEnergize: 0.3,
		IntentWorkout:  -0.6,
		IntentSleep:    -0.7,
	},
	feature.FlagPreWorkout: {
		IntentWorkout:  0.7,
		IntentEnergize: 0.5,
		IntentRelax:    -0.3,
		IntentSleep:    -0.6,
	},
}

// defaultSensitivities are the category multipliers applied during
// accumulation. Ambient factors carry half weight; imminent-event flags
// are boosted because a workout in 20 minutes predicts more than a
// morning does.
var defaultSensitivities = map[string]float64{
	feature.CategoryTime:     0.5,
	feature.CategoryRecovery: 0.5,
	feature.CategoryCalendar: 0.5,
	feature.CategoryMood:     0.5,
	feature.CategoryImminent: 1.4,
}

// DefaultWeights returns a deep copy of the shipped prior table.
func DefaultWeights() Weights {
	return copyWeights(defaultWeights)
}

// DefaultSensitivities returns a copy of the default category multipliers.
func DefaultSensitivities() map[string]float64 {
	out := make(map[string]float64, len(defaultSensitivities))
	for k, v := range defaultSensitivities {
		out[k] = v
	}
	return out
}

// DefaultsVersion returns the version of the shipped prior table.
func DefaultsVersion() int {
	return defaultsVersion
}

// Merge overlays learned weights on a fresh copy of the defaults.
// Buckets (and intents within a bucket) absent from learned keep their
// default priors.
func Merge(learned Weights) Weights {
	out := DefaultWeights()
	for bucket, wv := range learned {
		dst, ok := out[bucket]
		if !ok {
			dst = make(map[Intent]float64, len(wv))
			out[bucket] = dst
		}
		for intent, w := range wv {
			dst[intent] = w
		}
	}
	return out
}

func copyWeights(w Weights) Weights {
	out := make(Weights, len(w))
	for bucket, wv := range w {
		dst := make(map[Intent]float64, len(wv))
		for intent, weight := range wv {
			dst[intent] = weight
		}
		out[bucket] = dst
	}
	return out
}
