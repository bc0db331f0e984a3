// Package scoring computes normalized per-intent scores from a feature
// snapshot and a weight table, and estimates confidence from score
// separation plus feedback history.
package scoring

import (
	"math"
	"sort"

	"github.com/caldant/attuned/internal/feature"
)

const (
	// normEpsilon keeps min-max normalization defined when all raw
	// scores tie.
	normEpsilon = 1e-9

	// scoreGap is the top1-top2 separation that counts as a fully
	// decisive ranking.
	scoreGap = 0.5

	// feedbackTarget is the feedback count at which history alone
	// saturates the confidence estimate.
	feedbackTarget = 30

	// MinConfidence floors every confidence the engine reports.
	MinConfidence = 0.3
)

// Scored is one intent with its raw accumulated weight and its
// normalized [0,1] score.
type Scored struct {
	Intent Intent  `json:"intent"`
	Raw    float64 `json:"raw"`
	Score  float64 `json:"score"`
}

// Rank accumulates weighted evidence for every intent across the
// snapshot's active buckets, min-max normalizes, and returns intents in
// descending score order. Ties keep the fixed intent enumeration order.
//
// Buckets absent from the snapshot contribute nothing; sensitivity
// multipliers scale each bucket's category.
func Rank(w Weights, sensitivity map[string]float64, snap feature.Snapshot) []Scored {
	buckets := snap.ActiveBuckets()

	out := make([]Scored, len(Intents))
	for i, intent := range Intents {
		raw := 0.0
		for _, b := range buckets {
			wv, ok := w[b.Label]
			if !ok {
				continue
			}
			raw += wv[intent] * sensitivityFor(sensitivity, b.Category)
		}
		out[i] = Scored{Intent: intent, Raw: raw}
	}

	lo, hi := out[0].Raw, out[0].Raw
	for _, s := range out[1:] {
		lo = math.Min(lo, s.Raw)
		hi = math.Max(hi, s.Raw)
	}
	for i := range out {
		out[i].Score = (out[i].Raw - lo) / (hi - lo + normEpsilon)
	}

	// Stable sort preserves enumeration order for equal scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func sensitivityFor(sensitivity map[string]float64, category string) float64 {
	if v, ok := sensitivity[category]; ok {
		return v
	}
	return 1.0
}

// Confidence blends score separation (40%) with feedback history (60%),
// rounded to two decimals and floored at MinConfidence. A cold-start
// user stays capped near the floor no matter how decisive the raw
// scores look.
func Confidence(top, runnerUp float64, feedbackCount int) float64 {
	scoreConf := math.Min(1, (top-runnerUp)/scoreGap)
	feedbackConf := math.Min(1, float64(feedbackCount)/feedbackTarget)

	c := math.Round((0.4*scoreConf+0.6*feedbackConf)*100) / 100
	if c < MinConfidence {
		c = MinConfidence
	}
	return c
}

// FeedbackConfidence is the history-only component, exposed because the
// learner persists it on the profile as confidenceLevel.
func FeedbackConfidence(feedbackCount int) float64 {
	return math.Min(1, float64(feedbackCount)/feedbackTarget)
}
