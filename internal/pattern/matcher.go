package pattern

import (
	"sort"

	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/storage"
)

// MatchThreshold is the minimum confidence a pattern needs to
// short-circuit scoring.
const MatchThreshold = 0.8

// Match walks active patterns in confidence-descending order and returns
// the first one whose conditions all hold against the snapshot and whose
// confidence clears MatchThreshold.
//
// This is deliberately first-match, not best-match: when several
// patterns could apply, the most confident one wins regardless of
// specificity. Ties break by name for determinism.
func Match(patterns []storage.PatternRow, snap feature.Snapshot) (storage.PatternRow, bool) {
	sorted := make([]storage.PatternRow, 0, len(patterns))
	for _, p := range patterns {
		if p.Active {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, p := range sorted {
		if p.Confidence < MatchThreshold {
			// Sorted by confidence, nothing below this can qualify.
			break
		}
		conds, err := DecodeConditions(p.ConditionsJSON)
		if err != nil {
			continue
		}
		if Matches(conds, snap) {
			return p, true
		}
	}
	return storage.PatternRow{}, false
}
