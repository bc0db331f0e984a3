package scoring

// Intent is a recommendation category the engine can output.
type Intent string

const (
	IntentFocus    Intent = "focus"
	IntentRelax    Intent = "relax"
	IntentWorkout  Intent = "workout"
	IntentSleep    Intent = "sleep"
	IntentEnergize Intent = "energize"
)

// Intents is the fixed enumeration order. Ranking ties break by this
// order, never by map iteration, so output is deterministic.
var Intents = []Intent{IntentFocus, IntentRelax, IntentWorkout, IntentSleep, IntentEnergize}

// Valid reports whether s names a known intent.
func Valid(s string) bool {
	for _, it := range Intents {
		if string(it) == s {
			return true
		}
	}
	return false
}
