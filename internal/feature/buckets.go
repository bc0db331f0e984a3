package feature

// Bucket labels. These double as weight-table keys, so they must stay
// stable across releases; learned weights are stored against them.
const (
	TimeEarlyMorning = "early_morning"
	TimeMorning      = "morning"
	TimeAfternoon    = "afternoon"
	TimeEvening      = "evening"
	TimeLateNight    = "late_night"

	RecoveryLow    = "low_recovery"
	RecoveryMedium = "medium_recovery"
	RecoveryHigh   = "high_recovery"

	CalendarBusy     = "busy_day"
	CalendarLight    = "light_day"
	CalendarModerate = "moderate_day"

	MoodEnergetic = "energetic_mood"
	MoodCalm      = "calm_mood"
	MoodFocused   = "focused_mood"

	FlagPreWorkout = "pre_workout"
	FlagPreMeeting = "pre_meeting"
)

// Bucket categories, used for sensitivity multipliers.
const (
	CategoryTime     = "time"
	CategoryRecovery = "recovery"
	CategoryCalendar = "calendar"
	CategoryMood     = "mood"
	CategoryImminent = "imminent"
)

// Busyness thresholds: >= 5 same-day events is a busy day, <= 1 a light one.
const (
	busyDayEvents  = 5
	lightDayEvents = 1
)

func timeBucket(hour int) string {
	switch {
	case hour >= 5 && hour < 9:
		return TimeEarlyMorning
	case hour >= 9 && hour < 12:
		return TimeMorning
	case hour >= 12 && hour < 17:
		return TimeAfternoon
	case hour >= 17 && hour < 22:
		return TimeEvening
	default:
		return TimeLateNight
	}
}

func recoveryBucket(score float64) string {
	switch {
	case score < 34:
		return RecoveryLow
	case score <= 66:
		return RecoveryMedium
	default:
		return RecoveryHigh
	}
}

func calendarBucket(sameDayEvents int) string {
	switch {
	case sameDayEvents >= busyDayEvents:
		return CalendarBusy
	case sameDayEvents <= lightDayEvents:
		return CalendarLight
	default:
		return CalendarModerate
	}
}

// moodBucket classifies an energy/valence pair, or returns "" when the
// reading doesn't fall into a recognized mood. Checked in order:
// energetic wins over focused for high-energy readings.
func moodBucket(energy, valence float64) string {
	switch {
	case energy > 0.7:
		return MoodEnergetic
	case energy < 0.4 && valence < 0.4:
		return MoodCalm
	case energy > 0.5 && valence < 0.5:
		return MoodFocused
	default:
		return ""
	}
}
