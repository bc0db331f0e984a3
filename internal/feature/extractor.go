// Package feature turns a raw signals.Context into the discrete feature
// snapshot the scoring engine and pattern matcher operate on. Missing
// source signals simply leave the corresponding fields unset; nothing
// here imputes or defaults.
package feature

import (
	"regexp"
	"time"

	"github.com/caldant/attuned/internal/signals"
)

// Snapshot is the derived feature set for one moment in time. It is
// never persisted on its own, but a copy travels inside every feedback
// record so learning and mining see the context the suggestion was made
// under. Field names in JSON are the feature names pattern conditions
// refer to.
type Snapshot struct {
	Recovery          *float64 `json:"recovery,omitempty"`
	Strain            *float64 `json:"strain,omitempty"`
	SleepHours        *float64 `json:"sleep_hours,omitempty"`
	MinutesUntilEvent *int     `json:"minutes_until_event,omitempty"`

	TimeBucket     string `json:"time_bucket,omitempty"`
	RecoveryBucket string `json:"recovery_bucket,omitempty"`
	CalendarBucket string `json:"calendar_bucket,omitempty"`
	MoodBucket     string `json:"mood_bucket,omitempty"`

	HasUpcomingWorkout bool `json:"has_upcoming_workout,omitempty"`
	HasUpcomingMeeting bool `json:"has_upcoming_meeting,omitempty"`
}

// Bucket is an active bucket label tagged with its category.
type Bucket struct {
	Label    string
	Category string
}

// ActiveBuckets returns every bucket the snapshot activates, in a fixed
// order, including the imminent-event flag buckets. The scoring engine
// iterates this list.
func (s Snapshot) ActiveBuckets() []Bucket {
	var out []Bucket
	if s.TimeBucket != "" {
		out = append(out, Bucket{s.TimeBucket, CategoryTime})
	}
	if s.RecoveryBucket != "" {
		out = append(out, Bucket{s.RecoveryBucket, CategoryRecovery})
	}
	if s.CalendarBucket != "" {
		out = append(out, Bucket{s.CalendarBucket, CategoryCalendar})
	}
	if s.MoodBucket != "" {
		out = append(out, Bucket{s.MoodBucket, CategoryMood})
	}
	if s.HasUpcomingWorkout {
		out = append(out, Bucket{FlagPreWorkout, CategoryImminent})
	}
	if s.HasUpcomingMeeting {
		out = append(out, Bucket{FlagPreMeeting, CategoryImminent})
	}
	return out
}

// LearningBuckets returns the ambient bucket labels the online learner
// adjusts weights for: time, recovery, calendar, and mood. Each is
// treated independently, never combinatorially. Flag buckets are
// excluded; they are mined as patterns instead.
func (s Snapshot) LearningBuckets() []string {
	var out []string
	for _, b := range []string{s.TimeBucket, s.RecoveryBucket, s.CalendarBucket, s.MoodBucket} {
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Event classes derived from calendar titles. Ordered: the first
// matching class wins, so "presentation sync" classifies as a meeting.
const (
	eventMeeting      = "meeting"
	eventPresentation = "presentation"
	eventWorkout      = "workout"
	eventLearning     = "learning"
	eventGeneral      = "general"
)

var eventClasses = []struct {
	class string
	re    *regexp.Regexp
}{
	{eventMeeting, regexp.MustCompile(`(?i)\b(meeting|standup|sync|1:1|1on1)\b`)},
	{eventPresentation, regexp.MustCompile(`(?i)\b(presentation|demo|pitch)\b`)},
	{eventWorkout, regexp.MustCompile(`(?i)\b(workout|gym|run|yoga|fitness)\b`)},
	{eventLearning, regexp.MustCompile(`(?i)\b(class|lecture|course)\b`)},
}

func classifyEvent(title string) string {
	for _, ec := range eventClasses {
		if ec.re.MatchString(title) {
			return ec.class
		}
	}
	return eventGeneral
}

// upcomingWindow is how far ahead a next event still counts as imminent.
const upcomingWindow = 120 * time.Minute

// Extract derives a Snapshot from the signal aggregate at the given
// wall-clock time.
func Extract(sig signals.Context, now time.Time) Snapshot {
	snap := Snapshot{
		TimeBucket: timeBucket(now.Hour()),
		Strain:     sig.Strain,
		SleepHours: sig.SleepHours,
	}

	if sig.Recovery != nil {
		snap.Recovery = sig.Recovery
		snap.RecoveryBucket = recoveryBucket(*sig.Recovery)
	}

	if sig.Calendar != nil {
		snap.CalendarBucket = calendarBucket(countSameDay(sig.Calendar.Events, now))

		if next := sig.Calendar.NextEvent; next != nil && sameDay(next.StartTime, now) {
			until := next.StartTime.Sub(now)
			if until >= 0 && until <= upcomingWindow {
				mins := int(until / time.Minute)
				snap.MinutesUntilEvent = &mins
				switch classifyEvent(next.Title) {
				case eventMeeting, eventPresentation:
					// Presentations carry the same imminent-meeting pressure.
					snap.HasUpcomingMeeting = true
				case eventWorkout:
					snap.HasUpcomingWorkout = true
				}
			}
		}
	}

	if sig.Mood != nil {
		snap.MoodBucket = moodBucket(sig.Mood.Energy, sig.Mood.Valence)
	}

	return snap
}

func countSameDay(events []signals.Event, now time.Time) int {
	n := 0
	for _, e := range events {
		if sameDay(e.StartTime, now) {
			n++
		}
	}
	return n
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
