package automation

import (
	"fmt"
	"time"

	"growhub/internal/models"
)

// specificTimesCooldown prevents a SPECIFIC_TIMES automation from firing twice
// inside the same tolerance window.
const specificTimesCooldown = 2 * time.Minute

// Decision is the outcome of the scheduling-mode state machine for one tick.
type Decision struct {
	Due    bool
	Forced models.ActionType // set for SCHEDULED triggers, empty otherwise
}

// WindowAllows reports whether an automation is eligible at all right now:
// today must be in DaysOfWeek (empty = every day) and the time of day must
// fall inside [StartTime, EndTime] when both are set.
func WindowAllows(a models.Automation, now time.Time) bool {
	if len(a.DaysOfWeek) > 0 {
		today := now.Weekday()
		found := false
		for _, d := range a.DaysOfWeek {
			if d == today {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if a.StartTime != "" && a.EndTime != "" {
		start, err1 := parseClock(a.StartTime)
		end, err2 := parseClock(a.EndTime)
		if err1 != nil || err2 != nil {
			return false
		}
		nowMin := minuteOfDay(now)
		if nowMin < start || nowMin > end {
			return false
		}
	}
	return true
}

// Decide runs the scheduling-mode state machine. For SCHEDULED triggers it
// produces a forced action type; for CONDITION/HYBRID it only throttles
// re-evaluation by the automation's interval.
func Decide(a models.Automation, now time.Time) Decision {
	if a.TriggerType != models.TriggerScheduled {
		return Decision{Due: intervalElapsed(a.LastEvaluatedAt, a.IntervalMinutes, now)}
	}

	switch a.ScheduleType {
	case models.ScheduleTimeRange:
		start, err1 := parseClock(a.ActiveStartTime)
		end, err2 := parseClock(a.ActiveEndTime)
		if err1 != nil || err2 != nil {
			return Decision{}
		}
		nowMin := minuteOfDay(now)
		// Inside [start, end) forces on, outside forces off; one automation
		// both opens and closes its window.
		if nowMin >= start && nowMin < end {
			return Decision{Due: true, Forced: models.ActionTurnOn}
		}
		return Decision{Due: true, Forced: models.ActionTurnOff}

	case models.ScheduleInterval:
		if intervalElapsed(a.LastEvaluatedAt, a.IntervalMinutes, now) {
			return Decision{Due: true, Forced: models.ActionTurnOn}
		}
		return Decision{}

	case models.ScheduleSpecificTimes:
		if a.LastEvaluatedAt != nil && now.Sub(*a.LastEvaluatedAt) < specificTimesCooldown {
			return Decision{}
		}
		nowMin := minuteOfDay(now)
		for _, entry := range a.SpecificTimes {
			target, err := parseClock(entry)
			if err != nil {
				continue
			}
			if absInt(nowMin-target) <= 1 {
				return Decision{Due: true, Forced: models.ActionTurnOn}
			}
		}
		return Decision{}
	}
	return Decision{}
}

// intervalElapsed reports whether at least intervalMinutes have passed since
// the last evaluation. A never-evaluated automation is always due.
func intervalElapsed(last *time.Time, intervalMinutes int, now time.Time) bool {
	if last == nil {
		return true
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	return now.Sub(*last) >= time.Duration(intervalMinutes)*time.Minute
}

// parseClock converts "HH:MM" to a minute-of-day value.
func parseClock(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("bad clock value %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	return hour*60 + minute, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
