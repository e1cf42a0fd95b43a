package rules

import (
	"slices"
	"time"

	"crossfeed/pkg/domain"
)

// scheduleSearchLimit bounds the forward search for an allowed slot; a
// window that stays closed for two weeks is a misconfigured rule
const scheduleSearchLimit = 14 * 24 * time.Hour

// NextTime resolves when a matched cross-post should go out. The delay is
// applied first, then the result is pushed forward hour by hour in the
// rule's timezone until both the allowed-hours and allowed-days windows
// open. An immediate schedule skips the window search entirely, and empty
// windows mean every hour or day is allowed.
func NextTime(s domain.ScheduleSpec, now time.Time) time.Time {
	at := now
	if s.DelayMinutes > 0 {
		at = at.Add(time.Duration(s.DelayMinutes) * time.Minute)
	}

	if s.Immediate || (len(s.AllowedHours) == 0 && len(s.AllowedDays) == 0) {
		return at.UTC()
	}

	loc := s.Location()
	local := at.In(loc)
	deadline := at.Add(scheduleSearchLimit)

	for !local.After(deadline.In(loc)) {
		if allowed(s, local) {
			return local.UTC()
		}
		// jump to the top of the next hour in local time
		local = time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc).Add(time.Hour)
	}

	// window never opens within the search horizon, send at the delayed time
	return at.UTC()
}

func allowed(s domain.ScheduleSpec, t time.Time) bool {
	if len(s.AllowedHours) > 0 && !slices.Contains(s.AllowedHours, t.Hour()) {
		return false
	}
	if len(s.AllowedDays) > 0 && !slices.Contains(s.AllowedDays, int(t.Weekday())) {
		return false
	}
	return true
}
