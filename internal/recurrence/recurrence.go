/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recurrence computes the next occurrence of a daily/weekly
// schedule pattern in the fixed civil timezone.
package recurrence

import (
	"time"

	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/models"
)

// NextRun returns the next instant strictly after ref that matches the
// pattern. The result always has zero seconds and sub-second fields.
//
// daily: ref's date at timeOfDay if still ahead, otherwise the next date.
// weekly: the soonest eligible weekday whose timeOfDay is still ahead.
// An unrecognized pattern, empty weekday set for weekly, or a malformed
// timeOfDay yields ok=false.
func NextRun(pattern models.RecurrencePattern, timeOfDay string, weekdays []int, ref time.Time, zone clock.Zone) (time.Time, bool) {
	minutes, ok := clock.ParseHHMM(timeOfDay)
	if !ok {
		return time.Time{}, false
	}

	loc := zone.Location()
	local := ref.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		minutes/60, minutes%60, 0, 0, loc)

	switch pattern {
	case models.RecurrenceDaily:
		if !candidate.After(ref) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, true

	case models.RecurrenceWeekly:
		if len(weekdays) == 0 {
			return time.Time{}, false
		}
		allowed := make(map[time.Weekday]bool, len(weekdays))
		for _, d := range weekdays {
			if d >= 0 && d <= 6 {
				allowed[time.Weekday(d)] = true
			}
		}
		if len(allowed) == 0 {
			return time.Time{}, false
		}
		for i := 0; i < 8; i++ {
			if allowed[candidate.Weekday()] && candidate.After(ref) {
				return candidate, true
			}
			candidate = candidate.AddDate(0, 0, 1)
		}
		return time.Time{}, false

	default:
		return time.Time{}, false
	}
}
