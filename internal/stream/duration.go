/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream holds the pure stream-level calculators: target runtime
// resolution, relay argument assembly, and post-stop status reconciliation.
// The supervisor builds on these but they carry no process state themselves.
package stream

import (
	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/models"
)

// DurationSeconds resolves a stream's target runtime in seconds.
// Several alternate duration representations survive from earlier schema
// versions; the first positive candidate wins, in strict priority order:
//
//  1. DurationMinutes
//  2. DurationHours
//  3. EndTime - ScheduleTime, when both parse as HH:MM and the
//     difference is positive
//  4. LegacyDurationMin (the old stream_duration column)
//
// Zero, negative, or unparsable candidates are skipped rather than
// treated as zero. When no candidate matches, ok is false and the relay
// process runs until it ends on its own.
func DurationSeconds(s *models.Stream) (seconds int, ok bool) {
	if s.DurationMinutes > 0 {
		return s.DurationMinutes * 60, true
	}
	if s.DurationHours > 0 {
		return s.DurationHours * 3600, true
	}
	start, okStart := clock.ParseHHMM(s.ScheduleTime)
	end, okEnd := clock.ParseHHMM(s.EndTime)
	if okStart && okEnd && end > start {
		return (end - start) * 60, true
	}
	if s.LegacyDurationMin > 0 {
		return s.LegacyDurationMin * 60, true
	}
	return 0, false
}
