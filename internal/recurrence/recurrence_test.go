/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recurrence

import (
	"testing"
	"time"

	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/models"
)

var jakarta = clock.FixedZone("Asia/Jakarta", 7)

func localDate(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, jakarta.Location())
}

func TestNextRunDailySameDay(t *testing.T) {
	ref := localDate(2026, 3, 2, 6, 0) // Monday 06:00
	next, ok := NextRun(models.RecurrenceDaily, "08:00", nil, ref, jakarta)
	if !ok {
		t.Fatal("expected daily schedule to resolve")
	}
	if want := localDate(2026, 3, 2, 8, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunDailyRollsToNextDay(t *testing.T) {
	tests := []struct {
		name string
		ref  time.Time
	}{
		{"after time of day", localDate(2026, 3, 2, 9, 30)},
		{"exactly at time of day", localDate(2026, 3, 2, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextRun(models.RecurrenceDaily, "08:00", nil, tt.ref, jakarta)
			if !ok {
				t.Fatal("expected daily schedule to resolve")
			}
			if want := localDate(2026, 3, 3, 8, 0); !next.Equal(want) {
				t.Fatalf("next = %v, want %v", next, want)
			}
		})
	}
}

func TestNextRunDailyStripsSeconds(t *testing.T) {
	ref := time.Date(2026, 3, 2, 6, 12, 45, 999, jakarta.Location())
	next, ok := NextRun(models.RecurrenceDaily, "08:00", nil, ref, jakarta)
	if !ok {
		t.Fatal("expected daily schedule to resolve")
	}
	if next.Second() != 0 || next.Nanosecond() != 0 {
		t.Fatalf("next has sub-minute component: %v", next)
	}
	if !next.After(ref) {
		t.Fatalf("next %v not strictly after ref %v", next, ref)
	}
}

func TestNextRunWeeklyPicksSoonestEligibleDay(t *testing.T) {
	// Monday 09:00, schedule fires Wednesday and Friday at 08:00.
	ref := localDate(2026, 3, 2, 9, 0)
	next, ok := NextRun(models.RecurrenceWeekly, "08:00", []int{3, 5}, ref, jakarta)
	if !ok {
		t.Fatal("expected weekly schedule to resolve")
	}
	if want := localDate(2026, 3, 4, 8, 0); !next.Equal(want) { // Wednesday
		t.Fatalf("next = %v, want %v", next, want)
	}
	if next.In(jakarta.Location()).Weekday() != time.Wednesday {
		t.Fatalf("next weekday = %v, want Wednesday", next.Weekday())
	}
}

func TestNextRunWeeklySameDayStillAhead(t *testing.T) {
	// Wednesday 06:00, Wednesday 08:00 is still ahead today.
	ref := localDate(2026, 3, 4, 6, 0)
	next, ok := NextRun(models.RecurrenceWeekly, "08:00", []int{3}, ref, jakarta)
	if !ok {
		t.Fatal("expected weekly schedule to resolve")
	}
	if want := localDate(2026, 3, 4, 8, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunWeeklySameDayAlreadyPassedWrapsAWeek(t *testing.T) {
	// Wednesday 09:00 with only Wednesday eligible: next week's Wednesday.
	ref := localDate(2026, 3, 4, 9, 0)
	next, ok := NextRun(models.RecurrenceWeekly, "08:00", []int{3}, ref, jakarta)
	if !ok {
		t.Fatal("expected weekly schedule to resolve")
	}
	if want := localDate(2026, 3, 11, 8, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunRejectsInvalidInput(t *testing.T) {
	ref := localDate(2026, 3, 2, 6, 0)

	tests := []struct {
		name      string
		pattern   models.RecurrencePattern
		timeOfDay string
		weekdays  []int
	}{
		{"unknown pattern", "monthly", "08:00", nil},
		{"empty pattern", "", "08:00", nil},
		{"malformed time", models.RecurrenceDaily, "8am", nil},
		{"missing time", models.RecurrenceDaily, "", nil},
		{"weekly empty weekday set", models.RecurrenceWeekly, "08:00", nil},
		{"weekly out-of-range weekdays", models.RecurrenceWeekly, "08:00", []int{7, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := NextRun(tt.pattern, tt.timeOfDay, tt.weekdays, ref, jakarta); ok {
				t.Fatal("expected no occurrence")
			}
		})
	}
}
