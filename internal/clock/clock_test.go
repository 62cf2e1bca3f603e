/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"testing"
	"time"
)

func TestAtConvertsToFixedZone(t *testing.T) {
	zone := FixedZone("Asia/Jakarta", 7)

	// 01:30 UTC is 08:30 in UTC+7, same calendar day.
	instant := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)
	civil := zone.At(instant)

	if civil.Hour != 8 || civil.Minute != 30 {
		t.Fatalf("civil time = %02d:%02d, want 08:30", civil.Hour, civil.Minute)
	}
	if civil.MinuteOfDay != 8*60+30 {
		t.Fatalf("MinuteOfDay = %d, want %d", civil.MinuteOfDay, 8*60+30)
	}
	if civil.Weekday != time.Monday {
		t.Fatalf("Weekday = %v, want Monday", civil.Weekday)
	}
	if civil.Date != "2026-03-02" {
		t.Fatalf("Date = %q, want 2026-03-02", civil.Date)
	}
	if civil.ClockHHMM != "08:30" {
		t.Fatalf("ClockHHMM = %q, want 08:30", civil.ClockHHMM)
	}
}

func TestAtCrossesDateBoundary(t *testing.T) {
	zone := FixedZone("Asia/Jakarta", 7)

	// 20:00 UTC Sunday is 03:00 Monday in UTC+7.
	instant := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	civil := zone.At(instant)

	if civil.Date != "2026-03-02" {
		t.Fatalf("Date = %q, want 2026-03-02", civil.Date)
	}
	if civil.Weekday != time.Monday {
		t.Fatalf("Weekday = %v, want Monday", civil.Weekday)
	}
}

func TestLoadZoneFallsBackOnUnknownName(t *testing.T) {
	zone, err := LoadZone("Not/AZone")
	if err == nil {
		t.Fatal("expected error for unknown zone name")
	}
	// Degraded mode still yields a usable fixed-offset zone.
	civil := zone.At(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	if civil.Hour != 8 {
		t.Fatalf("fallback zone hour = %d, want 8", civil.Hour)
	}
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		minutes int
		ok      bool
	}{
		{"08:00", 480, true},
		{"00:00", 0, true},
		{"23:59", 1439, true},
		{"08:00:30", 480, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"", 0, false},
		{"noon", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseHHMM(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseHHMM(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.minutes {
			t.Errorf("ParseHHMM(%q) = %d, want %d", tt.in, got, tt.minutes)
		}
	}
}
