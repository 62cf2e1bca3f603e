/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock converts instants to civil time fields in one fixed
// timezone. All schedule comparisons in the system go through this package
// so that every component agrees on "today" and "now".
package clock

import (
	"fmt"
	"time"
)

// DefaultZoneName is the fixed civil timezone used when none is configured.
const DefaultZoneName = "Asia/Jakarta"

// defaultZoneOffset is the degraded-mode fallback when the timezone database
// is unavailable on the host. Raw-offset math ignores DST; acceptable for
// zones without DST only.
const defaultZoneOffset = 7 * 60 * 60

// Zone wraps the fixed timezone every schedule comparison is performed in.
type Zone struct {
	loc *time.Location
}

// LoadZone resolves name against the timezone database. When lookup fails it
// falls back to a fixed UTC offset for the default zone and returns the zone
// together with the lookup error so callers can log the degraded mode.
func LoadZone(name string) (Zone, error) {
	if name == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{loc: time.FixedZone(name, defaultZoneOffset)},
			fmt.Errorf("load timezone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// FixedZone builds a Zone from a raw offset in hours. Degraded mode only.
func FixedZone(name string, offsetHours int) Zone {
	return Zone{loc: time.FixedZone(name, offsetHours*60*60)}
}

// Location exposes the underlying location for formatting.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Civil holds the civil fields of one instant in the fixed zone.
type Civil struct {
	Year         int
	Month        time.Month
	Day          int
	Hour         int
	Minute       int
	Weekday      time.Weekday
	MinuteOfDay  int
	Date         string // YYYY-MM-DD
	ClockHHMM    string // HH:MM
	WeekdayLabel string
}

// At converts an instant to its civil fields in the fixed zone.
func (z Zone) At(t time.Time) Civil {
	local := t.In(z.Location())
	year, month, day := local.Date()
	return Civil{
		Year:         year,
		Month:        month,
		Day:          day,
		Hour:         local.Hour(),
		Minute:       local.Minute(),
		Weekday:      local.Weekday(),
		MinuteOfDay:  local.Hour()*60 + local.Minute(),
		Date:         local.Format("2006-01-02"),
		ClockHHMM:    local.Format("15:04"),
		WeekdayLabel: local.Weekday().String(),
	}
}

// ParseHHMM parses a schedule time-of-day string ("HH:MM" or "HH:MM:SS")
// into minutes since midnight.
func ParseHHMM(s string) (int, bool) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, false
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
