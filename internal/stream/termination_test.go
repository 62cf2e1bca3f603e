/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"testing"

	"github.com/rs/zerolog"
)

var _ TerminationScheduler = (*LogTerminationScheduler)(nil)

func TestLogTerminationSchedulerNeverFails(t *testing.T) {
	term := NewLogTerminationScheduler(zerolog.Nop())
	if err := term.ScheduleTermination("s1", 30); err != nil {
		t.Fatalf("ScheduleTermination: %v", err)
	}
	if err := term.CancelTermination("s1"); err != nil {
		t.Fatalf("CancelTermination: %v", err)
	}
}
