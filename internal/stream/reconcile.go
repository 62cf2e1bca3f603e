/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import "github.com/friendsincode/muninn_live/internal/models"

// AfterStop decides the lifecycle status a stream transitions to once
// its relay process has stopped, whatever the cause. Recurring streams
// stay armed for their next scheduled start; one-off streams go idle.
// Every exit path in the supervisor applies this uniformly.
func AfterStop(s *models.Stream) models.StreamStatus {
	if s.IsRecurring() {
		return models.StreamScheduled
	}
	return models.StreamOffline
}
