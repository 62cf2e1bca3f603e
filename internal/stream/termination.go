/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import "github.com/rs/zerolog"

// LogTerminationScheduler is the stand-in TerminationScheduler used when
// no external kill-switch service is configured: it records the requests
// it receives and otherwise does nothing, so the supervisor's scheduling
// call sites stay exercised in every deployment.
type LogTerminationScheduler struct {
	logger zerolog.Logger
}

func NewLogTerminationScheduler(logger zerolog.Logger) *LogTerminationScheduler {
	return &LogTerminationScheduler{
		logger: logger.With().Str("component", "termination").Logger(),
	}
}

func (l *LogTerminationScheduler) ScheduleTermination(streamID string, minutesFromNow int) error {
	l.logger.Debug().
		Str("stream_id", streamID).
		Int("minutes", minutesFromNow).
		Msg("external termination requested, no scheduler configured")
	return nil
}

func (l *LogTerminationScheduler) CancelTermination(streamID string) error {
	l.logger.Debug().
		Str("stream_id", streamID).
		Msg("external termination cancel requested, no scheduler configured")
	return nil
}
