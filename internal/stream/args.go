/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"strconv"
	"strings"

	"github.com/friendsincode/muninn_live/internal/models"
)

// OutputURL joins the stream's RTMP endpoint and secret key into the
// relay target. The key also serves as the stable token used to locate
// an orphaned relay process after an application restart.
func OutputURL(s *models.Stream) string {
	return strings.TrimRight(s.RTMPUrl, "/") + "/" + s.StreamKey
}

// BuildRelayArgs assembles the ffmpeg argument list for a stream.
//
// Ordering is load-bearing for ffmpeg: -stream_loop is an input option
// and must precede its -i, and -t is an output option and must precede
// the output target.
func BuildRelayArgs(s *models.Stream, durationSeconds int, hasDuration bool) []string {
	args := []string{"-re"}

	if s.LoopVideo {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", s.VideoPath)

	if s.AudioPath != "" {
		// Separate audio track: take video from the first input and
		// audio from the second, re-encoding the audio for FLV.
		args = append(args, "-i", s.AudioPath,
			"-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy", "-c:a", "aac", "-b:a", "128k")
	} else if s.AdvancedEncoding && strings.TrimSpace(s.EncoderParams) != "" {
		args = append(args, strings.Fields(s.EncoderParams)...)
	} else {
		args = append(args, "-c", "copy")
	}

	if hasDuration && durationSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(durationSeconds))
	}

	args = append(args, "-f", "flv", OutputURL(s))
	return args
}
