/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the recurring schedule engine: it polls
// broadcast templates, decides which occurrences are due in the fixed
// timezone, and creates broadcasts against the external platform with
// rotated titles and thumbnails.
package scheduler

// NextSelection picks an item from a rotation set. A pinned item is
// returned as-is and the cursor is held so sequential rotation resumes
// from the same position once unpinned. The stored cursor grows without
// bound; only the derived index wraps, which keeps "position N of M"
// displays stable when the set changes size.
func NextSelection(set []string, cursor int, pinned string) (item string, newCursor int, ok bool) {
	if pinned != "" {
		return pinned, cursor, true
	}
	if len(set) == 0 {
		return "", cursor, false
	}
	if cursor < 0 {
		cursor = 0
	}
	return set[cursor%len(set)], cursor + 1, true
}
