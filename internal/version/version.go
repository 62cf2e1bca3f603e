/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build identification.
package version

// Version is the current version of Muninn Live.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/muninn_live/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// UserAgent identifies this build in outbound HTTP requests.
func UserAgent() string {
	return "Muninn-Live/" + Version
}
