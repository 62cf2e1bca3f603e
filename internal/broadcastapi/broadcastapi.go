/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcastapi talks to the external broadcast platform: token
// refresh, broadcast creation, thumbnail upload, and status queries. The
// schedule engine consumes the Client interface so tests can substitute
// a fake platform.
package broadcastapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

var (
	// ErrTokenExpired indicates the refresh token is no longer accepted
	// and the credential must be re-authorized by the user.
	ErrTokenExpired = errors.New("refresh token expired or revoked")

	// ErrInvalidClient indicates the client id/secret pair was rejected.
	ErrInvalidClient = errors.New("invalid client credentials")
)

// StatusError carries a non-2xx platform response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broadcast api status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether an error is network/timeout-class and
// worth retrying with backoff. Credential errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrInvalidClient) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// BroadcastRequest describes one broadcast to create.
type BroadcastRequest struct {
	Title          string
	Description    string
	ScheduledStart time.Time
	Privacy        string
	Tags           []string
	Category       string
	StreamTarget   string
	AutoStart      bool
	AutoStop       bool
}

// Broadcast is the platform's record of a created broadcast.
type Broadcast struct {
	ID           string
	StreamTarget string
	IngestKey    string
	IngestURL    string
}

// Client is the broadcast-platform surface consumed by the schedule
// engine and the API layer.
type Client interface {
	GetAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error)
	CreateBroadcast(ctx context.Context, token string, req BroadcastRequest) (*Broadcast, error)
	UploadThumbnail(ctx context.Context, token, broadcastID string, image []byte) error
	GetBroadcastStatus(ctx context.Context, token, broadcastID string) (string, error)
}
