/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/friendsincode/muninn_live/internal/telemetry"
	"github.com/friendsincode/muninn_live/internal/version"
)

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	tokenURL   string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a broadcast-platform client. tokenURL is the
// OAuth token endpoint, baseURL the REST API root.
func NewHTTPClient(tokenURL, baseURL string) (*HTTPClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if _, err := url.Parse(tokenURL); err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	return &HTTPClient{
		tokenURL: tokenURL,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// GetAccessToken exchanges a refresh token for a short-lived access
// token. OAuth error codes are mapped onto the distinguished credential
// errors so callers can tell "re-authorize" apart from "retry later".
func (c *HTTPClient) GetAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.count("token", "error")
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &oauthErr)
		c.count("token", oauthErr.Error)
		switch oauthErr.Error {
		case "invalid_grant":
			return "", ErrTokenExpired
		case "invalid_client", "unauthorized_client":
			return "", ErrInvalidClient
		}
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	c.count("token", "ok")
	return tokenResp.AccessToken, nil
}

// CreateBroadcast creates a scheduled broadcast and binds it to a stream
// target when one is given.
func (c *HTTPClient) CreateBroadcast(ctx context.Context, token string, breq BroadcastRequest) (*Broadcast, error) {
	payload := map[string]any{
		"title":           breq.Title,
		"description":     breq.Description,
		"scheduled_start": breq.ScheduledStart.UTC().Format(time.RFC3339),
		"privacy":         breq.Privacy,
		"tags":            breq.Tags,
		"category":        breq.Category,
		"auto_start":      breq.AutoStart,
		"auto_stop":       breq.AutoStop,
	}
	if breq.StreamTarget != "" {
		payload["stream_target"] = breq.StreamTarget
	}

	var created struct {
		ID           string `json:"id"`
		StreamTarget string `json:"stream_target"`
		IngestKey    string `json:"ingest_key"`
		IngestURL    string `json:"ingest_url"`
	}
	if err := c.doJSON(ctx, token, http.MethodPost, "/broadcasts", "create_broadcast", payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create broadcast response missing id")
	}
	return &Broadcast{
		ID:           created.ID,
		StreamTarget: created.StreamTarget,
		IngestKey:    created.IngestKey,
		IngestURL:    created.IngestURL,
	}, nil
}

// UploadThumbnail attaches an image to a broadcast.
func (c *HTTPClient) UploadThumbnail(ctx context.Context, token, broadcastID string, image []byte) error {
	endpoint := fmt.Sprintf("%s/broadcasts/%s/thumbnail", c.baseURL, url.PathEscape(broadcastID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("create thumbnail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.count("upload_thumbnail", "error")
		return fmt.Errorf("thumbnail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.count("upload_thumbnail", "error")
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	c.count("upload_thumbnail", "ok")
	return nil
}

// GetBroadcastStatus returns the platform's lifecycle status string for
// a broadcast.
func (c *HTTPClient) GetBroadcastStatus(ctx context.Context, token, broadcastID string) (string, error) {
	var status struct {
		LifecycleStatus string `json:"lifecycle_status"`
	}
	path := fmt.Sprintf("/broadcasts/%s", url.PathEscape(broadcastID))
	if err := c.doJSON(ctx, token, http.MethodGet, path, "get_status", nil, &status); err != nil {
		return "", err
	}
	return status.LifecycleStatus, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, token, method, path, operation string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.count(operation, "error")
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized {
		c.count(operation, "unauthorized")
		return ErrTokenExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.count(operation, "error")
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	c.count(operation, "ok")
	return nil
}

func (c *HTTPClient) count(operation, outcome string) {
	if outcome == "" {
		outcome = "error"
	}
	telemetry.BroadcastAPIRequestsTotal.WithLabelValues(operation, outcome).Inc()
}
