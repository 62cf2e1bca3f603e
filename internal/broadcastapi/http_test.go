/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcastapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL+"/token", srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestGetAccessTokenCredentialErrors(t *testing.T) {
	tests := []struct {
		name      string
		oauthCode string
		want      error
	}{
		{"expired grant", "invalid_grant", ErrTokenExpired},
		{"bad client", "invalid_client", ErrInvalidClient},
		{"unauthorized client", "unauthorized_client", ErrInvalidClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"` + tt.oauthCode + `"}`))
			}))
			_, err := c.GetAccessToken(context.Background(), "id", "secret", "refresh")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if IsTransient(err) {
				t.Error("credential error must not be transient")
			}
		})
	}
}

func TestGetAccessTokenSuccess(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		w.Write([]byte(`{"access_token":"tok-123","expires_in":3600}`))
	}))

	tok, err := c.GetAccessToken(context.Background(), "id", "secret", "refresh")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "tok-123" {
		t.Errorf("token = %q", tok)
	}
}

func TestCreateBroadcast(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/broadcasts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth = %q", got)
		}
		w.Write([]byte(`{"id":"b1","ingest_key":"key","ingest_url":"rtmp://ingest.example.com/live"}`))
	}))

	b, err := c.CreateBroadcast(context.Background(), "tok", BroadcastRequest{
		Title:          "Morning Show",
		ScheduledStart: time.Now(),
		Privacy:        "public",
	})
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	if b.ID != "b1" || b.IngestKey != "key" {
		t.Errorf("broadcast = %+v", b)
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.CreateBroadcast(context.Background(), "tok", BroadcastRequest{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("5xx must be transient, got %v", err)
	}
}

func TestUnauthorizedMapsToTokenExpired(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.GetBroadcastStatus(context.Background(), "tok", "b1")
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestIsTransientTaxonomy(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(ErrTokenExpired) || IsTransient(ErrInvalidClient) {
		t.Error("credential errors are not transient")
	}
	if !IsTransient(&StatusError{Code: 429}) {
		t.Error("429 is transient")
	}
	if IsTransient(&StatusError{Code: 400}) {
		t.Error("400 is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded is transient")
	}
}
