/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/storage"
)

var jakarta = clock.FixedZone("Asia/Jakarta", 7)

// noon UTC on 2026-03-02 is 19:00 Monday in Jakarta.
var refInstant = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestResolveSubstitutesPlaceholders(t *testing.T) {
	src := NewContentSource(nil, jakarta, zerolog.Nop())
	tpl := &models.BroadcastTemplate{
		Title:       "Evening Service {date}",
		Description: "Join us on {weekday} at {time} for {title}",
	}

	content := src.Resolve(context.Background(), tpl, refInstant)

	if content.Title != "Evening Service 2026-03-02" {
		t.Errorf("title = %q", content.Title)
	}
	want := "Join us on Monday at 19:00 for Evening Service 2026-03-02"
	if content.Description != want {
		t.Errorf("description = %q, want %q", content.Description, want)
	}
}

func TestResolveRotatesTitleSet(t *testing.T) {
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	yaml := "titles:\n  - First {date}\n  - Second\n"
	if err := store.Put(ctx, "sets/evening.yml", []byte(yaml)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	src := NewContentSource(store, jakarta, zerolog.Nop())
	tpl := &models.BroadcastTemplate{
		Title:       "static",
		TitleSetKey: "sets/evening.yml",
		TitleCursor: 0,
	}

	content := src.Resolve(ctx, tpl, refInstant)
	if content.Title != "First 2026-03-02" {
		t.Errorf("title = %q", content.Title)
	}
	if content.TitleCursor != 1 {
		t.Errorf("cursor = %d, want 1", content.TitleCursor)
	}

	tpl.TitleCursor = content.TitleCursor
	content = src.Resolve(ctx, tpl, refInstant)
	if content.Title != "Second" {
		t.Errorf("second title = %q", content.Title)
	}
}

func TestResolveMissingTitleSetFallsBack(t *testing.T) {
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	src := NewContentSource(store, jakarta, zerolog.Nop())
	tpl := &models.BroadcastTemplate{
		Title:       "Static Title",
		TitleSetKey: "sets/missing.yml",
		TitleCursor: 4,
	}

	content := src.Resolve(context.Background(), tpl, refInstant)
	if content.Title != "Static Title" {
		t.Errorf("title = %q", content.Title)
	}
	if content.TitleCursor != 4 {
		t.Errorf("cursor moved to %d on fallback", content.TitleCursor)
	}
}

func TestResolveThumbnailRotation(t *testing.T) {
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"thumbs/a.jpg", "thumbs/b.jpg"} {
		if err := store.Put(ctx, name, []byte(name)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	src := NewContentSource(store, jakarta, zerolog.Nop())
	tpl := &models.BroadcastTemplate{
		Title:           "t",
		ThumbnailFolder: "thumbs",
		ThumbCursor:     1,
	}

	content := src.Resolve(ctx, tpl, refInstant)
	if string(content.Thumbnail) != "thumbs/b.jpg" {
		t.Errorf("thumbnail = %q", content.Thumbnail)
	}
	if content.ThumbCursor != 2 {
		t.Errorf("thumb cursor = %d, want 2", content.ThumbCursor)
	}
}

func TestResolveEmptyThumbnailFolderSkips(t *testing.T) {
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	src := NewContentSource(store, jakarta, zerolog.Nop())
	tpl := &models.BroadcastTemplate{
		Title:           "t",
		ThumbnailFolder: "empty",
		ThumbCursor:     3,
	}

	content := src.Resolve(context.Background(), tpl, refInstant)
	if content.Thumbnail != nil {
		t.Errorf("thumbnail = %q, want none", content.Thumbnail)
	}
	if content.ThumbCursor != 3 {
		t.Errorf("cursor moved to %d with no thumbnails", content.ThumbCursor)
	}
}
