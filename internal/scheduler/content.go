/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/storage"
)

// Content is the resolved material for one broadcast: substituted title
// and description, an optional thumbnail, and the advanced rotation
// cursors the caller persists after a successful creation.
type Content struct {
	Title       string
	Description string
	Thumbnail   []byte
	TitleCursor int
	ThumbCursor int
}

// ContentSource resolves a template's content fields for one occurrence:
// title rotation from a yaml title set, thumbnail rotation from an
// object-store folder, and {date}/{time}/{weekday}/{title} placeholder
// substitution.
type ContentSource struct {
	store  storage.ObjectStore
	zone   clock.Zone
	logger zerolog.Logger
}

// NewContentSource constructs a content source. store may be nil when no
// object storage is configured; rotation then falls back to the
// template's static fields.
func NewContentSource(store storage.ObjectStore, zone clock.Zone, logger zerolog.Logger) *ContentSource {
	return &ContentSource{
		store:  store,
		zone:   zone,
		logger: logger.With().Str("component", "content").Logger(),
	}
}

// titleSet is the on-disk shape of a rotation title list.
type titleSet struct {
	Titles []string `yaml:"titles"`
}

// Resolve produces the content for one occurrence at instant now.
// A missing thumbnail is logged and skipped; a missing title set falls
// back to the template's static title. Neither aborts the execution.
func (c *ContentSource) Resolve(ctx context.Context, tpl *models.BroadcastTemplate, now time.Time) Content {
	content := Content{
		TitleCursor: tpl.TitleCursor,
		ThumbCursor: tpl.ThumbCursor,
	}

	title := tpl.Title
	if tpl.TitleSetKey != "" && c.store != nil {
		if titles, err := c.loadTitleSet(ctx, tpl.TitleSetKey); err != nil {
			c.logger.Warn().Err(err).
				Str("template_id", tpl.ID).
				Str("title_set", tpl.TitleSetKey).
				Msg("title set unavailable, using static title")
		} else if picked, cursor, ok := NextSelection(titles, tpl.TitleCursor, tpl.PinnedTitle); ok {
			title = picked
			content.TitleCursor = cursor
		}
	} else if tpl.PinnedTitle != "" {
		title = tpl.PinnedTitle
	}

	civil := c.zone.At(now)
	content.Title = substitute(title, civil, "")
	content.Description = substitute(tpl.Description, civil, content.Title)

	if tpl.ThumbnailFolder != "" && c.store != nil {
		c.resolveThumbnail(ctx, tpl, &content)
	}

	return content
}

func (c *ContentSource) resolveThumbnail(ctx context.Context, tpl *models.BroadcastTemplate, content *Content) {
	keys, err := c.store.List(ctx, tpl.ThumbnailFolder)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("template_id", tpl.ID).
			Str("folder", tpl.ThumbnailFolder).
			Msg("thumbnail folder unavailable, skipping thumbnail")
		return
	}

	key, cursor, ok := NextSelection(keys, tpl.ThumbCursor, tpl.PinnedThumbnail)
	if !ok {
		return
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("template_id", tpl.ID).
			Str("key", key).
			Msg("thumbnail unreadable, skipping thumbnail")
		return
	}
	content.Thumbnail = data
	content.ThumbCursor = cursor
}

func (c *ContentSource) loadTitleSet(ctx context.Context, key string) ([]string, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var set titleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse title set: %w", err)
	}
	var titles []string
	for _, t := range set.Titles {
		if strings.TrimSpace(t) != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("title set %q is empty", key)
	}
	return titles, nil
}

// substitute expands the placeholder tokens in a content field. The
// {title} token is only meaningful in descriptions, where it echoes the
// resolved title.
func substitute(s string, civil clock.Civil, title string) string {
	r := strings.NewReplacer(
		"{date}", civil.Date,
		"{time}", civil.ClockHHMM,
		"{weekday}", civil.WeekdayLabel,
		"{title}", title,
	)
	return r.Replace(s)
}
