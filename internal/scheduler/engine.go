/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/broadcastapi"
	"github.com/friendsincode/muninn_live/internal/cache"
	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/recurrence"
	"github.com/friendsincode/muninn_live/internal/telemetry"
)

const (
	defaultPollInterval = time.Minute

	// graceMinutes is the post-schedule window W: an occurrence is due
	// while now is at most this many minutes past the scheduled time.
	graceMinutes = 5

	// earlyMinutes is the narrow pre-trigger window E, reducing missed
	// executions when the poll granularity is coarse.
	earlyMinutes = 2

	// cooldown blocks re-execution shortly after a run, defending
	// against double-fire from overlapping cycles seeing stale reads.
	cooldown = 10 * time.Minute

	// catchUpCeiling bounds how stale an overdue next_run_at may be and
	// still execute; beyond it the schedule is re-armed without running.
	catchUpCeiling = 12 * time.Hour

	transientRetries = 3
	retryBackoff     = 5 * time.Second
)

// Engine polls broadcast templates and creates broadcasts for due
// occurrences. The in-memory executing set is the sole mechanism
// preventing duplicate creation from overlapping poll cycles.
type Engine struct {
	db      *gorm.DB
	api     broadcastapi.Client
	content *ContentSource
	zone    clock.Zone
	cache   *cache.Cache
	bus     events.EventBus
	logger  zerolog.Logger

	interval time.Duration
	backoff  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	executing map[string]bool
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithRetryBackoff overrides the transient-retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCache attaches a read-through cache for template lists and
// credentials. The engine works without one.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// New constructs the schedule engine.
func New(db *gorm.DB, api broadcastapi.Client, content *ContentSource, zone clock.Zone, bus events.EventBus, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		api:       api,
		content:   content,
		zone:      zone,
		bus:       bus,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		interval:  defaultPollInterval,
		backoff:   retryBackoff,
		now:       time.Now,
		executing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs a startup catch-up pass, then polls until the context is
// cancelled. Occurrences missed while the process was down are honored
// once, bounded by the cooldown and the catch-up ceiling.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Dur("interval", e.interval).Msg("schedule engine started")

	e.Tick(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("schedule engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled template once. Failures inside one
// candidate never abort the rest of the iteration.
func (e *Engine) Tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	templates, ok := e.cachedTemplates(ctx)
	if !ok {
		if err := e.db.WithContext(ctx).Where("recurring_enabled = ?", true).Find(&templates).Error; err != nil {
			e.logger.Error().Err(err).Msg("load templates")
			telemetry.SchedulerErrorsTotal.WithLabelValues("", "load_templates").Inc()
			return
		}
		if e.cache != nil {
			e.cache.SetTemplateList(ctx, templates)
		}
	}

	now := e.now()
	for i := range templates {
		tpl := &templates[i]
		if e.isExecuting(tpl.ID) {
			continue
		}
		due, reason := e.due(tpl, now)
		if !due {
			continue
		}
		e.logger.Debug().
			Str("template_id", tpl.ID).
			Str("trigger", reason).
			Msg("template due")
		e.Execute(ctx, tpl.ID)
	}
}

// cachedTemplates returns the enabled-template list from the cache.
func (e *Engine) cachedTemplates(ctx context.Context) ([]models.BroadcastTemplate, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.GetTemplateList(ctx)
}

// loadCredential reads a credential through the cache.
func (e *Engine) loadCredential(ctx context.Context, id string) (*models.Credential, error) {
	if e.cache != nil {
		if cred, ok := e.cache.GetCredential(ctx, id); ok {
			return cred, nil
		}
	}
	var cred models.Credential
	if err := e.db.WithContext(ctx).First(&cred, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetCredential(ctx, &cred)
	}
	return &cred, nil
}

// ExecutingCount reports how many templates are mid-execution.
func (e *Engine) ExecutingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executing)
}

// due decides whether a template should execute at instant now. The
// time-of-day window is the primary trigger; an overdue next_run_at is
// the fallback for occurrences the window already slid past.
func (e *Engine) due(tpl *models.BroadcastTemplate, now time.Time) (bool, string) {
	if tpl.LastRunAt != nil && now.Sub(*tpl.LastRunAt) < cooldown {
		return false, ""
	}

	civil := e.zone.At(now)

	if tpl.RecurrencePattern == models.RecurrenceWeekly {
		eligible := false
		for _, d := range tpl.RecurrenceDays {
			if d == int(civil.Weekday) {
				eligible = true
				break
			}
		}
		if !eligible {
			return false, ""
		}
	}

	if schedMin, ok := clock.ParseHHMM(tpl.RecurrenceTime); ok {
		diff := civil.MinuteOfDay - schedMin
		if diff >= 0 && diff <= graceMinutes {
			return true, "grace_window"
		}
		if diff >= -earlyMinutes && diff < 0 {
			return true, "early_window"
		}
	}

	if tpl.NextRunAt != nil {
		overdue := now.Sub(*tpl.NextRunAt)
		if overdue > 0 && overdue <= catchUpCeiling {
			return true, "next_run_overdue"
		}
		if overdue > catchUpCeiling {
			// Too stale to execute; re-arm the schedule instead of
			// working through an unbounded backlog.
			e.rearm(tpl, now)
		}
	}

	return false, ""
}

// rearm recomputes and persists a fresh future next_run_at without
// executing.
func (e *Engine) rearm(tpl *models.BroadcastTemplate, now time.Time) {
	next, ok := recurrence.NextRun(tpl.RecurrencePattern, tpl.RecurrenceTime, tpl.RecurrenceDays, now, e.zone)
	if !ok {
		e.logger.Warn().
			Str("template_id", tpl.ID).
			Str("pattern", string(tpl.RecurrencePattern)).
			Msg("cannot recompute next run for stale template")
		return
	}
	e.logger.Info().
		Str("template_id", tpl.ID).
		Time("next_run_at", next).
		Msg("schedule too stale to catch up, re-armed")
	if err := e.db.Model(&models.BroadcastTemplate{}).Where("id = ?", tpl.ID).
		Update("next_run_at", next).Error; err != nil {
		e.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("persist re-armed next run")
	}

	// The abandoned occurrence still gets a history row; skipped runs are
	// otherwise invisible to operators.
	record := models.ExecutionRecord{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		UserID:     tpl.UserID,
		Outcome:    models.ExecutionSkippedStale,
		ExecutedAt: now,
	}
	if err := e.db.Create(&record).Error; err != nil {
		e.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("write skipped execution record")
	}
	telemetry.ScheduleExecutionsTotal.WithLabelValues("skipped_stale").Inc()
	e.bus.Publish(events.EventScheduleSkipped, events.Payload{
		"template_id": tpl.ID,
		"reason":      "stale_past_ceiling",
	})
}

func (e *Engine) isExecuting(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executing[id]
}

func (e *Engine) tryAcquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.executing[id] {
		return false
	}
	e.executing[id] = true
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.executing, id)
	e.mu.Unlock()
}

// Execute runs one occurrence of a template: acquire the execution
// lock, re-verify against a fresh read, resolve content, create the
// broadcast, and advance the schedule. The schedule advances on failure
// too, so a broken occurrence cannot jam the template. The lock is
// released on every path.
func (e *Engine) Execute(ctx context.Context, templateID string) {
	if !e.tryAcquire(templateID) {
		e.logger.Debug().Str("template_id", templateID).Msg("already executing, skipped")
		return
	}
	defer e.release(templateID)

	ctx, span := telemetry.StartSpan(ctx, "scheduler", "execute")
	defer span.End()

	started := e.now()
	defer func() {
		telemetry.ScheduleExecutionSeconds.Observe(time.Since(started).Seconds())
	}()

	// Fresh read: the tick's copy may be stale by the time the lock is
	// held, and the cooldown re-check defends against lock-free races
	// across process restarts.
	var tpl models.BroadcastTemplate
	if err := e.db.WithContext(ctx).First(&tpl, "id = ?", templateID).Error; err != nil {
		e.logger.Error().Err(err).Str("template_id", templateID).Msg("reload template")
		telemetry.SchedulerErrorsTotal.WithLabelValues(templateID, "reload").Inc()
		return
	}
	now := e.now()
	if tpl.LastRunAt != nil && now.Sub(*tpl.LastRunAt) < cooldown {
		e.logger.Debug().Str("template_id", tpl.ID).Msg("cooldown hit on fresh read, skipped")
		return
	}

	content := e.content.Resolve(ctx, &tpl, now)

	broadcast, attempts, err := e.createWithRetries(ctx, &tpl, content)

	record := models.ExecutionRecord{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		UserID:     tpl.UserID,
		Title:      content.Title,
		Attempts:   attempts,
		ExecutedAt: now,
	}

	switch {
	case err == nil:
		record.Outcome = models.ExecutionSucceeded
		record.BroadcastID = broadcast.ID
		telemetry.ScheduleExecutionsTotal.WithLabelValues("succeeded").Inc()
		e.bus.Publish(events.EventScheduleExecuted, events.Payload{
			"template_id":  tpl.ID,
			"broadcast_id": broadcast.ID,
		})
		e.logger.Info().
			Str("template_id", tpl.ID).
			Str("broadcast_id", broadcast.ID).
			Str("title", content.Title).
			Msg("broadcast created")

	case errors.Is(err, broadcastapi.ErrTokenExpired), errors.Is(err, broadcastapi.ErrInvalidClient):
		record.Outcome = models.ExecutionAuthError
		record.Error = err.Error()
		telemetry.ScheduleExecutionsTotal.WithLabelValues("auth_error").Inc()
		e.bus.Publish(events.EventScheduleFailed, events.Payload{
			"template_id": tpl.ID,
			"error":       err.Error(),
		})
		e.logger.Error().Err(err).
			Str("template_id", tpl.ID).
			Msg("credentials rejected, re-authorization required")

	default:
		record.Outcome = models.ExecutionFailed
		record.Error = err.Error()
		telemetry.ScheduleExecutionsTotal.WithLabelValues("failed").Inc()
		e.bus.Publish(events.EventScheduleFailed, events.Payload{
			"template_id": tpl.ID,
			"error":       err.Error(),
		})
		e.logger.Error().Err(err).
			Str("template_id", tpl.ID).
			Int("attempts", attempts).
			Msg("broadcast creation failed")
	}

	// The schedule advances in every outcome so it self-heals instead
	// of stalling on the same occurrence.
	e.advance(&tpl, now, err == nil, content)

	if err := e.db.Create(&record).Error; err != nil {
		e.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("write execution record")
	}
}

// createWithRetries obtains a token and creates the broadcast, retrying
// transient failures with fixed backoff. Credential errors abort
// immediately. The thumbnail upload is best-effort.
func (e *Engine) createWithRetries(ctx context.Context, tpl *models.BroadcastTemplate, content Content) (*broadcastapi.Broadcast, int, error) {
	cred, err := e.loadCredential(ctx, tpl.CredentialID)
	if err != nil {
		return nil, 0, fmt.Errorf("credentials missing: %w", err)
	}

	req := broadcastapi.BroadcastRequest{
		Title:          content.Title,
		Description:    content.Description,
		ScheduledStart: e.now(),
		Privacy:        tpl.Privacy,
		Tags:           tpl.Tags,
		Category:       tpl.CategoryID,
		StreamTarget:   tpl.StreamTarget,
		AutoStart:      tpl.AutoStart,
		AutoStop:       tpl.AutoStop,
	}

	var lastErr error
	for attempt := 1; attempt <= transientRetries; attempt++ {
		token, err := e.api.GetAccessToken(ctx, cred.ClientID, cred.ClientSecret, cred.RefreshToken)
		if err == nil {
			var broadcast *broadcastapi.Broadcast
			broadcast, err = e.api.CreateBroadcast(ctx, token, req)
			if err == nil {
				if len(content.Thumbnail) > 0 {
					if thumbErr := e.api.UploadThumbnail(ctx, token, broadcast.ID, content.Thumbnail); thumbErr != nil {
						e.logger.Warn().Err(thumbErr).
							Str("template_id", tpl.ID).
							Str("broadcast_id", broadcast.ID).
							Msg("thumbnail upload failed, broadcast kept")
					}
				}
				return broadcast, attempt, nil
			}
		}

		lastErr = err
		if !broadcastapi.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt < transientRetries {
			e.logger.Warn().Err(err).
				Str("template_id", tpl.ID).
				Int("attempt", attempt).
				Msg("transient broadcast api failure, retrying")
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(e.backoff):
			}
		}
	}
	return nil, transientRetries, lastErr
}

// advance persists last_run_at and a fresh future next_run_at. Rotation
// cursors move only when the occurrence actually created a broadcast.
func (e *Engine) advance(tpl *models.BroadcastTemplate, now time.Time, success bool, content Content) {
	updates := map[string]any{
		"last_run_at": now,
	}

	if next, ok := recurrence.NextRun(tpl.RecurrencePattern, tpl.RecurrenceTime, tpl.RecurrenceDays, now, e.zone); ok {
		updates["next_run_at"] = next
	} else {
		updates["next_run_at"] = nil
		e.logger.Warn().
			Str("template_id", tpl.ID).
			Str("pattern", string(tpl.RecurrencePattern)).
			Str("time", tpl.RecurrenceTime).
			Msg("invalid recurrence config, next run cleared")
	}

	if success {
		updates["title_cursor"] = content.TitleCursor
		updates["thumb_cursor"] = content.ThumbCursor
	}

	if err := e.db.Model(&models.BroadcastTemplate{}).Where("id = ?", tpl.ID).
		Updates(updates).Error; err != nil {
		e.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("advance schedule")
	}
}
