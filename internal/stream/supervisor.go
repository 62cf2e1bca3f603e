/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/logbuffer"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/relay"
	"github.com/friendsincode/muninn_live/internal/telemetry"
)

var (
	// ErrAlreadyRunning indicates a start was requested for a stream whose
	// relay process is already supervised.
	ErrAlreadyRunning = errors.New("stream already running")

	// ErrQuotaExceeded indicates the owner has reached their concurrent
	// stream limit.
	ErrQuotaExceeded = errors.New("active stream limit reached")

	// ErrMediaMissing indicates the stream's media file does not exist.
	ErrMediaMissing = errors.New("media file missing")

	// ErrSpawnFailed indicates the relay process exited before the spawn
	// confirmation window elapsed.
	ErrSpawnFailed = errors.New("relay process failed to start")
)

const (
	spawnConfirmWindow = 2 * time.Second
	restartBackoff     = 10 * time.Second
	restartCap         = 3
	retryResetAfter    = 5 * time.Minute
	remainingFloor     = 60 * time.Second
	healthInterval     = 30 * time.Second
	cleanupInterval    = 10 * time.Minute
	shutdownDrain      = 10 * time.Second
	logCapacity        = 500
)

// TerminationScheduler is a redundant safety net to the in-process
// duration limit: an external collaborator asked to kill the stream at
// its expected end in case this process dies first.
type TerminationScheduler interface {
	ScheduleTermination(streamID string, minutesFromNow int) error
	CancelTermination(streamID string) error
}

// runtimeShadow is the in-memory, non-authoritative bookkeeping for one
// supervised relay process. It exists only while the process is believed
// running; the stream record in the database stays authoritative.
type runtimeShadow struct {
	proc        *relay.Process
	pid         int
	startedAt   time.Time
	expectedEnd time.Time // zero when the stream runs without a limit
	hasDuration bool
}

// exitEvent is delivered from a process watcher into the control loop.
type exitEvent struct {
	streamID string
	proc     *relay.Process
}

// Status is a snapshot of a stream's supervised state for the API layer.
type Status struct {
	Running     bool      `json:"running"`
	PID         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	ExpectedEnd time.Time `json:"expected_end,omitempty"`
	Retries     int       `json:"retries"`
}

// Supervisor owns one relay child process per active stream: it spawns,
// time-limits, health-checks, and crash-recovers them, and drives each
// stream's lifecycle status in the database.
type Supervisor struct {
	db     *gorm.DB
	bus    events.EventBus
	term   TerminationScheduler
	logs   *logbuffer.Set
	bin    string
	logger zerolog.Logger

	mu            sync.Mutex
	active        map[string]*runtimeShadow
	retries       map[string]int
	manualStop    map[string]bool
	restartTimers map[string]*time.Timer

	exits chan exitEvent
}

// NewSupervisor constructs a supervisor. bin is the relay executable,
// normally "ffmpeg". term may be nil when no external termination
// scheduler is configured.
func NewSupervisor(db *gorm.DB, bus events.EventBus, term TerminationScheduler, bin string, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		db:            db,
		bus:           bus,
		term:          term,
		logs:          logbuffer.NewSet(logCapacity),
		bin:           bin,
		logger:        logger.With().Str("component", "supervisor").Logger(),
		active:        make(map[string]*runtimeShadow),
		retries:       make(map[string]int),
		manualStop:    make(map[string]bool),
		restartTimers: make(map[string]*time.Timer),
		exits:         make(chan exitEvent, 16),
	}
}

// Logs returns the per-stream relay output buffers.
func (s *Supervisor) Logs() *logbuffer.Set {
	return s.logs
}

// Run drives the control loop: process exits, periodic health checks,
// and stale-entry cleanup all funnel through here so shared bookkeeping
// has one logical owner. Blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	health := time.NewTicker(healthInterval)
	defer health.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	s.logger.Info().Msg("supervisor started")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case ev := <-s.exits:
			s.handleExit(ev)
		case <-health.C:
			s.healthCheck()
		case <-cleanup.C:
			s.cleanupStale()
		}
	}
}

// Start launches the relay process for a stream. It rejects a stream
// that is already running or whose owner is over quota, waits a short
// confirmation window, and only then persists status = live. A process
// that dies inside the window is reported as a start failure without
// touching persisted status.
func (s *Supervisor) Start(ctx context.Context, streamID string) error {
	ctx, span := telemetry.StartSpan(ctx, "supervisor", "stream.start")
	defer span.End()

	var stream models.Stream
	if err := s.db.WithContext(ctx).First(&stream, "id = ?", streamID).Error; err != nil {
		telemetry.StreamStartsTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("load stream: %w", err)
	}

	s.mu.Lock()
	if _, running := s.active[streamID]; running {
		s.mu.Unlock()
		telemetry.StreamStartsTotal.WithLabelValues("already_running").Inc()
		return ErrAlreadyRunning
	}
	// Reserve the slot before the blocking spawn so concurrent Start
	// calls for the same stream cannot both proceed.
	s.active[streamID] = nil
	delete(s.manualStop, streamID)
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.active[streamID] == nil {
			delete(s.active, streamID)
		}
		s.mu.Unlock()
	}

	if err := s.checkQuota(ctx, &stream); err != nil {
		release()
		telemetry.StreamStartsTotal.WithLabelValues("quota").Inc()
		return err
	}

	if _, err := os.Stat(stream.VideoPath); err != nil {
		release()
		telemetry.StreamStartsTotal.WithLabelValues("media_missing").Inc()
		return fmt.Errorf("%w: %s", ErrMediaMissing, stream.VideoPath)
	}

	seconds, hasDuration := DurationSeconds(&stream)
	args := BuildRelayArgs(&stream, seconds, hasDuration)

	sink := s.logs.For(streamID)
	sink.Clear()

	proc, err := relay.Start(s.bin, streamID, args, sink, s.logger)
	if err != nil {
		release()
		telemetry.StreamStartsTotal.WithLabelValues("spawn_error").Inc()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// Spawn confirmation: a relay that dies immediately (bad media, bad
	// endpoint) must surface as a start failure, not as a crash of a
	// live stream.
	select {
	case <-proc.Done():
		release()
		telemetry.StreamStartsTotal.WithLabelValues("early_exit").Inc()
		return fmt.Errorf("%w: %s", ErrSpawnFailed, lastLogLine(sink))
	case <-time.After(spawnConfirmWindow):
	}

	now := time.Now()
	shadow := &runtimeShadow{
		proc:        proc,
		pid:         proc.PID(),
		startedAt:   now,
		hasDuration: hasDuration,
	}
	if hasDuration {
		shadow.expectedEnd = now.Add(time.Duration(seconds) * time.Second)
	}

	s.mu.Lock()
	s.active[streamID] = shadow
	s.mu.Unlock()

	if err := s.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", streamID).
		Updates(map[string]any{"status": models.StreamLive, "started_at": now}).Error; err != nil {
		s.logger.Error().Err(err).Str("stream_id", streamID).Msg("persist live status")
	}

	go func() {
		<-proc.Done()
		s.exits <- exitEvent{streamID: streamID, proc: proc}
	}()

	// Ancillary monitors are best-effort: their failure never fails the
	// start itself.
	if s.term != nil && hasDuration {
		if err := s.term.ScheduleTermination(streamID, seconds/60); err != nil {
			s.logger.Warn().Err(err).Str("stream_id", streamID).Msg("schedule external termination")
		}
	}

	telemetry.StreamStartsTotal.WithLabelValues("ok").Inc()
	telemetry.StreamsLive.Inc()
	s.bus.Publish(events.EventStreamStarted, events.Payload{
		"stream_id": streamID,
		"pid":       shadow.pid,
	})
	s.logger.Info().
		Str("stream_id", streamID).
		Int("pid", shadow.pid).
		Bool("limited", hasDuration).
		Msg("stream started")
	return nil
}

// Stop terminates a stream's relay process. Idempotent: stopping a
// stream that is not running reconciles its status and returns nil. A
// pending crash-restart timer is cancelled. When no process is
// supervised but the persisted status is still live, the relay child
// survived an application restart; it is located by the stream's
// endpoint key and terminated before the status is reconciled.
func (s *Supervisor) Stop(ctx context.Context, streamID string) error {
	s.mu.Lock()
	s.manualStop[streamID] = true
	if timer, ok := s.restartTimers[streamID]; ok {
		timer.Stop()
		delete(s.restartTimers, streamID)
	}
	shadow := s.active[streamID]
	s.mu.Unlock()

	if shadow != nil && shadow.proc != nil {
		// Exit handling continues in the control loop once the process
		// is down.
		return shadow.proc.Stop()
	}

	var stream models.Stream
	if err := s.db.WithContext(ctx).First(&stream, "id = ?", streamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load stream: %w", err)
	}

	if stream.Status == models.StreamLive {
		// Supervisor restarted, child survived. Find it by the endpoint
		// key embedded in its command line.
		pids, err := relay.FindByToken(stream.StreamKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("stream_id", streamID).Msg("orphan process lookup")
		}
		for _, pid := range pids {
			s.logger.Info().Str("stream_id", streamID).Int("pid", pid).Msg("terminating orphaned relay process")
			if err := relay.Terminate(pid); err != nil {
				s.logger.Warn().Err(err).Int("pid", pid).Msg("terminate orphan")
			}
		}
		s.reconcile(&stream, "stopped")
	}
	return nil
}

// StreamStatus reports the supervised state of one stream.
func (s *Supervisor) StreamStatus(streamID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Retries: s.retries[streamID]}
	if shadow := s.active[streamID]; shadow != nil {
		st.Running = true
		st.PID = shadow.pid
		st.StartedAt = shadow.startedAt
		st.ExpectedEnd = shadow.expectedEnd
	}
	return st
}

// ActiveCount reports how many relay processes are currently supervised.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, shadow := range s.active {
		if shadow != nil {
			n++
		}
	}
	return n
}

func (s *Supervisor) checkQuota(ctx context.Context, stream *models.Stream) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", stream.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Streams without an owner are unrestricted.
			return nil
		}
		return fmt.Errorf("load owner: %w", err)
	}
	if user.Suspended {
		return fmt.Errorf("%w: account suspended", ErrQuotaExceeded)
	}
	if user.MaxActiveStreams <= 0 {
		return nil
	}

	var live int64
	if err := s.db.WithContext(ctx).Model(&models.Stream{}).
		Where("user_id = ? AND status = ? AND id <> ?", user.ID, models.StreamLive, stream.ID).
		Count(&live).Error; err != nil {
		return fmt.Errorf("count live streams: %w", err)
	}
	if int(live) >= user.MaxActiveStreams {
		return fmt.Errorf("%w: %d of %d in use", ErrQuotaExceeded, live, user.MaxActiveStreams)
	}
	return nil
}

// handleExit classifies a process exit and either schedules a restart or
// reconciles the stream to its terminal status. Cause precedence:
// manual stop, then duration complete, then crash-with-retry-budget,
// then terminal.
func (s *Supervisor) handleExit(ev exitEvent) {
	s.mu.Lock()
	shadow := s.active[ev.streamID]
	if shadow == nil || shadow.proc != ev.proc {
		// Already reaped by the health check or superseded by a restart.
		s.mu.Unlock()
		return
	}
	delete(s.active, ev.streamID)
	stopped := s.manualStop[ev.streamID]
	retries := s.retries[ev.streamID]
	s.mu.Unlock()

	telemetry.StreamsLive.Dec()
	now := time.Now()

	// A long healthy run ends the crash streak: only rapid relapses count
	// against the restart cap.
	if retries > 0 && now.Sub(shadow.startedAt) >= retryResetAfter {
		retries = 0
		s.mu.Lock()
		delete(s.retries, ev.streamID)
		s.mu.Unlock()
	}

	var stream models.Stream
	if err := s.db.First(&stream, "id = ?", ev.streamID).Error; err != nil {
		s.logger.Error().Err(err).Str("stream_id", ev.streamID).Msg("load stream after exit")
		return
	}

	switch {
	case stopped:
		telemetry.StreamExitsTotal.WithLabelValues("manual_stop").Inc()
		s.logger.Info().Str("stream_id", ev.streamID).Msg("stream stopped")
		s.reconcile(&stream, "stopped")

	case shadow.hasDuration && !now.Before(shadow.expectedEnd):
		telemetry.StreamExitsTotal.WithLabelValues("duration_complete").Inc()
		s.logger.Info().
			Str("stream_id", ev.streamID).
			Dur("ran", now.Sub(shadow.startedAt)).
			Msg("stream reached its duration limit")
		s.bus.Publish(events.EventStreamCompleted, events.Payload{"stream_id": ev.streamID})
		s.reconcile(&stream, "completed")

	case ev.proc.Crashed() && retries < restartCap && s.remainingAfter(shadow, now) >= remainingFloor:
		telemetry.StreamExitsTotal.WithLabelValues("crash").Inc()
		s.scheduleRestart(ev.streamID, retries, ev.proc.ExitErr())

	default:
		cause := "exit"
		if ev.proc.Crashed() {
			cause = "crash_final"
			s.logger.Error().
				Err(ev.proc.ExitErr()).
				Str("stream_id", ev.streamID).
				Int("retries", retries).
				Msg("stream crashed, not restarting")
			s.bus.Publish(events.EventStreamCrashed, events.Payload{
				"stream_id": ev.streamID,
				"retries":   retries,
			})
		} else {
			s.logger.Info().Str("stream_id", ev.streamID).Msg("relay process ended")
		}
		telemetry.StreamExitsTotal.WithLabelValues(cause).Inc()
		s.reconcile(&stream, cause)
	}
}

// remainingAfter reports how much of the configured duration was left at
// the exit instant. A stream without a limit always has the full floor.
func (s *Supervisor) remainingAfter(shadow *runtimeShadow, now time.Time) time.Duration {
	if !shadow.hasDuration {
		return remainingFloor
	}
	return shadow.expectedEnd.Sub(now)
}

// scheduleRestart arms a cancellable timer for a crash-triggered
// restart. The timer re-checks the manual-stop marker when it fires so
// Stop called during the backoff wins deterministically.
func (s *Supervisor) scheduleRestart(streamID string, retries int, exitErr error) {
	s.mu.Lock()
	s.retries[streamID] = retries + 1
	s.mu.Unlock()

	telemetry.StreamRestartsTotal.Inc()
	s.logger.Warn().
		Err(exitErr).
		Str("stream_id", streamID).
		Int("attempt", retries+1).
		Int("cap", restartCap).
		Msg("stream crashed, restart scheduled")
	s.bus.Publish(events.EventStreamRestarting, events.Payload{
		"stream_id": streamID,
		"attempt":   retries + 1,
	})

	timer := time.AfterFunc(restartBackoff, func() {
		s.mu.Lock()
		delete(s.restartTimers, streamID)
		if s.manualStop[streamID] {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		// Duration is recomputed fresh from the stream record; elapsed
		// time before the crash is not subtracted.
		if err := s.Start(context.Background(), streamID); err != nil {
			s.logger.Error().Err(err).Str("stream_id", streamID).Msg("crash restart failed")
			var stream models.Stream
			if dbErr := s.db.First(&stream, "id = ?", streamID).Error; dbErr == nil {
				s.reconcile(&stream, "restart_failed")
			}
		}
	})

	s.mu.Lock()
	s.restartTimers[streamID] = timer
	s.mu.Unlock()
}

// reconcile moves a stream to its post-stop status and clears the
// per-stream bookkeeping that only matters while it runs.
func (s *Supervisor) reconcile(stream *models.Stream, cause string) {
	next := AfterStop(stream)
	now := time.Now()
	if err := s.db.Model(&models.Stream{}).Where("id = ?", stream.ID).
		Updates(map[string]any{"status": next, "stopped_at": now}).Error; err != nil {
		s.logger.Error().Err(err).Str("stream_id", stream.ID).Msg("persist reconciled status")
	}

	s.mu.Lock()
	delete(s.retries, stream.ID)
	delete(s.manualStop, stream.ID)
	s.mu.Unlock()

	if s.term != nil {
		if err := s.term.CancelTermination(stream.ID); err != nil {
			s.logger.Debug().Err(err).Str("stream_id", stream.ID).Msg("cancel external termination")
		}
	}

	s.bus.Publish(events.EventStreamStopped, events.Payload{
		"stream_id": stream.ID,
		"status":    string(next),
		"cause":     cause,
	})
	s.logger.Info().
		Str("stream_id", stream.ID).
		Str("status", string(next)).
		Str("cause", cause).
		Msg("stream reconciled")
}

// healthCheck verifies every supervised process is still alive by pid.
// Exit notifications are not always delivered (abrupt kills, supervisor
// hiccups), so a vanished process is treated as an unreported crash. It
// also enforces the duration limit by wall clock: the relay's own -t
// argument counts output time, which lags behind real time when the
// source stalls, so a process still running past its expected end is
// stopped here and reconciles as duration-complete.
func (s *Supervisor) healthCheck() {
	now := time.Now()
	s.mu.Lock()
	type entry struct {
		id     string
		shadow *runtimeShadow
	}
	var dead, overdue []entry
	for id, shadow := range s.active {
		if shadow == nil {
			continue // start in progress
		}
		if !relay.PIDAlive(shadow.pid) {
			dead = append(dead, entry{id, shadow})
			delete(s.active, id)
			continue
		}
		if shadow.hasDuration && now.After(shadow.expectedEnd) {
			overdue = append(overdue, entry{id, shadow})
		}
	}
	s.mu.Unlock()

	for _, e := range overdue {
		telemetry.HealthCheckOverdueTotal.Inc()
		s.logger.Warn().
			Str("stream_id", e.id).
			Int("pid", e.shadow.pid).
			Time("expected_end", e.shadow.expectedEnd).
			Msg("relay process ran past its duration limit, stopping")
		if err := e.shadow.proc.Stop(); err != nil {
			s.logger.Warn().Err(err).Str("stream_id", e.id).Msg("stop overdue relay process")
		}
	}

	for _, e := range dead {
		telemetry.HealthCheckReapedTotal.Inc()
		telemetry.StreamsLive.Dec()
		s.logger.Warn().
			Str("stream_id", e.id).
			Int("pid", e.shadow.pid).
			Msg("relay process vanished, reaping")

		var stream models.Stream
		if err := s.db.First(&stream, "id = ?", e.id).Error; err != nil {
			s.logger.Error().Err(err).Str("stream_id", e.id).Msg("load stream for reap")
			continue
		}
		s.reconcile(&stream, "vanished")
	}
}

// cleanupStale drops bookkeeping for stream ids no longer supervised,
// bounding memory growth in long-lived deployments. Ids with a pending
// restart timer are exempt.
func (s *Supervisor) cleanupStale() {
	s.mu.Lock()
	keep := make(map[string]bool, len(s.active))
	for id := range s.active {
		keep[id] = true
	}
	for id := range s.restartTimers {
		keep[id] = true
	}
	for id := range s.retries {
		if !keep[id] {
			delete(s.retries, id)
		}
	}
	for id := range s.manualStop {
		if !keep[id] {
			delete(s.manualStop, id)
		}
	}
	s.mu.Unlock()

	for _, id := range s.logs.IDs() {
		if !keep[id] {
			s.logs.Drop(id)
		}
	}
}

// shutdown stops every supervised process on context cancellation.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	var procs []*relay.Process
	for id, shadow := range s.active {
		s.manualStop[id] = true
		if shadow != nil && shadow.proc != nil {
			procs = append(procs, shadow.proc)
		}
	}
	for id, timer := range s.restartTimers {
		timer.Stop()
		delete(s.restartTimers, id)
	}
	s.mu.Unlock()

	for _, p := range procs {
		_ = p.Stop()
	}
	// Drain exit events so statuses are reconciled before returning.
	for range procs {
		select {
		case ev := <-s.exits:
			s.handleExit(ev)
		case <-time.After(shutdownDrain):
			s.logger.Warn().Msg("timed out waiting for relay exits on shutdown")
			return
		}
	}
	s.logger.Info().Msg("supervisor stopped")
}

func lastLogLine(b *logbuffer.Buffer) string {
	tail := b.Tail(1)
	if len(tail) == 0 || tail[0].Text == "" {
		return "no output"
	}
	return tail[0].Text
}
