/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/relay"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Stream{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeRelay writes a shell script that ignores its ffmpeg-style argument
// list and runs the given body, standing in for the relay binary.
func fakeRelay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake relay: %v", err)
	}
	return path
}

func mediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "show.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write media file: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, db *gorm.DB, bin string) (*Supervisor, context.CancelFunc) {
	t.Helper()
	sup := NewSupervisor(db, events.NewBus(), nil, bin, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)
	return sup, cancel
}

func waitForStatus(t *testing.T, db *gorm.DB, id string, want models.StreamStatus, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		var s models.Stream
		if err := db.First(&s, "id = ?", id).Error; err == nil && s.Status == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	var s models.Stream
	_ = db.First(&s, "id = ?", id).Error
	t.Fatalf("stream %s status = %q, want %q", id, s.Status, want)
}

func TestStartRejectsMissingMedia(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{ID: "s1", VideoPath: "/nonexistent/video.mp4", Status: models.StreamOffline})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 30"))
	defer cancel()

	err := sup.Start(context.Background(), "s1")
	if !errors.Is(err, ErrMediaMissing) {
		t.Fatalf("err = %v, want ErrMediaMissing", err)
	}
	var s models.Stream
	db.First(&s, "id = ?", "s1")
	if s.Status != models.StreamOffline {
		t.Errorf("failed start must not mutate status, got %q", s.Status)
	}
}

func TestStartRejectsOverQuota(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.User{ID: "u1", MaxActiveStreams: 1})
	db.Create(&models.Stream{ID: "busy", UserID: "u1", Status: models.StreamLive})
	db.Create(&models.Stream{ID: "s1", UserID: "u1", VideoPath: mediaFile(t), Status: models.StreamOffline})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 30"))
	defer cancel()

	if err := sup.Start(context.Background(), "s1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestStartReportsEarlyExit(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{ID: "s1", VideoPath: mediaFile(t), Status: models.StreamOffline})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "echo connection refused >&2; exit 1"))
	defer cancel()

	err := sup.Start(context.Background(), "s1")
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	var s models.Stream
	db.First(&s, "id = ?", "s1")
	if s.Status != models.StreamOffline {
		t.Errorf("early exit must not mutate status, got %q", s.Status)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{ID: "s1", VideoPath: mediaFile(t), Status: models.StreamOffline})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 30"))
	defer cancel()

	if err := sup.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, db, "s1", models.StreamLive, 2*time.Second)

	st := sup.StreamStatus("s1")
	if !st.Running || st.PID <= 0 {
		t.Fatalf("status = %+v, want running with pid", st)
	}

	if err := sup.Start(context.Background(), "s1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}

	if err := sup.Stop(context.Background(), "s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForStatus(t, db, "s1", models.StreamOffline, 5*time.Second)

	if sup.StreamStatus("s1").Running {
		t.Error("shadow not removed after stop")
	}
}

func TestStopReconcilesRecurringToScheduled(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{
		ID:                "s1",
		VideoPath:         mediaFile(t),
		Status:            models.StreamOffline,
		RecurrenceEnabled: true,
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 30"))
	defer cancel()

	if err := sup.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(context.Background(), "s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForStatus(t, db, "s1", models.StreamScheduled, 5*time.Second)
}

func TestStopIsIdempotentForIdleStream(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{ID: "s1", Status: models.StreamOffline})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 30"))
	defer cancel()

	if err := sup.Stop(context.Background(), "s1"); err != nil {
		t.Errorf("Stop idle: %v", err)
	}
	if err := sup.Stop(context.Background(), "missing"); err != nil {
		t.Errorf("Stop unknown: %v", err)
	}
}

func TestCrashSchedulesRestart(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{
		ID:              "s1",
		VideoPath:       mediaFile(t),
		Status:          models.StreamOffline,
		DurationMinutes: 10,
	})

	// Survives the confirmation window, then dies with a nonzero exit.
	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "sleep 3; exit 1"))
	defer cancel()

	if err := sup.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sup.StreamStatus("s1").Retries == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := sup.StreamStatus("s1").Retries; got != 1 {
		t.Fatalf("retries = %d, want 1 after crash", got)
	}

	// A manual stop during the backoff must cancel the pending restart.
	if err := sup.Stop(context.Background(), "s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForStatus(t, db, "s1", models.StreamOffline, 2*time.Second)
}

func TestHealthCheckStopsOverdueRelay(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{
		ID:              "s1",
		VideoPath:       mediaFile(t),
		Status:          models.StreamOffline,
		DurationMinutes: 30,
	})

	sup, cancel := newTestSupervisor(t, db, fakeRelay(t, "exec sleep 60"))
	defer cancel()

	if err := sup.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The relay ignores its -t argument, standing in for a stalled source
	// whose output clock lags wall time. Pull the expected end into the
	// past so the next health pass treats the process as overdue.
	sup.mu.Lock()
	sup.active["s1"].expectedEnd = time.Now().Add(-time.Second)
	sup.mu.Unlock()

	sup.healthCheck()

	waitForStatus(t, db, "s1", models.StreamOffline, 5*time.Second)
	if sup.StreamStatus("s1").Running {
		t.Fatal("stream still supervised after overdue stop")
	}
}

func TestCrashStreakResetsAfterHealthyRun(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.Stream{ID: "s1", VideoPath: mediaFile(t), Status: models.StreamLive})

	sup := NewSupervisor(db, events.NewBus(), nil, fakeRelay(t, "exit 1"), zerolog.Nop())

	proc, err := relay.Start(sup.bin, "s1", nil, sup.logs.For("s1"), zerolog.Nop())
	if err != nil {
		t.Fatalf("start relay: %v", err)
	}
	<-proc.Done()

	// The streak is exhausted, but this run stayed up well past the reset
	// window: the crash must count as the first of a fresh streak, not as
	// the final one of the old streak.
	sup.mu.Lock()
	sup.retries["s1"] = restartCap
	sup.active["s1"] = &runtimeShadow{
		proc:      proc,
		pid:       proc.PID(),
		startedAt: time.Now().Add(-retryResetAfter - time.Minute),
	}
	sup.mu.Unlock()

	sup.handleExit(exitEvent{streamID: "s1", proc: proc})

	if got := sup.StreamStatus("s1").Retries; got != 1 {
		t.Fatalf("retries = %d, want 1 after reset", got)
	}
	sup.mu.Lock()
	timer := sup.restartTimers["s1"]
	if timer != nil {
		timer.Stop()
	}
	sup.mu.Unlock()
	if timer == nil {
		t.Fatal("no restart scheduled after streak reset")
	}
}
