/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/broadcastapi"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
)

func openEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.BroadcastTemplate{}, &models.Credential{}, &models.ExecutionRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeAPI struct {
	mu          sync.Mutex
	tokenErr    error
	createErr   error
	block       chan struct{}
	tokenCalls  int
	createCalls int
	requests    []broadcastapi.BroadcastRequest
}

func (f *fakeAPI) GetAccessToken(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	f.tokenCalls++
	err := f.tokenErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "tok", nil
}

func (f *fakeAPI) CreateBroadcast(_ context.Context, _ string, req broadcastapi.BroadcastRequest) (*broadcastapi.Broadcast, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.requests = append(f.requests, req)
	return &broadcastapi.Broadcast{ID: fmt.Sprintf("b%d", f.createCalls)}, nil
}

func (f *fakeAPI) UploadThumbnail(context.Context, string, string, []byte) error {
	return nil
}

func (f *fakeAPI) GetBroadcastStatus(context.Context, string, string) (string, error) {
	return "ready", nil
}

func (f *fakeAPI) creations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// jakartaTime builds an instant whose Jakarta local time is the given
// clock reading.
func jakartaTime(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, jakarta.Location())
}

func newEngine(t *testing.T, db *gorm.DB, api *fakeAPI, clk *fakeClock) *Engine {
	t.Helper()
	return New(db, api, NewContentSource(nil, jakarta, zerolog.Nop()), jakarta,
		events.NewBus(), zerolog.Nop(),
		WithNow(clk.Now), WithRetryBackoff(time.Millisecond))
}

func seedTemplate(t *testing.T, db *gorm.DB, tpl models.BroadcastTemplate) models.BroadcastTemplate {
	t.Helper()
	if tpl.ID == "" {
		tpl.ID = "tpl1"
	}
	if tpl.CredentialID == "" {
		tpl.CredentialID = "cred1"
		db.Create(&models.Credential{ID: "cred1", ClientID: "cid", ClientSecret: "sec", RefreshToken: "ref"})
	}
	tpl.RecurringEnabled = true
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tpl
}

func TestDailyTemplateFiresOnceInGraceWindow(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Morning Show",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	engine.Tick(context.Background())
	if got := api.creations(); got != 1 {
		t.Fatalf("creations = %d, want 1", got)
	}

	// Same day, three minutes later: cooldown blocks a second fire.
	clk.Set(jakartaTime(2026, 3, 2, 8, 6, 0))
	engine.Tick(context.Background())
	if got := api.creations(); got != 1 {
		t.Fatalf("creations after re-poll = %d, want 1", got)
	}

	// Next day, same window: fires again.
	clk.Set(jakartaTime(2026, 3, 3, 8, 3, 0))
	engine.Tick(context.Background())
	if got := api.creations(); got != 2 {
		t.Fatalf("creations next day = %d, want 2", got)
	}

	var tpl models.BroadcastTemplate
	db.First(&tpl, "id = ?", "tpl1")
	if tpl.LastRunAt == nil || tpl.NextRunAt == nil {
		t.Fatal("bookkeeping not advanced")
	}
	if !tpl.NextRunAt.After(clk.Now()) {
		t.Errorf("next_run_at %v is not in the future", tpl.NextRunAt)
	}
}

func TestEarlyWindowTriggers(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 7, 59, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Morning Show",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	engine.Tick(context.Background())
	if got := api.creations(); got != 1 {
		t.Fatalf("creations = %d, want 1 via early window", got)
	}
}

func TestWeeklySkipsIneligibleDay(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	// 2026-03-02 is a Monday in Jakarta.
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Tuesday Show",
		RecurrencePattern: models.RecurrenceWeekly,
		RecurrenceTime:    "08:00",
		RecurrenceDays:    []int{2},
	})

	engine.Tick(context.Background())
	if got := api.creations(); got != 0 {
		t.Fatalf("creations = %d, want 0 on ineligible day", got)
	}

	clk.Set(jakartaTime(2026, 3, 3, 8, 3, 0))
	engine.Tick(context.Background())
	if got := api.creations(); got != 1 {
		t.Fatalf("creations on Tuesday = %d, want 1", got)
	}
}

func TestOverdueNextRunCatchesUp(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 9, 30, 0)}
	engine := newEngine(t, db, api, clk)

	// Missed occurrence at 07:00; the time-of-day window has slid past
	// but next_run_at is only 2.5h overdue.
	missed := jakartaTime(2026, 3, 2, 7, 0, 0)
	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Missed Show",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "07:00",
		NextRunAt:         &missed,
	})

	engine.Tick(context.Background())
	if got := api.creations(); got != 1 {
		t.Fatalf("creations = %d, want 1 via catch-up", got)
	}
}

func TestStaleNextRunReArmsWithoutExecuting(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 9, 30, 0)}
	engine := newEngine(t, db, api, clk)

	stale := jakartaTime(2026, 2, 25, 7, 0, 0)
	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Abandoned Show",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "07:00",
		NextRunAt:         &stale,
	})

	engine.Tick(context.Background())
	if got := api.creations(); got != 0 {
		t.Fatalf("creations = %d, want 0 beyond catch-up ceiling", got)
	}

	var tpl models.BroadcastTemplate
	db.First(&tpl, "id = ?", "tpl1")
	if tpl.NextRunAt == nil || !tpl.NextRunAt.After(clk.Now()) {
		t.Errorf("next_run_at = %v, want re-armed in the future", tpl.NextRunAt)
	}
	if tpl.LastRunAt != nil {
		t.Errorf("last_run_at = %v, want untouched without execution", tpl.LastRunAt)
	}

	var record models.ExecutionRecord
	if err := db.First(&record, "template_id = ?", "tpl1").Error; err != nil {
		t.Fatalf("expected a history row for the skipped occurrence: %v", err)
	}
	if record.Outcome != models.ExecutionSkippedStale {
		t.Errorf("outcome = %q, want %q", record.Outcome, models.ExecutionSkippedStale)
	}
}

func TestAuthErrorAdvancesSchedule(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{tokenErr: broadcastapi.ErrTokenExpired}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Broken Creds",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	engine.Tick(context.Background())

	if got := api.creations(); got != 0 {
		t.Fatalf("creations = %d, want 0", got)
	}
	if api.tokenCalls != 1 {
		t.Errorf("token calls = %d, credential errors must not retry", api.tokenCalls)
	}

	var record models.ExecutionRecord
	if err := db.First(&record, "template_id = ?", "tpl1").Error; err != nil {
		t.Fatalf("execution record: %v", err)
	}
	if record.Outcome != models.ExecutionAuthError {
		t.Errorf("outcome = %q, want auth_error", record.Outcome)
	}

	var tpl models.BroadcastTemplate
	db.First(&tpl, "id = ?", "tpl1")
	if tpl.LastRunAt == nil || tpl.NextRunAt == nil {
		t.Error("auth failure must still advance the schedule")
	}
}

func TestTransientErrorsRetriedThenAdvance(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{createErr: &broadcastapi.StatusError{Code: 503, Body: "down"}}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Flaky Platform",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	engine.Tick(context.Background())

	if api.creations() != 3 {
		t.Errorf("create attempts = %d, want 3", api.creations())
	}

	var record models.ExecutionRecord
	if err := db.First(&record, "template_id = ?", "tpl1").Error; err != nil {
		t.Fatalf("execution record: %v", err)
	}
	if record.Outcome != models.ExecutionFailed {
		t.Errorf("outcome = %q, want failed", record.Outcome)
	}
	if record.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", record.Attempts)
	}

	var tpl models.BroadcastTemplate
	db.First(&tpl, "id = ?", "tpl1")
	if tpl.NextRunAt == nil || !tpl.NextRunAt.After(clk.Now()) {
		t.Error("failed execution must still arm the next run")
	}
}

func TestConcurrentExecutionsSingleFlight(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{block: make(chan struct{})}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Contended Show",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Execute(context.Background(), "tpl1")
		}()
	}

	// Give both goroutines time to contend for the lock, then let the
	// winner's API call finish.
	time.Sleep(100 * time.Millisecond)
	close(api.block)
	wg.Wait()

	if got := api.creations(); got != 1 {
		t.Fatalf("creations = %d, want exactly 1 under contention", got)
	}
	if engine.ExecutingCount() != 0 {
		t.Error("execution lock leaked")
	}
}

func TestSuccessPersistsRotationCursors(t *testing.T) {
	db := openEngineDB(t)
	api := &fakeAPI{}
	clk := &fakeClock{t: jakartaTime(2026, 3, 2, 8, 3, 0)}
	engine := newEngine(t, db, api, clk)

	seedTemplate(t, db, models.BroadcastTemplate{
		Title:             "Show {date}",
		RecurrencePattern: models.RecurrenceDaily,
		RecurrenceTime:    "08:00",
	})

	engine.Tick(context.Background())

	if len(api.requests) != 1 {
		t.Fatalf("requests = %d", len(api.requests))
	}
	if api.requests[0].Title != "Show 2026-03-02" {
		t.Errorf("title = %q", api.requests[0].Title)
	}

	var record models.ExecutionRecord
	db.First(&record, "template_id = ?", "tpl1")
	if record.Outcome != models.ExecutionSucceeded || record.BroadcastID != "b1" {
		t.Errorf("record = %+v", record)
	}
}
