package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
)

func openAuditDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each sqlite :memory: connection is a separate database; pin the pool
	// to one connection so the migrated schema is visible to all goroutines.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEventBecomesAuditEntry(t *testing.T) {
	db := openAuditDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	// Give the subscriber loop a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventAuditStreamStart, events.Payload{
		"user_id":       "u1",
		"user_email":    "owner@example.com",
		"resource_type": "stream",
		"resource_id":   "s1",
		"stream_name":   "morning relay",
	})

	deadline := time.Now().Add(2 * time.Second)
	var entry models.AuditLog
	for {
		if err := db.First(&entry, "action = ?", models.AuditActionStreamStart).Error; err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audit entry never written")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if entry.UserID == nil || *entry.UserID != "u1" {
		t.Errorf("user_id = %v, want u1", entry.UserID)
	}
	if entry.ResourceID != "s1" {
		t.Errorf("resource_id = %q, want s1", entry.ResourceID)
	}
	if entry.Details["stream_name"] != "morning relay" {
		t.Errorf("details = %v, want stream_name retained", entry.Details)
	}
	if _, ok := entry.Details["user_id"]; ok {
		t.Error("user_id should be promoted out of details")
	}
}

func TestQueryFiltersByActionAndTime(t *testing.T) {
	db := openAuditDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	entries := []models.AuditLog{
		{Action: models.AuditActionStreamStart, Timestamp: base},
		{Action: models.AuditActionStreamStop, Timestamp: base.Add(time.Hour)},
		{Action: models.AuditActionStreamStart, Timestamp: base.Add(2 * time.Hour)},
	}
	for i := range entries {
		if err := svc.Log(ctx, &entries[i]); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	action := models.AuditActionStreamStart
	logs, total, err := svc.Query(ctx, QueryFilters{Action: &action})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 2 || len(logs) != 2 {
		t.Fatalf("total = %d len = %d, want 2", total, len(logs))
	}
	if !logs[0].Timestamp.After(logs[1].Timestamp) {
		t.Error("expected newest-first ordering")
	}

	cut := base.Add(30 * time.Minute)
	logs, total, err = svc.Query(ctx, QueryFilters{StartTime: &cut})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 after start_time cut", total)
	}
	for _, l := range logs {
		if l.Timestamp.Before(cut) {
			t.Errorf("entry at %v before cut %v", l.Timestamp, cut)
		}
	}
}
