package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/audit"
	"github.com/friendsincode/muninn_live/internal/auth"
	"github.com/friendsincode/muninn_live/internal/models"
)

func adminToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.Issue(testSecret, auth.Claims{UserID: userID, Roles: []string{"user", "admin"}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + token
}

func TestAuditListRequiresAdmin(t *testing.T) {
	a, _ := newTestAPI(t)
	h := testRouter(t, a)

	rr := doJSON(t, h, http.MethodGet, "/api/v1/audit", "u1", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
}

func TestAuditListReturnsEntries(t *testing.T) {
	a, db := newTestAPI(t)
	h := testRouter(t, a)

	svc := audit.NewService(db, a.bus, zerolog.Nop())
	userID := "u1"
	if err := svc.Log(context.Background(), &models.AuditLog{
		Action:       models.AuditActionStreamStart,
		UserID:       &userID,
		UserEmail:    "owner@example.com",
		ResourceType: "stream",
		ResourceID:   "s1",
	}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?action=stream.start", nil)
	req.Header.Set("Authorization", adminToken(t, "u1"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		AuditLogs []auditLogResponse `json:"audit_logs"`
		Total     int64              `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.AuditLogs) != 1 {
		t.Fatalf("expected one entry, got total=%d len=%d", resp.Total, len(resp.AuditLogs))
	}
	if resp.AuditLogs[0].Action != string(models.AuditActionStreamStart) {
		t.Fatalf("unexpected action %q", resp.AuditLogs[0].Action)
	}
}
