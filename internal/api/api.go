/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/audit"
	"github.com/friendsincode/muninn_live/internal/auth"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
	"github.com/friendsincode/muninn_live/internal/scheduler"
	"github.com/friendsincode/muninn_live/internal/stream"
)

// API exposes HTTP handlers.
type API struct {
	db         *gorm.DB
	jwtSecret  []byte
	supervisor *stream.Supervisor
	engine     *scheduler.Engine
	auditSvc   *audit.Service
	bus        events.EventBus
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, supervisor *stream.Supervisor, engine *scheduler.Engine, auditSvc *audit.Service, bus events.EventBus, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		jwtSecret:  jwtSecret,
		supervisor: supervisor,
		engine:     engine,
		auditSvc:   auditSvc,
		bus:        bus,
		logger:     logger,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/streams", func(r chi.Router) {
				r.Get("/", a.handleStreamsList)
				r.Post("/", a.handleStreamsCreate)
				r.Route("/{streamID}", func(r chi.Router) {
					r.Get("/", a.handleStreamsGet)
					r.Patch("/", a.handleStreamsUpdate)
					r.Delete("/", a.handleStreamsDelete)
					r.Post("/start", a.handleStreamStart)
					r.Post("/stop", a.handleStreamStop)
					r.Get("/status", a.handleStreamStatus)
					r.Get("/logs", a.handleStreamLogs)
				})
			})

			pr.Route("/templates", func(r chi.Router) {
				r.Get("/", a.handleTemplatesList)
				r.Post("/", a.handleTemplatesCreate)
				r.Route("/{templateID}", func(r chi.Router) {
					r.Get("/", a.handleTemplatesGet)
					r.Patch("/", a.handleTemplatesUpdate)
					r.Delete("/", a.handleTemplatesDelete)
					r.Post("/execute", a.handleTemplateExecute)
					r.Get("/executions", a.handleTemplateExecutions)
				})
			})

			pr.Route("/credentials", func(r chi.Router) {
				r.Get("/", a.handleCredentialsList)
				r.Post("/", a.handleCredentialsCreate)
				r.Delete("/{credentialID}", a.handleCredentialsDelete)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeyRevoke)
			})

			pr.With(a.requireAdmin).Get("/audit", a.handleAuditList)

			pr.Get("/system/status", a.handleSystemStatus)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SystemStatus represents the overall system health status.
type SystemStatus struct {
	Database      ComponentStatus `json:"database"`
	ActiveStreams int             `json:"active_streams"`
	Executing     int             `json:"executing_templates"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ComponentStatus represents the status of a single system component.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
}

func (a *API) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{Timestamp: time.Now()}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := a.db.DB()
	if err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else {
		status.Database = ComponentStatus{Status: "ok"}
	}

	if a.supervisor != nil {
		status.ActiveStreams = a.supervisor.ActiveCount()
	}
	if a.engine != nil {
		status.Executing = a.engine.ExecutingCount()
	}

	writeJSON(w, http.StatusOK, status)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

// requireAdmin gates a route on the admin role.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		for _, role := range claims.Roles {
			if role == "admin" {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "insufficient_role")
	})
}

// requireOwnership loads the claims and reports whether the caller may act
// on a resource owned by ownerID. Admins may act on anything.
func (a *API) requireOwnership(w http.ResponseWriter, r *http.Request, ownerID string) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if claims.UserID == ownerID {
		return claims, true
	}
	for _, role := range claims.Roles {
		if role == "admin" {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "not_owner")
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
