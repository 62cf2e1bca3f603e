/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/auth"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
)

type templateRequest struct {
	Name              string   `json:"name"`
	CredentialID      string   `json:"credential_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Privacy           string   `json:"privacy"`
	CategoryID        string   `json:"category_id"`
	Tags              []string `json:"tags"`
	StreamTarget      string   `json:"stream_target"`
	TitleSetKey       string   `json:"title_set_key"`
	ThumbnailFolder   string   `json:"thumbnail_folder"`
	PinnedTitle       string   `json:"pinned_title"`
	PinnedThumbnail   string   `json:"pinned_thumbnail"`
	RecurringEnabled  bool     `json:"recurring_enabled"`
	RecurrencePattern string   `json:"recurrence_pattern"`
	RecurrenceTime    string   `json:"recurrence_time"`
	RecurrenceDays    []int    `json:"recurrence_days"`
	AutoStart         *bool    `json:"auto_start"`
	AutoStop          *bool    `json:"auto_stop"`
}

func (a *API) handleTemplatesList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var templates []models.BroadcastTemplate
	if err := a.db.WithContext(r.Context()).
		Where("user_id = ?", claims.UserID).
		Order("created_at DESC").
		Find(&templates).Error; err != nil {
		a.logger.Error().Err(err).Msg("list templates failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (a *API) handleTemplatesCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.CredentialID == "" {
		writeError(w, http.StatusBadRequest, "credential_id_required")
		return
	}
	if req.RecurringEnabled && req.RecurrenceTime == "" {
		writeError(w, http.StatusBadRequest, "recurrence_time_required")
		return
	}

	tpl := models.BroadcastTemplate{
		ID:                uuid.NewString(),
		UserID:            claims.UserID,
		CredentialID:      req.CredentialID,
		Name:              req.Name,
		Title:             req.Title,
		Description:       req.Description,
		Privacy:           req.Privacy,
		CategoryID:        req.CategoryID,
		Tags:              req.Tags,
		StreamTarget:      req.StreamTarget,
		TitleSetKey:       req.TitleSetKey,
		ThumbnailFolder:   req.ThumbnailFolder,
		PinnedTitle:       req.PinnedTitle,
		PinnedThumbnail:   req.PinnedThumbnail,
		RecurringEnabled:  req.RecurringEnabled,
		RecurrencePattern: models.RecurrencePattern(req.RecurrencePattern),
		RecurrenceTime:    req.RecurrenceTime,
		RecurrenceDays:    req.RecurrenceDays,
		AutoStart:         true,
		AutoStop:          true,
	}
	if req.AutoStart != nil {
		tpl.AutoStart = *req.AutoStart
	}
	if req.AutoStop != nil {
		tpl.AutoStop = *req.AutoStop
	}
	if tpl.Privacy == "" {
		tpl.Privacy = "public"
	}

	if err := a.db.WithContext(r.Context()).Create(&tpl).Error; err != nil {
		a.logger.Error().Err(err).Msg("create template failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventTemplateUpdated, events.Payload{"template_id": tpl.ID})
	a.publishAuditEvent(r, events.EventAuditTemplateWrite, events.Payload{
		"template_id": tpl.ID,
		"name":        tpl.Name,
		"action":      "create",
	})
	writeJSON(w, http.StatusCreated, tpl)
}

func (a *API) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.BroadcastTemplate, bool) {
	templateID := chi.URLParam(r, "templateID")
	if templateID == "" {
		writeError(w, http.StatusBadRequest, "template_id_required")
		return nil, false
	}

	var tpl models.BroadcastTemplate
	err := a.db.WithContext(r.Context()).First(&tpl, "id = ?", templateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "template_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("template_id", templateID).Msg("load template failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}

	if _, ok := a.requireOwnership(w, r, tpl.UserID); !ok {
		return nil, false
	}
	return &tpl, true
}

func (a *API) handleTemplatesGet(w http.ResponseWriter, r *http.Request) {
	tpl, ok := a.loadTemplate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) handleTemplatesUpdate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := a.loadTemplate(w, r)
	if !ok {
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name != "" {
		tpl.Name = req.Name
	}
	if req.CredentialID != "" {
		tpl.CredentialID = req.CredentialID
	}
	tpl.Title = req.Title
	tpl.Description = req.Description
	if req.Privacy != "" {
		tpl.Privacy = req.Privacy
	}
	tpl.CategoryID = req.CategoryID
	tpl.Tags = req.Tags
	tpl.StreamTarget = req.StreamTarget
	tpl.TitleSetKey = req.TitleSetKey
	tpl.ThumbnailFolder = req.ThumbnailFolder
	tpl.PinnedTitle = req.PinnedTitle
	tpl.PinnedThumbnail = req.PinnedThumbnail
	tpl.RecurringEnabled = req.RecurringEnabled
	tpl.RecurrencePattern = models.RecurrencePattern(req.RecurrencePattern)
	tpl.RecurrenceTime = req.RecurrenceTime
	tpl.RecurrenceDays = req.RecurrenceDays
	if req.AutoStart != nil {
		tpl.AutoStart = *req.AutoStart
	}
	if req.AutoStop != nil {
		tpl.AutoStop = *req.AutoStop
	}

	// Schedule changed; recompute on the next engine pass.
	tpl.NextRunAt = nil

	if err := a.db.WithContext(r.Context()).Save(tpl).Error; err != nil {
		a.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("update template failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventTemplateUpdated, events.Payload{"template_id": tpl.ID})
	a.publishAuditEvent(r, events.EventAuditTemplateWrite, events.Payload{
		"template_id": tpl.ID,
		"name":        tpl.Name,
		"action":      "update",
	})
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) handleTemplatesDelete(w http.ResponseWriter, r *http.Request) {
	tpl, ok := a.loadTemplate(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.BroadcastTemplate{}, "id = ?", tpl.ID).Error; err != nil {
		a.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("delete template failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventTemplateDeleted, events.Payload{"template_id": tpl.ID})
	a.publishAuditEvent(r, events.EventAuditTemplateWrite, events.Payload{
		"template_id": tpl.ID,
		"name":        tpl.Name,
		"action":      "delete",
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTemplateExecute runs a template immediately, bypassing the due-time
// checks. The engine still enforces its execution lock and cooldown.
func (a *API) handleTemplateExecute(w http.ResponseWriter, r *http.Request) {
	tpl, ok := a.loadTemplate(w, r)
	if !ok {
		return
	}

	go a.engine.Execute(context.Background(), tpl.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *API) handleTemplateExecutions(w http.ResponseWriter, r *http.Request) {
	tpl, ok := a.loadTemplate(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var records []models.ExecutionRecord
	if err := a.db.WithContext(r.Context()).
		Where("template_id = ?", tpl.ID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		a.logger.Error().Err(err).Str("template_id", tpl.ID).Msg("list executions failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
