/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/auth"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/models"
)

// credentialView never exposes the secret or refresh token.
type credentialView struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	ClientID string `json:"client_id"`
}

func (a *API) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var creds []models.Credential
	if err := a.db.WithContext(r.Context()).
		Where("user_id = ?", claims.UserID).
		Order("created_at DESC").
		Find(&creds).Error; err != nil {
		a.logger.Error().Err(err).Msg("list credentials failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	views := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, credentialView{ID: c.ID, Label: c.Label, ClientID: c.ClientID})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCredentialsCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Label        string `json:"label"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "credential_fields_required")
		return
	}

	cred := models.Credential{
		ID:           uuid.NewString(),
		UserID:       claims.UserID,
		Label:        req.Label,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RefreshToken: req.RefreshToken,
	}
	if err := a.db.WithContext(r.Context()).Create(&cred).Error; err != nil {
		a.logger.Error().Err(err).Msg("create credential failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventCredentialUpdated, events.Payload{"credential_id": cred.ID})
	writeJSON(w, http.StatusCreated, credentialView{ID: cred.ID, Label: cred.Label, ClientID: cred.ClientID})
}

func (a *API) handleCredentialsDelete(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "credentialID")
	if credentialID == "" {
		writeError(w, http.StatusBadRequest, "credential_id_required")
		return
	}

	var cred models.Credential
	err := a.db.WithContext(r.Context()).First(&cred, "id = ?", credentialID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "credential_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if _, ok := a.requireOwnership(w, r, cred.UserID); !ok {
		return
	}

	// Templates still pointing at this credential will fail their next run
	// with a history record; refuse deletion while any reference exists.
	var refs int64
	if err := a.db.WithContext(r.Context()).
		Model(&models.BroadcastTemplate{}).
		Where("credential_id = ?", cred.ID).
		Count(&refs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if refs > 0 {
		writeError(w, http.StatusConflict, "credential_in_use")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.Credential{}, "id = ?", cred.ID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventCredentialUpdated, events.Payload{"credential_id": cred.ID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
