/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
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
	"github.com/friendsincode/muninn_live/internal/stream"
)

type streamRequest struct {
	Name              string `json:"name"`
	VideoPath         string `json:"video_path"`
	AudioPath         string `json:"audio_path"`
	LoopVideo         bool   `json:"loop_video"`
	RTMPUrl           string `json:"rtmp_url"`
	StreamKey         string `json:"stream_key"`
	AdvancedEncoding  bool   `json:"advanced_encoding"`
	EncoderParams     string `json:"encoder_params"`
	DurationMinutes   int    `json:"duration_minutes"`
	DurationHours     int    `json:"duration_hours"`
	ScheduleTime      string `json:"schedule_time"`
	EndTime           string `json:"end_time"`
	RecurrenceEnabled bool   `json:"recurrence_enabled"`
	RecurrencePattern string `json:"recurrence_pattern"`
	RecurrenceTime    string `json:"recurrence_time"`
	RecurrenceDays    []int  `json:"recurrence_days"`
}

func (a *API) handleStreamsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var streams []models.Stream
	if err := a.db.WithContext(r.Context()).
		Where("user_id = ?", claims.UserID).
		Order("created_at DESC").
		Find(&streams).Error; err != nil {
		a.logger.Error().Err(err).Msg("list streams failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (a *API) handleStreamsCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.VideoPath == "" {
		writeError(w, http.StatusBadRequest, "video_path_required")
		return
	}
	if req.RTMPUrl == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "rtmp_target_required")
		return
	}

	s := models.Stream{
		ID:                uuid.NewString(),
		UserID:            claims.UserID,
		Name:              req.Name,
		VideoPath:         req.VideoPath,
		AudioPath:         req.AudioPath,
		LoopVideo:         req.LoopVideo,
		RTMPUrl:           req.RTMPUrl,
		StreamKey:         req.StreamKey,
		AdvancedEncoding:  req.AdvancedEncoding,
		EncoderParams:     req.EncoderParams,
		DurationMinutes:   req.DurationMinutes,
		DurationHours:     req.DurationHours,
		ScheduleTime:      req.ScheduleTime,
		EndTime:           req.EndTime,
		RecurrenceEnabled: req.RecurrenceEnabled,
		RecurrencePattern: models.RecurrencePattern(req.RecurrencePattern),
		RecurrenceTime:    req.RecurrenceTime,
		RecurrenceDays:    req.RecurrenceDays,
		Status:            models.StreamOffline,
	}
	if s.IsRecurring() {
		s.Status = models.StreamScheduled
	}

	if err := a.db.WithContext(r.Context()).Create(&s).Error; err != nil {
		a.logger.Error().Err(err).Msg("create stream failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

func (a *API) loadStream(w http.ResponseWriter, r *http.Request) (*models.Stream, bool) {
	streamID := chi.URLParam(r, "streamID")
	if streamID == "" {
		writeError(w, http.StatusBadRequest, "stream_id_required")
		return nil, false
	}

	var s models.Stream
	err := a.db.WithContext(r.Context()).First(&s, "id = ?", streamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "stream_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("stream_id", streamID).Msg("load stream failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}

	if _, ok := a.requireOwnership(w, r, s.UserID); !ok {
		return nil, false
	}
	return &s, true
}

func (a *API) handleStreamsGet(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleStreamsUpdate(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}
	if s.Status == models.StreamLive {
		writeError(w, http.StatusConflict, "stream_live")
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name != "" {
		s.Name = req.Name
	}
	if req.VideoPath != "" {
		s.VideoPath = req.VideoPath
	}
	s.AudioPath = req.AudioPath
	s.LoopVideo = req.LoopVideo
	if req.RTMPUrl != "" {
		s.RTMPUrl = req.RTMPUrl
	}
	if req.StreamKey != "" {
		s.StreamKey = req.StreamKey
	}
	s.AdvancedEncoding = req.AdvancedEncoding
	s.EncoderParams = req.EncoderParams
	s.DurationMinutes = req.DurationMinutes
	s.DurationHours = req.DurationHours
	s.ScheduleTime = req.ScheduleTime
	s.EndTime = req.EndTime
	s.RecurrenceEnabled = req.RecurrenceEnabled
	s.RecurrencePattern = models.RecurrencePattern(req.RecurrencePattern)
	s.RecurrenceTime = req.RecurrenceTime
	s.RecurrenceDays = req.RecurrenceDays
	if s.Status != models.StreamLive {
		if s.IsRecurring() {
			s.Status = models.StreamScheduled
		} else {
			s.Status = models.StreamOffline
		}
	}

	if err := a.db.WithContext(r.Context()).Save(s).Error; err != nil {
		a.logger.Error().Err(err).Str("stream_id", s.ID).Msg("update stream failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleStreamsDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}
	if s.Status == models.StreamLive {
		writeError(w, http.StatusConflict, "stream_live")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.Stream{}, "id = ?", s.ID).Error; err != nil {
		a.logger.Error().Err(err).Str("stream_id", s.ID).Msg("delete stream failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.supervisor.Logs().Drop(s.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}

	err := a.supervisor.Start(r.Context(), s.ID)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running")
		return
	case errors.Is(err, stream.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, "quota_exceeded")
		return
	case errors.Is(err, stream.ErrMediaMissing):
		writeError(w, http.StatusUnprocessableEntity, "media_missing")
		return
	case errors.Is(err, stream.ErrSpawnFailed):
		writeError(w, http.StatusBadGateway, "spawn_failed")
		return
	default:
		a.logger.Error().Err(err).Str("stream_id", s.ID).Msg("start stream failed")
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditStreamStart, events.Payload{
		"stream_id": s.ID,
		"name":      s.Name,
	})
	writeJSON(w, http.StatusOK, a.supervisor.StreamStatus(s.ID))
}

func (a *API) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}

	if err := a.supervisor.Stop(r.Context(), s.ID); err != nil {
		a.logger.Error().Err(err).Str("stream_id", s.ID).Msg("stop stream failed")
		writeError(w, http.StatusInternalServerError, "stop_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditStreamStop, events.Payload{
		"stream_id": s.ID,
		"name":      s.Name,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *API) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}

	status := a.supervisor.StreamStatus(s.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id": s.ID,
		"status":    s.Status,
		"runtime":   status,
	})
}

func (a *API) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadStream(w, r)
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	buf, exists := a.supervisor.Logs().Peek(s.ID)
	if !exists {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, buf.Search(q))
		return
	}
	writeJSON(w, http.StatusOK, buf.Tail(limit))
}
