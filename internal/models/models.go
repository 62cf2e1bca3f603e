/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// StreamStatus enumerates the stream lifecycle states.
type StreamStatus string

const (
	StreamOffline   StreamStatus = "offline"
	StreamScheduled StreamStatus = "scheduled"
	StreamLive      StreamStatus = "live"
)

// RecurrencePattern enumerates supported recurrence patterns.
type RecurrencePattern string

const (
	RecurrenceDaily  RecurrencePattern = "daily"
	RecurrenceWeekly RecurrencePattern = "weekly"
)

// User represents an account that owns streams and templates.
type User struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	Email            string `gorm:"uniqueIndex"`
	Password         string
	MaxActiveStreams int `gorm:"default:1"`
	Admin            bool
	Suspended        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Stream is a single relay job target: one media source pushed to one
// RTMP endpoint, optionally looped and optionally duration-limited.
type Stream struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	UserID string `gorm:"type:uuid;index"`
	Name   string `gorm:"index"`

	// Media source
	VideoPath string `gorm:"type:text"`
	AudioPath string `gorm:"type:text"` // optional separate audio track
	LoopVideo bool

	// Target endpoint
	RTMPUrl   string `gorm:"type:text"`
	StreamKey string `gorm:"type:text"`

	// Encoding
	AdvancedEncoding bool
	EncoderParams    string `gorm:"type:text"`

	// Duration fields. Several legacy/alternate representations survive from
	// earlier schema versions; DurationSeconds resolves them by priority.
	DurationMinutes   int
	DurationHours     int
	ScheduleTime      string `gorm:"type:varchar(8)"` // HH:MM
	EndTime           string `gorm:"type:varchar(8)"` // HH:MM
	LegacyDurationMin int    `gorm:"column:stream_duration"`

	// Recurrence
	RecurrenceEnabled bool
	RecurrencePattern RecurrencePattern `gorm:"type:varchar(16)"`
	RecurrenceTime    string            `gorm:"type:varchar(8)"` // HH:MM
	RecurrenceDays    []int             `gorm:"serializer:json"` // 0=Sunday..6=Saturday

	Status    StreamStatus `gorm:"type:varchar(16);index"`
	StartedAt *time.Time
	StoppedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides for GORM.
func (Stream) TableName() string {
	return "streams"
}

// IsRecurring reports whether the stream has an active daily/weekly pattern.
func (s *Stream) IsRecurring() bool {
	if !s.RecurrenceEnabled {
		return false
	}
	return s.RecurrencePattern == RecurrenceDaily || s.RecurrencePattern == RecurrenceWeekly
}
