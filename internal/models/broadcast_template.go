/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// BroadcastTemplate is a recurring-job definition: each occurrence creates a
// new broadcast against the external API with rotated content.
type BroadcastTemplate struct {
	ID           string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string `gorm:"type:uuid;index;not null" json:"user_id"`
	CredentialID string `gorm:"type:uuid;index" json:"credential_id"`
	Name         string `gorm:"type:varchar(255);not null" json:"name"`

	// Broadcast content
	Title        string   `gorm:"type:text" json:"title"`
	Description  string   `gorm:"type:text" json:"description,omitempty"`
	Privacy      string   `gorm:"type:varchar(16);default:'public'" json:"privacy"`
	CategoryID   string   `gorm:"type:varchar(32)" json:"category_id,omitempty"`
	Tags         []string `gorm:"serializer:json" json:"tags,omitempty"`
	StreamTarget string   `gorm:"type:text" json:"stream_target,omitempty"`

	// Rotation sets. TitleSetKey points at a yaml title list and
	// ThumbnailFolder at an object-store prefix of images; when a pinned
	// value is set the cursor holds its position.
	TitleSetKey     string `gorm:"type:text" json:"title_set_key,omitempty"`
	ThumbnailFolder string `gorm:"type:text" json:"thumbnail_folder,omitempty"`
	PinnedTitle     string `gorm:"type:text" json:"pinned_title,omitempty"`
	PinnedThumbnail string `gorm:"type:text" json:"pinned_thumbnail,omitempty"`
	TitleCursor     int    `json:"title_cursor"`
	ThumbCursor     int    `json:"thumb_cursor"`

	// Recurrence (same shape as Stream)
	RecurringEnabled  bool              `json:"recurring_enabled"`
	RecurrencePattern RecurrencePattern `gorm:"type:varchar(16)" json:"recurrence_pattern"`
	RecurrenceTime    string            `gorm:"type:varchar(8)" json:"recurrence_time"` // HH:MM
	RecurrenceDays    []int             `gorm:"serializer:json" json:"recurrence_days,omitempty"`

	// Bookkeeping mutated only by the schedule engine.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	AutoStart bool `gorm:"default:true" json:"auto_start"`
	AutoStop  bool `gorm:"default:true" json:"auto_stop"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (BroadcastTemplate) TableName() string {
	return "broadcast_templates"
}

// Credential stores external broadcast-API credentials for a user.
type Credential struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	UserID       string `gorm:"type:uuid;index"`
	Label        string `gorm:"type:varchar(255)"`
	ClientID     string `gorm:"type:text"`
	ClientSecret string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
