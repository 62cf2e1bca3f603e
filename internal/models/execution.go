/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ExecutionOutcome classifies how a scheduled execution attempt ended.
type ExecutionOutcome string

const (
	ExecutionSucceeded ExecutionOutcome = "succeeded"
	ExecutionFailed    ExecutionOutcome = "failed"
	ExecutionAuthError ExecutionOutcome = "auth_error"

	// ExecutionSkippedStale marks a run that was abandoned because the
	// schedule was overdue past the catch-up ceiling and re-armed instead.
	ExecutionSkippedStale ExecutionOutcome = "skipped_stale"
)

// ExecutionRecord is the history row written after every completed execution
// attempt of a broadcast template. Scheduled-execution failures have no
// synchronous caller; history records are how they surface.
type ExecutionRecord struct {
	ID          string           `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID  string           `gorm:"type:uuid;index" json:"template_id"`
	UserID      string           `gorm:"type:uuid;index" json:"user_id"`
	Outcome     ExecutionOutcome `gorm:"type:varchar(16)" json:"outcome"`
	BroadcastID string           `gorm:"type:varchar(64)" json:"broadcast_id,omitempty"`
	Title       string           `gorm:"type:text" json:"title,omitempty"`
	Error       string           `gorm:"type:text" json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	ExecutedAt  time.Time        `gorm:"index" json:"executed_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TableName returns the table name for GORM.
func (ExecutionRecord) TableName() string {
	return "execution_records"
}
