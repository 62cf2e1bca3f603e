/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/muninn_live/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Stream{},
		&models.BroadcastTemplate{},
		&models.Credential{},
		&models.ExecutionRecord{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	// Streams left in 'live' by an unclean shutdown are deliberately not
	// reset here: the relay process may still be running on this host,
	// and the supervisor's orphan-takeover path in Stop handles them.
	return normalizeStreamStatus(database)
}

// normalizeStreamStatus backfills rows created before the status column
// had a default.
func normalizeStreamStatus(database *gorm.DB) error {
	return database.Exec(
		"UPDATE streams SET status = 'offline' WHERE status IS NULL OR status = ''",
	).Error
}
