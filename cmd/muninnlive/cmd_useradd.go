/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/friendsincode/muninn_live/internal/db"
	"github.com/friendsincode/muninn_live/internal/models"
)

var (
	useraddEmail      string
	useraddPassword   string
	useraddAdmin      bool
	useraddMaxStreams int
)

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create a user account",
	Long: `Creates a user account directly in the database.

Examples:
  muninnlive useradd --email owner@example.com --password s3cret
  muninnlive useradd --email ops@example.com --password s3cret --admin --max-streams 5`,
	RunE: runUseradd,
}

func init() {
	rootCmd.AddCommand(useraddCmd)
	useraddCmd.Flags().StringVar(&useraddEmail, "email", "", "Email address (required)")
	useraddCmd.Flags().StringVar(&useraddPassword, "password", "", "Password (required)")
	useraddCmd.Flags().BoolVar(&useraddAdmin, "admin", false, "Grant the admin role")
	useraddCmd.Flags().IntVar(&useraddMaxStreams, "max-streams", 1, "Concurrent live stream limit")
}

func runUseradd(cmd *cobra.Command, args []string) error {
	if useraddEmail == "" || useraddPassword == "" {
		return fmt.Errorf("--email and --password are required")
	}

	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(useraddPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:               uuid.NewString(),
		Email:            useraddEmail,
		Password:         string(hash),
		Admin:            useraddAdmin,
		MaxActiveStreams: useraddMaxStreams,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("created user %s (%s)\n", user.Email, user.ID)
	return nil
}
