/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/muninn_live/internal/broadcastapi"
	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/db"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/scheduler"
	"github.com/friendsincode/muninn_live/internal/storage"
)

var catchupTimeout time.Duration

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Run one schedule-engine pass and exit",
	Long: `Evaluates every enabled broadcast template once, executing any due or
overdue occurrence, then exits. Useful after downtime or from cron when the
long-running server is not deployed.

Examples:
  muninnlive catchup
  muninnlive catchup --timeout 5m`,
	RunE: runCatchup,
}

func init() {
	rootCmd.AddCommand(catchupCmd)
	catchupCmd.Flags().DurationVar(&catchupTimeout, "timeout", 10*time.Minute, "Abort the pass after this duration")
}

func runCatchup(cmd *cobra.Command, args []string) error {
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

	zone, err := clock.LoadZone(cfg.Timezone)
	if err != nil {
		logger.Warn().Err(err).Msg("timezone database unavailable, running on fixed offset")
	}

	var store storage.ObjectStore
	if cfg.S3Bucket != "" {
		store, err = storage.NewS3Store(context.Background(), storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKeyID,
			SecretKey: cfg.S3SecretAccessKey,
		})
	} else {
		store, err = storage.NewFSStore(cfg.StorageRoot)
	}
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	apiClient, err := broadcastapi.NewHTTPClient(cfg.BroadcastTokenURL, cfg.BroadcastAPIURL)
	if err != nil {
		return fmt.Errorf("init broadcast api client: %w", err)
	}

	content := scheduler.NewContentSource(store, zone, logger)
	engine := scheduler.New(database, apiClient, content, zone, events.NewBus(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), catchupTimeout)
	defer cancel()

	logger.Info().Msg("running one-shot schedule pass")
	engine.Tick(ctx)

	// Tick fires executions synchronously; by the time it returns every
	// due occurrence has been attempted and recorded.
	logger.Info().Msg("schedule pass complete")
	return nil
}
