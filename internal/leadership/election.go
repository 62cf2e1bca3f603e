/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership provides Redis-based leader election so that only one
// instance runs the schedule engine when several share a database.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/telemetry"
)

const (
	electionKey = "muninn:leader:engine"

	// The leader must renew before the lease expires; followers poll at
	// retryInterval to take over a lapsed lease.
	leaseDuration   = 15 * time.Second
	renewalInterval = 5 * time.Second
)

// Config configures leader election.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
}

// Election campaigns for the engine leadership lease.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	instanceID string

	mu       sync.Mutex
	isLeader bool
	leaderCh chan bool
	cancel   context.CancelFunc
}

// NewElection connects to Redis and prepares an election. It fails if Redis
// is unreachable; callers without Redis should run the engine unconditionally.
func NewElection(cfg Config, logger zerolog.Logger) (*Election, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leadership").Logger(),
		instanceID: cfg.InstanceID,
		leaderCh:   make(chan bool, 1),
	}, nil
}

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease", leaseDuration).
		Msg("starting leader election")

	go e.campaign(ctx)
}

// Stop releases leadership if held and closes the Redis connection.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.release(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lease")
		}
	}

	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// LeaderCh delivers leadership transitions. Sends are non-blocking; only the
// latest transition matters to the consumer.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// CurrentLeader returns the instance ID holding the lease, or "" if none.
func (e *Election) CurrentLeader(ctx context.Context) (string, error) {
	leader, err := e.client.Get(ctx, electionKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leader, nil
}

func (e *Election) campaign(ctx context.Context) {
	// Followers retry faster than the renewal cadence so a lapsed lease is
	// picked up well inside one lease duration.
	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()

	e.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	held, err := e.acquireOrRenew(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("leadership attempt failed")
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// acquireOrRenew takes the lease if free, or extends it if already ours.
func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, electionKey, e.instanceID, leaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := e.client.Get(ctx, electionKey).Result()
	if err == redis.Nil {
		// Lease lapsed between SetNX and Get; next tick retries.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lease holder: %w", err)
	}

	if holder != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, electionKey, leaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

// release deletes the lease only if this instance still owns it.
func (e *Election) release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if err := e.client.Eval(ctx, script, []string{electionKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	e.logger.Info().Msg("released leadership lease")
	return nil
}

func (e *Election) setLeader(isLeader bool) {
	e.mu.Lock()
	changed := e.isLeader != isLeader
	e.isLeader = isLeader
	e.mu.Unlock()

	if !changed {
		return
	}

	if isLeader {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
		telemetry.LeaderStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderTransitionsTotal.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
		telemetry.LeaderStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderTransitionsTotal.WithLabelValues(e.instanceID, "lost").Inc()
	}

	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
