/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus over Redis pub/sub so
// that multiple instances sharing one database see each other's stream and
// schedule events. Local delivery always goes through the in-process bus;
// Redis only carries events between nodes.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFailures is the consecutive-failure threshold after which the bus
	// degrades to local-only delivery; CheckInterval paces reconnects.
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// envelope is the wire form of an event on a Redis channel. NodeID lets
// receivers drop their own publications instead of double-delivering.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// RedisBus implements events.EventBus across processes. Subscribers are held
// by the wrapped in-process bus; one relay goroutine per event type feeds
// remote messages into it.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	mu       sync.Mutex
	relays   map[events.EventType]*redis.PubSub
	subCount map[events.EventType]int
	degraded bool
	failures int
	lastPing time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects to Redis and wraps the in-process bus. If Redis is
// unreachable the bus starts degraded: local delivery still works and the
// connection is retried lazily on publish.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client:   client,
		local:    events.NewBus(),
		logger:   logger.With().Str("component", "eventbus").Logger(),
		nodeID:   nodeID,
		cfg:      cfg,
		relays:   make(map[events.EventType]*redis.PubSub),
		subCount: make(map[events.EventType]int),
		ctx:      ctx,
		cancel:   cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("redis unreachable, event bus degraded to local delivery")
		rb.degraded = true
		rb.lastPing = time.Now()
		return rb, nil
	}

	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus connected")
	return rb, nil
}

// Subscribe registers a local subscriber and ensures a Redis relay exists
// for the event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.local.Subscribe(eventType)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.subCount[eventType]++
	if _, ok := rb.relays[eventType]; !ok && !rb.degraded {
		pubsub := rb.client.Subscribe(rb.ctx, string(eventType))
		rb.relays[eventType] = pubsub
		rb.wg.Add(1)
		go rb.relay(eventType, pubsub)
	}

	return sub
}

// Unsubscribe removes a local subscriber and tears down the Redis relay
// when the last subscriber for the event type is gone.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.subCount[eventType] > 0 {
		rb.subCount[eventType]--
	}
	if rb.subCount[eventType] == 0 {
		if pubsub, ok := rb.relays[eventType]; ok {
			_ = pubsub.Close()
			delete(rb.relays, eventType)
		}
	}
}

// Publish delivers locally first, then fans out to other nodes over Redis.
// Local delivery never depends on Redis health.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if !rb.healthy() {
		return
	}

	raw, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    rb.nodeID,
	})
	if err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal event envelope")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, string(eventType), raw).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish to redis")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failures = 0
	rb.mu.Unlock()
}

// relay feeds remote messages for one event type into the local bus.
func (rb *RedisBus) relay(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event_type", string(eventType)).Msg("redis relay channel closed")
				rb.recordFailure()
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				rb.logger.Error().Err(err).Msg("unmarshal event envelope")
				continue
			}
			if env.NodeID == rb.nodeID {
				continue
			}

			rb.local.Publish(eventType, env.Payload)
		}
	}
}

// healthy reports whether Redis fan-out is active, attempting a paced
// reconnect when degraded.
func (rb *RedisBus) healthy() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.degraded {
		return true
	}
	if time.Since(rb.lastPing) < rb.cfg.CheckInterval {
		return false
	}
	rb.lastPing = time.Now()

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return false
	}

	rb.degraded = false
	rb.failures = 0
	rb.logger.Info().Msg("redis reachable again, event fan-out restored")
	return true
}

// recordFailure counts consecutive Redis errors and degrades the bus at
// the threshold. The client stays open so healthy() can restore fan-out.
func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failures++
	if rb.failures >= rb.cfg.MaxFailures && !rb.degraded {
		rb.logger.Warn().
			Int("failures", rb.failures).
			Msg("redis failure threshold reached, event bus degraded to local delivery")
		rb.degraded = true
		rb.lastPing = time.Now()
	}
}

// Close stops all relays and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.wg.Wait()

	rb.mu.Lock()
	for _, pubsub := range rb.relays {
		_ = pubsub.Close()
	}
	rb.relays = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	if err := rb.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
