/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultTemplateListTTL = 1 * time.Minute
	DefaultCredentialTTL   = 10 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyTemplateList = "muninn:cache:templates"
	KeyCredential   = "muninn:cache:credential:" // + credential_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	TemplateListTTL time.Duration
	CredentialTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		TemplateListTTL: DefaultTemplateListTTL,
		CredentialTTL:   DefaultCredentialTTL,
		DisableOnError:  true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. The
// schedule engine works straight off the database when the cache is
// down; nothing here is load-bearing for correctness.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.handleError(err, "get")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false
	}
	return true
}

// set marshals and stores a value with a TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.IsAvailable() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to marshal value for cache")
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
	}
}

// invalidate removes keys from the cache.
func (c *Cache) invalidate(ctx context.Context, keys ...string) {
	if !c.IsAvailable() || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "del")
	}
}

// GetTemplateList returns the cached enabled-template list.
func (c *Cache) GetTemplateList(ctx context.Context) ([]models.BroadcastTemplate, bool) {
	var templates []models.BroadcastTemplate
	if !c.get(ctx, KeyTemplateList, &templates) {
		return nil, false
	}
	return templates, true
}

// SetTemplateList caches the enabled-template list.
func (c *Cache) SetTemplateList(ctx context.Context, templates []models.BroadcastTemplate) {
	c.set(ctx, KeyTemplateList, templates, c.config.TemplateListTTL)
}

// InvalidateTemplateList drops the template list after a write.
func (c *Cache) InvalidateTemplateList(ctx context.Context) {
	c.invalidate(ctx, KeyTemplateList)
}

// GetCredential returns a cached credential.
func (c *Cache) GetCredential(ctx context.Context, id string) (*models.Credential, bool) {
	var cred models.Credential
	if !c.get(ctx, KeyCredential+id, &cred) {
		return nil, false
	}
	return &cred, true
}

// SetCredential caches a credential.
func (c *Cache) SetCredential(ctx context.Context, cred *models.Credential) {
	c.set(ctx, KeyCredential+cred.ID, cred, c.config.CredentialTTL)
}

// InvalidateCredential drops a credential after a write or an auth failure.
func (c *Cache) InvalidateCredential(ctx context.Context, id string) {
	c.invalidate(ctx, KeyCredential+id)
}
