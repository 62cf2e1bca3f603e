/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/api"
	"github.com/friendsincode/muninn_live/internal/audit"
	"github.com/friendsincode/muninn_live/internal/broadcastapi"
	"github.com/friendsincode/muninn_live/internal/cache"
	"github.com/friendsincode/muninn_live/internal/clock"
	"github.com/friendsincode/muninn_live/internal/config"
	"github.com/friendsincode/muninn_live/internal/db"
	"github.com/friendsincode/muninn_live/internal/eventbus"
	"github.com/friendsincode/muninn_live/internal/events"
	"github.com/friendsincode/muninn_live/internal/leadership"
	"github.com/friendsincode/muninn_live/internal/scheduler"
	"github.com/friendsincode/muninn_live/internal/storage"
	"github.com/friendsincode/muninn_live/internal/stream"
	"github.com/friendsincode/muninn_live/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	metricsSrv *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	store      storage.ObjectStore
	zone       clock.Zone
	api        *api.API
	supervisor *stream.Supervisor
	engine     *scheduler.Engine
	auditSvc   *audit.Service
	election   *leadership.Election
	bus        events.EventBus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("muninn-live-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := db.RegisterCallbacks(database); err != nil {
		s.logger.Warn().Err(err).Msg("register database telemetry callbacks failed")
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	zone, err := clock.LoadZone(s.cfg.Timezone)
	if err != nil {
		s.logger.Warn().Err(err).Msg("timezone database unavailable, running on fixed offset")
	}
	s.zone = zone

	// Event bus: Redis-bridged when an instance ID is configured so
	// multiple instances see each other's invalidations.
	if s.cfg.InstanceID != "" {
		rb, err := eventbus.NewRedisBus(eventbus.RedisConfig{
			Addr:          s.cfg.RedisAddr,
			Password:      s.cfg.RedisPassword,
			DB:            s.cfg.RedisDB,
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			MaxFailures:   5,
			CheckInterval: 30 * time.Second,
		}, s.cfg.InstanceID, s.logger)
		if err != nil {
			return fmt.Errorf("init redis event bus: %w", err)
		}
		s.bus = rb
		s.DeferClose(rb.Close)
	} else {
		s.bus = events.NewBus()
	}

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		s.cache = c
		s.DeferClose(c.Close)
	}

	// Object store for thumbnails and title sets.
	if s.cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), storage.S3Options{
			Bucket:    s.cfg.S3Bucket,
			Region:    s.cfg.S3Region,
			Endpoint:  s.cfg.S3Endpoint,
			AccessKey: s.cfg.S3AccessKeyID,
			SecretKey: s.cfg.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("init s3 store: %w", err)
		}
		s.store = store
	} else {
		store, err := storage.NewFSStore(s.cfg.StorageRoot)
		if err != nil {
			return fmt.Errorf("init filesystem store: %w", err)
		}
		s.store = store
	}

	term := stream.NewLogTerminationScheduler(s.logger)
	s.supervisor = stream.NewSupervisor(s.db, s.bus, term, s.cfg.FFmpegBin, s.logger)

	apiClient, err := broadcastapi.NewHTTPClient(s.cfg.BroadcastTokenURL, s.cfg.BroadcastAPIURL)
	if err != nil {
		return fmt.Errorf("init broadcast api client: %w", err)
	}
	content := scheduler.NewContentSource(s.store, s.zone, s.logger)
	engineOpts := []scheduler.Option{scheduler.WithInterval(s.cfg.PollInterval)}
	if s.cache != nil {
		engineOpts = append(engineOpts, scheduler.WithCache(s.cache))
	}
	s.engine = scheduler.New(s.db, apiClient, content, s.zone, s.bus, s.logger, engineOpts...)

	if s.cfg.InstanceID != "" {
		election, err := leadership.NewElection(leadership.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("leader election unavailable, running engine unconditionally")
		} else {
			s.election = election
			s.DeferClose(election.Stop)
		}
	}

	s.auditSvc = audit.NewService(s.db, s.bus, s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSecret), s.supervisor, s.engine, s.auditSvc, s.bus, s.logger)

	return nil
}

// HTTPServer exposes the configured http.Server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Supervisor exposes the stream supervisor.
func (s *Server) Supervisor() *stream.Supervisor {
	return s.supervisor
}

// Engine exposes the schedule engine.
func (s *Server) Engine() *scheduler.Engine {
	return s.engine
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runEngineWhenLeader starts and stops the schedule engine as this instance
// gains and loses the leadership lease.
func (s *Server) runEngineWhenLeader(ctx context.Context) {
	var engineCancel context.CancelFunc
	var wg sync.WaitGroup

	stopEngine := func() {
		if engineCancel != nil {
			engineCancel()
			engineCancel = nil
			wg.Wait()
		}
	}
	defer stopEngine()

	for {
		select {
		case <-ctx.Done():
			return
		case isLeader := <-s.election.LeaderCh():
			if isLeader && engineCancel == nil {
				engineCtx, cancel := context.WithCancel(ctx)
				engineCancel = cancel
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.engine.Run(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error().Err(err).Msg("schedule engine loop exited")
					}
				}()
			} else if !isLeader {
				stopEngine()
			}
		}
	}
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.supervisor.Run(ctx)
	}()

	if s.election != nil {
		s.election.Start(ctx)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runEngineWhenLeader(ctx)
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("schedule engine loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	// Database connection metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}

	// Dedicated metrics listener, bound separately from the API.
	if s.cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("bind", s.cfg.MetricsBind).Msg("metrics server exited")
			}
		}()
	}
}

// runCacheInvalidationListener subscribes to cache events and invalidates
// cached rows accordingly.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	templateUpdated := s.bus.Subscribe(events.EventTemplateUpdated)
	templateDeleted := s.bus.Subscribe(events.EventTemplateDeleted)
	credentialUpdated := s.bus.Subscribe(events.EventCredentialUpdated)

	defer func() {
		s.bus.Unsubscribe(events.EventTemplateUpdated, templateUpdated)
		s.bus.Unsubscribe(events.EventTemplateDeleted, templateDeleted)
		s.bus.Unsubscribe(events.EventCredentialUpdated, credentialUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case <-templateUpdated:
			s.cache.InvalidateTemplateList(ctx)

		case <-templateDeleted:
			s.cache.InvalidateTemplateList(ctx)

		case payload := <-credentialUpdated:
			s.cache.InvalidateTemplateList(ctx)
			if credentialID, ok := payload["credential_id"].(string); ok {
				s.cache.InvalidateCredential(ctx, credentialID)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}
