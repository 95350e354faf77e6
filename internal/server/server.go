/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires RelayCore's HTTP surface: the signaling
// WebSocket route, health and metrics endpoints, and the lifecycle of
// the control loop and its dependencies.
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

	"github.com/friendsincode/relaycore/internal/config"
	"github.com/friendsincode/relaycore/internal/control"
	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/eventbus"
	"github.com/friendsincode/relaycore/internal/registry"
	"github.com/friendsincode/relaycore/internal/rtcengine"
	"github.com/friendsincode/relaycore/internal/signaling"
	"github.com/friendsincode/relaycore/internal/telemetry"
	"github.com/friendsincode/relaycore/internal/version"
)

// Server bundles the signaling HTTP server, the metrics server, and the
// control loop's lifecycle.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	router     chi.Router
	httpServer *http.Server

	metricsRouter chi.Router
	metricsServer *http.Server

	gateway  *signaling.Gateway
	registry *registry.Registry
	bus      *events.Bus
	loop     *control.Loop

	closers  []func() error
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires every domain-stack component
// named in SPEC_FULL.md's module layout.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
	}

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "relaycore",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	s.DeferClose(func() error {
		return tracerProvider.Shutdown(context.Background())
	})

	factory, err := rtcengine.New(cfg.STUNURL, logger)
	if err != nil {
		return nil, fmt.Errorf("create rtc engine factory: %w", err)
	}

	var claim registry.Claimer
	if cfg.RedisAddr != "" {
		redisClaim, err := registry.NewRedisClaim(registry.RedisClaimConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			InstanceID: cfg.InstanceID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create redis broadcast claim: %w", err)
		}
		claim = redisClaim
		s.DeferClose(redisClaim.Close)
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("distributed broadcast name claim enabled")
	}

	s.registry = registry.New(s.bus, claim, logger)

	if cfg.NATSURL != "" {
		natsBus, err := eventbus.NewNATSBus(eventbus.NATSConfig{
			URL:        cfg.NATSURL,
			InstanceID: cfg.InstanceID,
		}, s.bus, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS lifecycle fan-out unavailable, continuing with local-only events")
		} else {
			s.DeferClose(natsBus.Close)
			logger.Info().Str("nats_url", cfg.NATSURL).Msg("cross-instance lifecycle fan-out enabled")
		}
	}

	s.gateway = signaling.New(cfg.SignalingQueueDepth, cfg.MaxMessageBytes, cfg.MaxBroadcastNameLen, s.bus, logger)
	s.loop = control.New(s.gateway, factory, s.registry, s.bus, cfg.PLIInterval, logger)

	s.router = s.newSignalingRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the signaling WebSocket is long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.metricsRouter = chi.NewRouter()
	s.metricsRouter.Handle("/metrics", telemetry.Handler())
	s.metricsServer = &http.Server{
		Addr:    cfg.MetricsBind,
		Handler: s.metricsRouter,
	}

	return s, nil
}

func (s *Server) newSignalingRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("relaycore"))
	router.Use(telemetry.MetricsMiddleware)
	// The signaling WebSocket is a long-lived single-exchange
	// connection; skip the request timeout for the upgrade itself.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Get("/ws", s.gateway.ServeHTTP)

	return router
}

// HTTPServer exposes the signaling HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the metrics HTTP server.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Run starts the control loop and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("control loop exited")
		}
	}()
}

// Close stops the control loop and releases owned resources in reverse
// registration order.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
	}
	s.gateway.Close()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook run in reverse order by Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
