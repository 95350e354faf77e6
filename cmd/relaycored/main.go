/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/relaycore/internal/config"
	"github.com/friendsincode/relaycore/internal/logging"
	"github.com/friendsincode/relaycore/internal/server"
	"github.com/friendsincode/relaycore/internal/version"
)

var cfg = config.Defaults()

var rootCmd = &cobra.Command{
	Use:     "relaycored",
	Short:   "RelayCore selective forwarding unit",
	Version: version.Version,
	Long: `relaycored accepts WebRTC broadcaster and viewer connections over a
single signaling WebSocket, forwards RTP from each broadcaster to its
viewers without transcoding, and requests keyframes from broadcasters on
their behalf.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Signaling server bind host")
	flags.Uint16VarP(&cfg.Port, "port", "p", cfg.Port, "Signaling server bind port")
	flags.BoolVarP(&cfg.Debug, "debug", "d", cfg.Debug, "Enable debug logging")
	flags.StringVar(&cfg.MetricsBind, "metrics-bind", cfg.MetricsBind, "Prometheus metrics bind address")
	flags.StringVar(&cfg.STUNURL, "stun-url", cfg.STUNURL, "STUN server URL offered to peers")
	flags.DurationVar(&cfg.PLIInterval, "pli-interval", cfg.PLIInterval, "Picture loss indication period per video track")
	flags.IntVar(&cfg.MaxBroadcastNameLen, "max-broadcast-name-len", cfg.MaxBroadcastNameLen, "Maximum accepted broadcast name length")
	flags.IntVar(&cfg.SignalingQueueDepth, "signaling-queue-depth", cfg.SignalingQueueDepth, "Control loop inbound request queue depth")
	flags.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "Maximum accepted signaling WebSocket frame size")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for distributed broadcast name claims (optional)")
	flags.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database index")
	flags.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS URL for cross-instance lifecycle fan-out (optional)")
	flags.StringVar(&cfg.InstanceID, "instance-id", cfg.InstanceID, "Identifier for this instance in cluster coordination")
	flags.BoolVar(&cfg.TracingEnabled, "tracing-enabled", cfg.TracingEnabled, "Enable OTLP trace export")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/gRPC collector endpoint")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup(cfg.Debug)
	logger.Info().Str("version", version.Version).Msg("relaycore starting")

	srv, err := server.New(&cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Run(ctx)

	httpServer := srv.HTTPServer()
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("signaling server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("signaling server error")
		}
	}()

	metricsServer := srv.MetricsServer()
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("signaling server graceful shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server graceful shutdown failed")
	}
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("relaycore stopped")
	return nil
}
