/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry wires Prometheus metrics and OpenTelemetry tracing
// into the signaling HTTP surface and the WebRTC engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BroadcastsActive tracks the number of named broadcasts currently
	// registered.
	BroadcastsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_broadcasts_active",
		Help: "Number of broadcasts currently registered.",
	})

	// ViewersActive tracks the number of viewer sessions currently
	// attached to any broadcast.
	ViewersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_viewers_active",
		Help: "Number of viewer sessions currently attached.",
	})

	// RTPPacketsRelayedTotal counts RTP packets forwarded from a
	// broadcaster track to all attached viewer tracks, by broadcast name
	// and track kind.
	RTPPacketsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_rtp_packets_relayed_total",
		Help: "Total RTP packets relayed, by broadcast and track kind.",
	}, []string{"broadcast", "kind"})

	// SignalingRequestsTotal counts signaling actions processed, by
	// action name and outcome.
	SignalingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_signaling_requests_total",
		Help: "Total signaling requests processed, by action and outcome.",
	}, []string{"action", "outcome"})

	// APIRequestDuration observes HTTP request latency on the signaling
	// server, by method, route, and status code.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaycore_api_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// APIRequestsTotal counts HTTP requests on the signaling server, by
	// method, route, and status code.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_api_requests_total",
		Help: "Total HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	// APIActiveConnections tracks in-flight HTTP requests (including the
	// long-lived signaling WebSocket upgrade itself).
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_api_active_connections",
		Help: "Number of in-flight HTTP requests.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
