// Package config defines RelayCore's process-level configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config covers RelayCore's process-level settings, bound from CLI flags
// (see cmd/relaycored) with optional environment-variable fallbacks for the
// cluster-coordination and tracing knobs only (Redis, NATS, instance ID,
// tracing enabled, OTLP endpoint). The core wire protocol requires no
// environment variables (spec.md §6).
type Config struct {
	Host  string
	Port  uint16
	Debug bool

	MetricsBind string

	STUNURL string

	// PLIInterval is how often a Picture Loss Indication is sent per video
	// track while a broadcaster is connected. Spec.md §9 leaves this
	// configurable with a 3s default.
	PLIInterval time.Duration

	// MaxBroadcastNameLen bounds the broadcast name accepted from clients
	// (spec.md §9 Open Question 4: the name is opaque but should be capped
	// to prevent pathological map keys).
	MaxBroadcastNameLen int

	// SignalingQueueDepth bounds the control loop's inbound request channel.
	SignalingQueueDepth int

	// MaxMessageBytes bounds a single WebSocket text frame (spec.md §4.1:
	// must accommodate at least 1 MiB of SDP).
	MaxMessageBytes int64

	// RedisAddr enables the distributed broadcast-name claim when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATSURL enables cross-instance lifecycle fan-out when set.
	NATSURL string

	InstanceID string

	// TracingEnabled toggles the OTLP/gRPC exporter.
	TracingEnabled bool
	OTLPEndpoint   string
}

// Defaults returns a Config populated with RelayCore's defaults, matching
// spec.md §6's CLI surface exactly; callers (cobra flag bindings) overlay
// user-supplied values on top.
func Defaults() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                8080,
		Debug:               false,
		MetricsBind:         "127.0.0.1:9090",
		STUNURL:             "stun:stun.l.google.com:19302",
		PLIInterval:         3 * time.Second,
		MaxBroadcastNameLen: 256,
		SignalingQueueDepth: 64,
		MaxMessageBytes:     1 << 20, // 1 MiB, per spec.md §4.1
		RedisAddr:           getEnvAny([]string{"RELAYCORE_REDIS_ADDR"}, ""),
		RedisDB:             getEnvIntAny([]string{"RELAYCORE_REDIS_DB"}, 0),
		RedisPassword:       getEnvAny([]string{"RELAYCORE_REDIS_PASSWORD"}, ""),
		NATSURL:             getEnvAny([]string{"RELAYCORE_NATS_URL"}, ""),
		InstanceID:          getEnvAny([]string{"RELAYCORE_INSTANCE_ID"}, generateInstanceID()),
		TracingEnabled:      getEnvBoolAny([]string{"RELAYCORE_TRACING_ENABLED"}, false),
		OTLPEndpoint:        getEnvAny([]string{"RELAYCORE_OTLP_ENDPOINT"}, "localhost:4317"),
	}
}

// Validate checks invariants that can't be expressed as flag defaults.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port must be non-zero")
	}
	if c.MaxBroadcastNameLen <= 0 {
		return fmt.Errorf("max broadcast name length must be positive")
	}
	if c.MaxMessageBytes < (1 << 20) {
		return fmt.Errorf("max message bytes must accommodate at least 1 MiB SDP payloads")
	}
	if c.PLIInterval <= 0 {
		return fmt.Errorf("pli interval must be positive")
	}
	return nil
}

// Addr returns the bind address for the signaling HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// generateInstanceID produces a fallback InstanceID for an operator who
// enables cluster coordination (--redis-addr / --nats-url) without also
// setting RELAYCORE_INSTANCE_ID, so instances never collide under the
// empty string for Redis-claim ownership or NATS echo suppression.
func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "relaycore"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}
