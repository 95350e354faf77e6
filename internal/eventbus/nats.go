/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans the local event bus out across instances over
// NATS JetStream, so that a broadcast registered on one RelayCore
// instance is observable (for metrics and future discovery) on every
// other instance sharing the same JetStream deployment.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
)

// NATSBus relays events published on a local events.Bus to every other
// instance over NATS JetStream, and republishes events it receives from
// other instances back onto the local bus. It never replaces the local
// bus - it rides alongside it - so subscribers never need to know
// whether an event originated locally or from a peer instance.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
	local  *events.Bus
	nodeID string

	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL        string
	Token      string
	InstanceID string

	StreamName string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	MaxFailures   int
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		StreamName:    "RELAYCORE_EVENTS",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		MaxFailures:   5,
	}
}

const subjectPrefix = "relaycore.events."

// NewNATSBus connects to NATS and starts relaying local's published
// events to every subscribed event type, plus delivering events
// published by peer instances back onto local. If the NATS connection
// or JetStream setup fails, it returns an error rather than silently
// degrading - callers are expected to treat cross-instance fan-out as
// optional and continue with local-only events on failure.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) (*NATSBus, error) {
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	logger = logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger()

	if cfg.StreamName == "" {
		cfg.StreamName = "RELAYCORE_EVENTS"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	ctx, cancel := context.WithCancel(context.Background())

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("relaycore-%s", nodeID)),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("init JetStream: %w", err)
	}

	if err := createOrUpdateStream(ctx, js, cfg.StreamName); err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("create JetStream stream: %w", err)
	}

	nb := &NATSBus{
		conn:     conn,
		js:       js,
		logger:   logger,
		local:    local,
		nodeID:   nodeID,
		maxFails: cfg.MaxFailures,
		ctx:      ctx,
		cancel:   cancel,
	}

	consumerName := fmt.Sprintf("relaycore-%s", nodeID)
	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("create JetStream consumer: %w", err)
	}

	nb.wg.Add(2)
	go nb.receiveMessages(consumer)
	go nb.relayLocalPublications()

	logger.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("cross-instance event fan-out started")
	return nb, nil
}

func createOrUpdateStream(ctx context.Context, js jetstream.JetStream, streamName string) error {
	streamCfg := jetstream.StreamConfig{
		Name:        streamName,
		Subjects:    []string{subjectPrefix + ">"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "RelayCore broadcast lifecycle events",
	}

	if _, err := js.Stream(ctx, streamName); err != nil {
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}
	if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// relayLocalPublications subscribes to every lifecycle event type on
// the local bus and republishes each one to JetStream, tagged with this
// instance's node ID so peers can recognize and discard echoes.
func (nb *NATSBus) relayLocalPublications() {
	defer nb.wg.Done()

	eventTypes := []events.EventType{
		events.BroadcastRegistered,
		events.BroadcastUnregistered,
		events.ViewerAttached,
		events.SignalingProtocolError,
		events.TrackRelayStopped,
	}

	for _, et := range eventTypes {
		sub := nb.local.Subscribe(et)
		nb.wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer nb.wg.Done()
			for {
				select {
				case <-nb.ctx.Done():
					nb.local.Unsubscribe(eventType, sub)
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					nb.publishRemote(eventType, payload)
				}
			}
		}(et, sub)
	}
}

func (nb *NATSBus) publishRemote(eventType events.EventType, payload events.Payload) {
	nb.mu.Lock()
	fallback := nb.useFallback
	nb.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("marshal event for NATS")
		return
	}

	ctx, cancel := context.WithTimeout(nb.ctx, 2*time.Second)
	defer cancel()

	subject := subjectPrefix + string(eventType)
	if _, err := nb.js.Publish(ctx, subject, data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish to NATS failed")
		nb.handleFailure()
		return
	}

	nb.mu.Lock()
	nb.failCount = 0
	nb.mu.Unlock()
}

// receiveMessages pulls messages for every event type from the shared
// JetStream consumer and republishes peer-originated events onto local.
func (nb *NATSBus) receiveMessages(consumer jetstream.Consumer) {
	defer nb.wg.Done()

	msgs, err := consumer.Messages()
	if err != nil {
		nb.logger.Error().Err(err).Msg("consume JetStream messages failed")
		nb.handleFailure()
		return
	}
	defer msgs.Stop()

	for {
		select {
		case <-nb.ctx.Done():
			return
		default:
		}

		msg, err := msgs.Next()
		if err != nil {
			if err == jetstream.ErrMsgIteratorClosed {
				return
			}
			continue
		}

		natsMsg, err := unmarshalNATSMessage(msg.Data())
		if err != nil {
			nb.logger.Error().Err(err).Msg("unmarshal NATS message failed")
			_ = msg.Nak()
			continue
		}

		if natsMsg.NodeID == nb.nodeID {
			_ = msg.Ack()
			continue
		}

		nb.local.Publish(natsMsg.EventType, natsMsg.Payload)
		_ = msg.Ack()
	}
}

// Close stops relaying and closes the NATS connection.
func (nb *NATSBus) Close() error {
	nb.logger.Info().Msg("closing cross-instance event fan-out")
	nb.cancel()
	nb.wg.Wait()
	if nb.conn != nil {
		nb.conn.Close()
	}
	return nil
}

// handleFailure trips the circuit breaker after enough consecutive
// publish failures, so a flapping NATS connection doesn't stall the
// relay goroutine retrying forever.
func (nb *NATSBus) handleFailure() {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	nb.failCount++
	if nb.failCount >= nb.maxFails && !nb.useFallback {
		nb.logger.Warn().Int("fail_count", nb.failCount).Msg("NATS failure threshold reached, suspending cross-instance fan-out")
		nb.useFallback = true
	}
}

type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.New().String(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}
