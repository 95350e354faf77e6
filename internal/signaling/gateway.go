/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signaling

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/telemetry"
)

// Request pairs a decoded client payload with the one-shot responder
// bound to its connection.
type Request struct {
	Payload   ClientPayload
	Responder *Responder
}

// Gateway accepts client WebSocket connections on /ws and delivers
// decoded requests to the control loop over a bounded channel.
type Gateway struct {
	logger              zerolog.Logger
	bus                 *events.Bus
	requests            chan Request
	maxMessageBytes     int64
	maxBroadcastNameLen int
}

// New creates a Gateway. queueDepth bounds how many decoded requests
// may be waiting for the control loop at once; maxMessageBytes bounds a
// single WebSocket text frame (spec requires accommodating at least 1
// MiB of SDP); maxBroadcastNameLen bounds the accepted name field so a
// pathological client can't grow the registry's map keys without bound.
func New(queueDepth int, maxMessageBytes int64, maxBroadcastNameLen int, bus *events.Bus, logger zerolog.Logger) *Gateway {
	return &Gateway{
		logger:              logger.With().Str("component", "signaling").Logger(),
		bus:                 bus,
		requests:            make(chan Request, queueDepth),
		maxMessageBytes:     maxMessageBytes,
		maxBroadcastNameLen: maxBroadcastNameLen,
	}
}

// WaitForOffer blocks until a client submits a payload, or ctx is
// cancelled.
func (g *Gateway) WaitForOffer(ctx context.Context) (Request, error) {
	select {
	case req := <-g.requests:
		return req, nil
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// ServeHTTP upgrades the connection to a WebSocket and runs the
// per-connection state machine from spec.md §4.1: in Open, a malformed
// frame (decode error or an over-length name) is logged and discarded
// without closing the connection, so the client can retry on the same
// socket; only a transport-level read error or context cancellation
// ends the Open state without a payload. Once a payload passes both
// checks, the connection moves to AwaitingResponse: forward it to the
// control loop, write exactly one reply frame (or none, if the
// responder is dropped), then close.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.New().String()
	log := g.logger.With().Str("connection_id", connID).Logger()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(g.maxMessageBytes)

	ctx := r.Context()

	payload, ok := g.awaitValidPayload(ctx, conn, log, connID)
	if !ok {
		return
	}

	responder := newResponder()
	select {
	case g.requests <- Request{Payload: payload, Responder: responder}:
	case <-ctx.Done():
		return
	}

	text, ok := <-responder.ch
	if !ok {
		log.Debug().Str("action", string(payload.Action)).Msg("responder dropped, closing without reply")
		return
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		log.Debug().Err(err).Msg("failed to write response frame")
		return
	}
}

// awaitValidPayload reads frames in the Open state until one decodes
// successfully and passes the name-length check, returning it for
// AwaitingResponse. A malformed frame or an over-length name is logged
// and discarded - the loop reads another frame rather than closing the
// connection. It only returns false on a transport-level read error
// (the peer closed the socket, or it violated the read limit) or
// context cancellation.
func (g *Gateway) awaitValidPayload(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, connID string) (ClientPayload, bool) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("websocket read failed")
			return ClientPayload{}, false
		}

		payload, err := DecodeClientPayload(raw)
		if err != nil {
			log.Warn().Err(err).Msg("malformed client payload, awaiting retry")
			if g.bus != nil {
				g.bus.Publish(events.SignalingProtocolError, events.Payload{
					"connection_id": connID,
					"error":         err.Error(),
				})
			}
			telemetry.SignalingRequestsTotal.WithLabelValues("unknown", "protocol_error").Inc()
			continue
		}

		if g.maxBroadcastNameLen > 0 && len(payload.Name) > g.maxBroadcastNameLen {
			log.Warn().Int("name_len", len(payload.Name)).Msg("broadcast name exceeds maximum length, awaiting retry")
			if g.bus != nil {
				g.bus.Publish(events.SignalingProtocolError, events.Payload{
					"connection_id": connID,
					"error":         "broadcast name too long",
				})
			}
			telemetry.SignalingRequestsTotal.WithLabelValues(string(payload.Action), "name_too_long").Inc()
			continue
		}

		return payload, true
	}
}

// Close rejects any signaling requests still waiting in the queue when
// the server shuts down, closing their connections without a reply.
func (g *Gateway) Close() {
	for {
		select {
		case req := <-g.requests:
			req.Responder.Drop()
		default:
			return
		}
	}
}
