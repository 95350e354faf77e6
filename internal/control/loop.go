/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package control implements the control loop: the single-threaded
// dispatcher that glues the signaling gateway, the session builder, the
// track plumbing, and the broadcast registry together.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/registry"
	"github.com/friendsincode/relaycore/internal/rtcengine"
	"github.com/friendsincode/relaycore/internal/session"
	"github.com/friendsincode/relaycore/internal/signaling"
	"github.com/friendsincode/relaycore/internal/telemetry"
	"github.com/friendsincode/relaycore/internal/track"
)

// Loop is the control loop (C6). It is single-threaded by design:
// signaling is cheap and serialized, while all heavy lifting (track
// relay, PLI, RTCP drain) happens on tasks it spawns.
type Loop struct {
	gateway     *signaling.Gateway
	factory     *rtcengine.Factory
	registry    *registry.Registry
	bus         *events.Bus
	pliInterval time.Duration
	logger      zerolog.Logger
}

// New creates a control loop wiring the given gateway, factory and
// registry together.
func New(gateway *signaling.Gateway, factory *rtcengine.Factory, reg *registry.Registry, bus *events.Bus, pliInterval time.Duration, logger zerolog.Logger) *Loop {
	return &Loop{
		gateway:     gateway,
		factory:     factory,
		registry:    reg,
		bus:         bus,
		pliInterval: pliInterval,
		logger:      logger.With().Str("component", "control").Logger(),
	}
}

// Run blocks, dispatching one signaling request at a time until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		req, err := l.gateway.WaitForOffer(ctx)
		if err != nil {
			return err
		}

		switch req.Payload.Action {
		case signaling.ActionBroadcast:
			l.handleBroadcast(req.Payload, req.Responder)
		case signaling.ActionJoin:
			l.handleJoin(req.Payload, req.Responder)
		default:
			l.logger.Warn().Str("action", string(req.Payload.Action)).Msg("unknown action, dropping connection")
			req.Responder.Drop()
		}
	}
}

func (l *Loop) handleBroadcast(payload signaling.ClientPayload, responder *signaling.Responder) {
	log := l.logger.With().Str("broadcast", payload.Name).Logger()

	offer, err := signaling.DecodeSessionDescription(payload.SDP)
	if err != nil {
		log.Warn().Err(err).Msg("bad offer SDP")
		telemetry.SignalingRequestsTotal.WithLabelValues("broadcast", "protocol_error").Inc()
		responder.Drop()
		return
	}

	plumbing := track.New(payload.Name, l.pliInterval, l.bus, l.logger)

	var closedOnce sync.Once
	closedCh := make(chan struct{})
	onClosed := func(name string) {
		closedOnce.Do(func() { close(closedCh) })
		l.registry.Unregister(name)
	}

	pc, err := session.BuildBroadcasterSession(l.factory, plumbing, payload.Name, offer, onClosed, l.logger)
	if err != nil {
		log.Error().Err(err).Msg("build broadcaster session failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("broadcast", "error").Inc()
		responder.Drop()
		return
	}

	answer, err := session.FinalizeAnswer(pc)
	if err != nil {
		log.Error().Err(err).Msg("finalize answer failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("broadcast", "error").Inc()
		responder.Drop()
		pc.Close()
		return
	}

	encoded, err := signaling.EncodeSessionDescription(answer)
	if err != nil {
		log.Error().Err(err).Msg("encode answer failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("broadcast", "error").Inc()
		responder.Drop()
		pc.Close()
		return
	}

	responder.Send(encoded)
	telemetry.SignalingRequestsTotal.WithLabelValues("broadcast", "success").Inc()

	go l.awaitTracksThenRegister(payload.Name, plumbing, closedCh)
}

// awaitTracksThenRegister awaits both track channels, video first then
// audio, and registers the pair under name on receipt. If the
// broadcaster's connection closes before both tracks arrive, it logs
// and does not register.
func (l *Loop) awaitTracksThenRegister(name string, plumbing *track.Plumbing, closedCh <-chan struct{}) {
	log := l.logger.With().Str("broadcast", name).Logger()

	select {
	case video := <-plumbing.VideoTrack():
		select {
		case audio := <-plumbing.AudioTrack():
			if !l.registry.Register(name, video, audio) {
				log.Warn().Msg("broadcast name already in use, not registering this session")
			}
		case <-closedCh:
			log.Debug().Msg("broadcaster closed before audio track arrived, not registering")
		}
	case <-closedCh:
		log.Debug().Msg("broadcaster closed before video track arrived, not registering")
	}
}

func (l *Loop) handleJoin(payload signaling.ClientPayload, responder *signaling.Responder) {
	log := l.logger.With().Str("broadcast", payload.Name).Logger()

	entry, ok := l.registry.Lookup(payload.Name)
	if !ok {
		log.Debug().Msg("join for unregistered broadcast, dropping")
		telemetry.SignalingRequestsTotal.WithLabelValues("join", "not_found").Inc()
		responder.Drop()
		return
	}

	offer, err := signaling.DecodeSessionDescription(payload.SDP)
	if err != nil {
		log.Warn().Err(err).Msg("bad offer SDP")
		telemetry.SignalingRequestsTotal.WithLabelValues("join", "protocol_error").Inc()
		responder.Drop()
		return
	}

	telemetry.ViewersActive.Inc()
	onClosed := func() { telemetry.ViewersActive.Dec() }

	pc, err := session.BuildViewerSession(l.factory, payload.Name, entry.VideoTrack, entry.AudioTrack, offer, onClosed, l.logger)
	if err != nil {
		log.Error().Err(err).Msg("build viewer session failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("join", "error").Inc()
		telemetry.ViewersActive.Dec()
		responder.Drop()
		return
	}

	answer, err := session.FinalizeAnswer(pc)
	if err != nil {
		log.Error().Err(err).Msg("finalize answer failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("join", "error").Inc()
		telemetry.ViewersActive.Dec()
		responder.Drop()
		pc.Close()
		return
	}

	encoded, err := signaling.EncodeSessionDescription(answer)
	if err != nil {
		log.Error().Err(err).Msg("encode answer failed")
		telemetry.SignalingRequestsTotal.WithLabelValues("join", "error").Inc()
		telemetry.ViewersActive.Dec()
		responder.Drop()
		pc.Close()
		return
	}

	responder.Send(encoded)
	telemetry.SignalingRequestsTotal.WithLabelValues("join", "success").Inc()
	if l.bus != nil {
		l.bus.Publish(events.ViewerAttached, events.Payload{"broadcast": payload.Name})
	}
}
