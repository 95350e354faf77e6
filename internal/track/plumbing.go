/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package track implements per-broadcast track plumbing: receiving
// remote RTP tracks on a broadcaster's peer connection, minting local
// forwarding tracks, pumping packets between them, and sending periodic
// PLI to keep video healthy.
package track

import (
	"errors"
	"io"
	"time"
	"weak"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/rtcengine"
	"github.com/friendsincode/relaycore/internal/telemetry"
)

// streamID is the constant local-track stream identifier. It is opaque
// to the wire protocol but must be stable across invocations.
const streamID = "relaycore"

// Plumbing is instantiated once per broadcaster. It holds two
// single-slot channels used to hand the newly minted local forwarding
// tracks to whoever is awaiting them (the control loop).
type Plumbing struct {
	name        string
	pliInterval time.Duration
	logger      zerolog.Logger
	bus         *events.Bus

	videoCh chan *webrtc.TrackLocalStaticRTP
	audioCh chan *webrtc.TrackLocalStaticRTP
}

// New creates track plumbing for a broadcast named name.
func New(name string, pliInterval time.Duration, bus *events.Bus, logger zerolog.Logger) *Plumbing {
	return &Plumbing{
		name:        name,
		pliInterval: pliInterval,
		logger:      logger.With().Str("component", "track").Str("broadcast", name).Logger(),
		bus:         bus,
		videoCh:     make(chan *webrtc.TrackLocalStaticRTP, 1),
		audioCh:     make(chan *webrtc.TrackLocalStaticRTP, 1),
	}
}

// VideoTrack returns the channel on which the video local track is
// published; a receive blocks until it arrives. The channel is never
// closed.
func (p *Plumbing) VideoTrack() <-chan *webrtc.TrackLocalStaticRTP { return p.videoCh }

// AudioTrack returns the channel on which the audio local track is
// published; a receive blocks until it arrives. The channel is never
// closed.
func (p *Plumbing) AudioTrack() <-chan *webrtc.TrackLocalStaticRTP { return p.audioCh }

// Attach installs an on-track handler on pc. For each incoming remote
// track it dispatches on kind: video gets a PLI sender plus a relay,
// audio gets only a relay, anything else is logged and ignored.
func (p *Plumbing) Attach(pc *webrtc.PeerConnection) {
	weakPC := weak.Make(pc)
	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		switch remote.Kind() {
		case webrtc.RTPCodecTypeVideo:
			go p.pliSender(weakPC, uint32(remote.SSRC()))
			go p.relay("video", remote, p.videoCh)
		case webrtc.RTPCodecTypeAudio:
			go p.relay("audio", remote, p.audioCh)
		default:
			p.logger.Error().Str("kind", remote.Kind().String()).Msg("unspecified track kind, ignoring")
		}
	})
}

// relay creates a local forwarding track matching remote's codec
// capability, publishes it on ch (non-blocking), then pumps RTP packets
// from remote to the local track until either side errors terminally.
func (p *Plumbing) relay(kindLabel string, remote *webrtc.TrackRemote, ch chan *webrtc.TrackLocalStaticRTP) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, kindLabel, streamID)
	if err != nil {
		p.logger.Error().Err(err).Str("kind", kindLabel).Msg("create local forwarding track")
		return
	}

	select {
	case ch <- local:
	default:
		p.logger.Warn().Str("kind", kindLabel).Msg("track channel slot already filled, proceeding anyway")
	}

	var count uint64
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			p.logger.Debug().Err(err).Str("kind", kindLabel).Msg("remote track read ended")
			break
		}

		if err := local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			p.logger.Debug().Err(err).Str("kind", kindLabel).Msg("local track write failed")
			break
		}

		count++
		telemetry.RTPPacketsRelayedTotal.WithLabelValues(p.name, kindLabel).Inc()
		if count%100 == 0 {
			p.logger.Debug().
				Str("kind", kindLabel).
				Uint64("relayed", count).
				Msg("relay progress")
		}
	}

	if p.bus != nil {
		p.bus.Publish(events.TrackRelayStopped, events.Payload{
			"broadcast": p.name,
			"kind":      kindLabel,
			"relayed":   count,
		})
	}
}

// pliSender sends a Picture Loss Indication every pliInterval as long
// as weakPC can still be promoted to a live peer connection. It never
// strong-references the peer connection itself, avoiding a reference
// cycle between the connection and this task.
func (p *Plumbing) pliSender(weakPC weak.Pointer[webrtc.PeerConnection], mediaSSRC uint32) {
	ticker := time.NewTicker(p.pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		pc := weakPC.Value()
		if pc == nil {
			return
		}
		if err := rtcengine.WritePLI(pc, mediaSSRC); err != nil {
			p.logger.Debug().Err(err).Msg("pli send failed, terminating")
			return
		}
	}
}
