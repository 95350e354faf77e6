/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session builds WebRTC peer connections to completion: apply
// the remote offer, wire connection-state handlers, create the answer,
// drain ICE gathering, and return the finalized local description.
package session

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/rtcengine"
	"github.com/friendsincode/relaycore/internal/track"
)

// BuildBroadcasterSession creates a peer connection with recvonly video
// and audio transceivers, attaches plumbing's on-track handler, and
// applies offer as the remote description. onClosed is invoked once,
// from a new goroutine, when the connection reaches the Closed state;
// the handler closure captures only the broadcast name and onClosed,
// never the peer connection itself.
func BuildBroadcasterSession(
	factory *rtcengine.Factory,
	plumbing *track.Plumbing,
	name string,
	offer webrtc.SessionDescription,
	onClosed func(name string),
	logger zerolog.Logger,
) (*webrtc.PeerConnection, error) {
	pc, err := factory.CreatePeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	plumbing.Attach(pc)
	installConnectionStateHandler(pc, name, "broadcaster", logger, func() {
		go onClosed(name)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	return pc, nil
}

// BuildViewerSession creates a recvonly-for-the-client peer connection
// with video and audio local tracks attached as outbound senders, and
// applies offer as the remote description.
func BuildViewerSession(
	factory *rtcengine.Factory,
	name string,
	videoTrack, audioTrack webrtc.TrackLocal,
	offer webrtc.SessionDescription,
	onClosed func(),
	logger zerolog.Logger,
) (*webrtc.PeerConnection, error) {
	pc, err := factory.CreateRecvonlyPeerConnection(videoTrack, audioTrack)
	if err != nil {
		return nil, fmt.Errorf("create recvonly peer connection: %w", err)
	}

	installConnectionStateHandler(pc, name, "viewer", logger, onClosed)

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	return pc, nil
}

// FinalizeAnswer creates an answer, drains ICE gathering, and returns
// the finalized local description. The gathering-complete notifier must
// be obtained before SetLocalDescription is called, or it can miss
// candidates gathered in the window between the two calls.
func FinalizeAnswer(pc *webrtc.PeerConnection) (webrtc.SessionDescription, error) {
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)

	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("no local description after gathering complete")
	}
	return *local, nil
}

// installConnectionStateHandler logs every state transition and, for
// either variant, invokes onClosed (when non-nil) each time the
// connection reaches Closed. The closure captures only name and
// onClosed - never pc - to avoid a reference cycle between the
// connection and its own callback.
func installConnectionStateHandler(pc *webrtc.PeerConnection, name, variant string, logger zerolog.Logger, onClosed func()) {
	log := logger.With().Str("component", "session").Str("broadcast", name).Str("variant", variant).Logger()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("connection state changed")
		if s == webrtc.PeerConnectionStateClosed && onClosed != nil {
			onClosed()
		}
	})
}
