/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rtcengine builds pre-configured WebRTC peer connections: a
// media engine with default codecs, default RTP interceptors, and a
// single STUN server. It is the only place in RelayCore that touches
// webrtc.API construction.
package rtcengine

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Factory builds peer connections sharing one API/MediaEngine and one
// ICE server configuration.
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     zerolog.Logger
}

// New builds a Factory with default codecs and interceptors registered,
// and a single STUN server drawn from stunURL.
func New(stunURL string, logger zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	var iceServers []webrtc.ICEServer
	if stunURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{stunURL}})
	}

	return &Factory{
		api:        api,
		iceServers: iceServers,
		logger:     logger.With().Str("component", "rtcengine").Logger(),
	}, nil
}

// CreatePeerConnection builds a bare peer connection with the factory's
// media engine and ICE configuration.
func (f *Factory) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return pc, nil
}

// CreateRecvonlyPeerConnection builds a peer connection with video and
// audio local tracks attached as outbound senders, one per viewer. Each
// sender gets an RTCP drain goroutine: without draining, NACK and other
// interceptor-driven RTCP stalls the interceptor pipeline.
func (f *Factory) CreateRecvonlyPeerConnection(videoTrack, audioTrack webrtc.TrackLocal) (*webrtc.PeerConnection, error) {
	pc, err := f.CreatePeerConnection()
	if err != nil {
		return nil, err
	}

	for _, track := range []webrtc.TrackLocal{videoTrack, audioTrack} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add track %s: %w", track.Kind(), err)
		}
		go f.drainRTCP(sender)
	}

	return pc, nil
}

// drainRTCP reads and discards RTCP from sender until it errors, which
// happens once the underlying peer connection is closed.
func (f *Factory) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// WritePLI sends a single RTCP Picture Loss Indication for mediaSSRC on
// pc, with sender_ssrc left at zero as the original source does.
func WritePLI(pc *webrtc.PeerConnection, mediaSSRC uint32) error {
	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{SenderSSRC: 0, MediaSSRC: mediaSSRC},
	})
}
