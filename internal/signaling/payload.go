/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signaling implements the signaling gateway (C1): it accepts
// client WebSocket connections, decodes the base64/JSON request
// payload, and delivers (payload, one-shot responder) pairs to the
// control loop.
package signaling

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Action is the requested signaling action.
type Action string

const (
	ActionBroadcast Action = "broadcast"
	ActionJoin      Action = "join"
)

// ClientPayload is the decoded client request. SDP is itself
// base64(utf8(JSON(SessionDescription))) - a second encoding layer
// nested inside the outer frame.
type ClientPayload struct {
	Action Action `json:"action"`
	Name   string `json:"name"`
	SDP    string `json:"sdp"`
}

// DecodeClientPayload reverses the outer wire encoding: the raw
// WebSocket text frame is base64(utf8(JSON(ClientPayload))).
func DecodeClientPayload(raw []byte) (ClientPayload, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return ClientPayload{}, fmt.Errorf("base64 decode outer payload: %w", err)
	}
	var payload ClientPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return ClientPayload{}, fmt.Errorf("json decode outer payload: %w", err)
	}
	return payload, nil
}

// DecodeSessionDescription reverses the inner sdp field's encoding:
// base64(utf8(JSON(SessionDescription))).
func DecodeSessionDescription(sdp string) (webrtc.SessionDescription, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(sdp)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("base64 decode sdp: %w", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(jsonBytes, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("json decode sdp: %w", err)
	}
	return desc, nil
}

// EncodeSessionDescription produces the wire value for a server
// response frame: base64(utf8(JSON(SessionDescription))).
func EncodeSessionDescription(desc webrtc.SessionDescription) (string, error) {
	jsonBytes, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("json encode sdp: %w", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}
