/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/relaycore/internal/events"
)

func encodeFrame(t *testing.T, payload map[string]string) string {
	t.Helper()
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes)
}

// TestMalformedFrameKeepsConnectionOpenForRetry exercises spec.md §4.1's
// Open-state transition: a malformed first frame must be logged and
// discarded, not treated as a reason to close the connection, so a
// client gets to retry on the same socket.
func TestMalformedFrameKeepsConnectionOpenForRetry(t *testing.T) {
	gw := New(8, 1<<20, 256, events.NewBus(), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Not valid base64/JSON at all.
	if err := conn.Write(ctx, websocket.MessageText, []byte("not-base64-json!!!")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	// The connection must still be open to accept a retry: send a
	// well-formed join on the same socket and check that the gateway
	// decodes it and hands it to WaitForOffer, which stands in for the
	// control loop here.
	retryFrame := encodeFrame(t, map[string]string{"action": "join", "name": "room1", "sdp": ""})
	if err := conn.Write(ctx, websocket.MessageText, []byte(retryFrame)); err != nil {
		t.Fatalf("expected connection to remain open for a retry, write failed: %v", err)
	}

	req, err := gw.WaitForOffer(ctx)
	if err != nil {
		t.Fatalf("expected the retried frame to reach the control loop: %v", err)
	}
	if req.Payload.Action != ActionJoin || req.Payload.Name != "room1" {
		t.Fatalf("unexpected payload delivered: %+v", req.Payload)
	}
	req.Responder.Drop()
}

// TestOverLengthNameKeepsConnectionOpenForRetry exercises the same
// Open-state retry behavior for a name that decodes fine but fails the
// length check.
func TestOverLengthNameKeepsConnectionOpenForRetry(t *testing.T) {
	gw := New(8, 1<<20, 4, events.NewBus(), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	tooLong := encodeFrame(t, map[string]string{"action": "join", "name": "way-too-long-a-name", "sdp": ""})
	if err := conn.Write(ctx, websocket.MessageText, []byte(tooLong)); err != nil {
		t.Fatalf("write over-length frame: %v", err)
	}

	ok := encodeFrame(t, map[string]string{"action": "join", "name": "ok", "sdp": ""})
	if err := conn.Write(ctx, websocket.MessageText, []byte(ok)); err != nil {
		t.Fatalf("expected connection to remain open for a retry, write failed: %v", err)
	}

	req, err := gw.WaitForOffer(ctx)
	if err != nil {
		t.Fatalf("expected the retried frame to reach the control loop: %v", err)
	}
	if req.Payload.Name != "ok" {
		t.Fatalf("unexpected payload delivered: %+v", req.Payload)
	}
	req.Responder.Drop()
}

// TestTransportReadErrorClosesWithoutDelivery ensures a dropped
// connection (rather than a malformed frame) ends the Open state
// without ever reaching the control loop.
func TestTransportReadErrorClosesWithoutDelivery(t *testing.T) {
	gw := New(8, 1<<20, 256, events.NewBus(), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	if _, err := gw.WaitForOffer(waitCtx); err == nil {
		t.Fatal("expected no request to reach the control loop after the client closed the socket")
	}
}
