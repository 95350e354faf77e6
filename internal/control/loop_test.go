package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/registry"
	"github.com/friendsincode/relaycore/internal/rtcengine"
	"github.com/friendsincode/relaycore/internal/signaling"
)

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	bus := events.NewBus()
	factory, err := rtcengine.New("", zerolog.Nop())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	reg := registry.New(bus, nil, zerolog.Nop())
	gw := signaling.New(8, 1<<20, 256, bus, zerolog.Nop())
	loop := New(gw, factory, reg, bus, 3*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	return srv, func() {
		cancel()
		srv.Close()
	}
}

func sendRawPayload(t *testing.T, wsURL string, payload map[string]string) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame := base64.StdEncoding.EncodeToString(jsonBytes)

	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func TestJoinUnregisteredBroadcastClosesWithoutReply(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	_, ok := sendRawPayload(t, wsURL, map[string]string{
		"action": "join",
		"name":   "ghost",
		"sdp":    "",
	})
	if ok {
		t.Fatal("expected connection to close without a reply")
	}
}

func TestUnknownActionClosesWithoutReply(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	_, ok := sendRawPayload(t, wsURL, map[string]string{
		"action": "ping",
		"name":   "x",
		"sdp":    "",
	})
	if ok {
		t.Fatal("expected connection to close without a reply for an unknown action")
	}
}

// buildClientOffer constructs a client peer connection with sendonly
// video+audio tracks attached, drains gathering with no STUN so the
// test stays hermetic, and returns the encoded wire offer alongside the
// live tracks so the test can write RTP packets after negotiation.
func buildClientOffer(t *testing.T) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticRTP, *webrtc.TrackLocalStaticRTP, string) {
	t.Helper()
	factory, err := rtcengine.New("", zerolog.Nop())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "client")
	if err != nil {
		t.Fatalf("video track: %v", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000}, "audio", "client")
	if err != nil {
		t.Fatalf("audio track: %v", err)
	}

	pc, err := factory.CreatePeerConnection()
	if err != nil {
		t.Fatalf("peer connection: %v", err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		t.Fatalf("add video track: %v", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		t.Fatalf("add audio track: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client ICE gathering")
	}

	encoded, err := signaling.EncodeSessionDescription(*pc.LocalDescription())
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	return pc, videoTrack, audioTrack, encoded
}

// TestBroadcastReceivesAnswerAndConnects sends a broadcast request,
// checks that the reply decodes to an answer, applies it, and waits for
// the broadcaster's peer connection to reach connected; it then writes
// video RTP for five seconds. It does not join as a viewer and does not
// inspect the registry.
func TestBroadcastReceivesAnswerAndConnects(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	wsURL := "ws" + srv.URL[len("http"):] + "/ws"

	broadcasterPC, videoTrack, _, offerSDP := buildClientOffer(t)
	defer broadcasterPC.Close()

	connected := make(chan struct{})
	broadcasterPC.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})

	answerText, ok := sendRawPayload(t, wsURL, map[string]string{
		"action": "broadcast",
		"name":   "room1",
		"sdp":    offerSDP,
	})
	if !ok {
		t.Fatal("expected broadcast to receive an answer")
	}

	answer, err := signaling.DecodeSessionDescription(answerText)
	if err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("expected answer type, got %s", answer.Type)
	}
	if err := broadcasterPC.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote description: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("broadcaster peer connection never reached connected state")
	}

	// Keep writing video RTP so the server-side video relay has packets
	// to forward.
	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 1, SSRC: 1}, Payload: []byte{0x00}}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = videoTrack.WriteRTP(pkt)
		pkt.Header.SequenceNumber++
		pkt.Header.Timestamp += 90
		time.Sleep(20 * time.Millisecond)
	}
}
