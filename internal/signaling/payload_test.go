package signaling

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecodeClientPayloadRoundTrips(t *testing.T) {
	want := ClientPayload{Action: ActionBroadcast, Name: "room1", SDP: "c2RwLWJvZHk="}
	jsonBytes, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := base64.StdEncoding.EncodeToString(jsonBytes)

	got, err := DecodeClientPayload([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeClientPayloadRejectsBadBase64(t *testing.T) {
	if _, err := DecodeClientPayload([]byte("not-base64!!!")); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestDecodeClientPayloadRejectsBadJSON(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("not json"))
	if _, err := DecodeClientPayload([]byte(raw)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSessionDescriptionEncodeDecodeRoundTrip(t *testing.T) {
	want := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n"}

	encoded, err := EncodeSessionDescription(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSessionDescription(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeSessionDescriptionRejectsBadBase64(t *testing.T) {
	if _, err := DecodeSessionDescription("%%%not-base64%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
