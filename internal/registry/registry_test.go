package registry

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
)

func newTrack(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "relaycore")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return track
}

func TestRegisterThenLookup(t *testing.T) {
	r := New(events.NewBus(), nil, zerolog.Nop())
	video := newTrack(t, "video")
	audio := newTrack(t, "audio")

	if !r.Register("room1", video, audio) {
		t.Fatal("expected registration to succeed with no claimer")
	}

	entry, ok := r.Lookup("room1")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if entry.VideoTrack != video || entry.AudioTrack != audio {
		t.Fatal("lookup returned unexpected tracks")
	}
}

func TestLookupMissReturnsFalse(t *testing.T) {
	r := New(events.NewBus(), nil, zerolog.Nop())
	if _, ok := r.Lookup("ghost"); ok {
		t.Fatal("expected miss for unregistered name")
	}
}

func TestDuplicateRegistrationIsRejected(t *testing.T) {
	r := New(events.NewBus(), nil, zerolog.Nop())
	firstVideo, firstAudio := newTrack(t, "video"), newTrack(t, "audio")
	secondVideo, secondAudio := newTrack(t, "video"), newTrack(t, "audio")

	if !r.Register("room1", firstVideo, firstAudio) {
		t.Fatal("expected first registration to succeed")
	}
	if r.Register("room1", secondVideo, secondAudio) {
		t.Fatal("expected second registration under the same name to be rejected")
	}

	entry, ok := r.Lookup("room1")
	if !ok {
		t.Fatal("expected entry present")
	}
	if entry.VideoTrack != firstVideo || entry.AudioTrack != firstAudio {
		t.Fatal("expected the first registration to be retained")
	}
}

func TestUnregisterAbsentIsNoop(t *testing.T) {
	r := New(events.NewBus(), nil, zerolog.Nop())
	r.Unregister("never-registered")
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(events.NewBus(), nil, zerolog.Nop())
	r.Register("room1", newTrack(t, "video"), newTrack(t, "audio"))
	r.Unregister("room1")

	if _, ok := r.Lookup("room1"); ok {
		t.Fatal("expected entry to be removed")
	}
}

type denyClaim struct{}

func (denyClaim) TryClaim(name string) bool { return false }
func (denyClaim) Release(name string)       {}

func TestRegisterDeclinedByClaimerDoesNotWriteLocally(t *testing.T) {
	r := New(events.NewBus(), denyClaim{}, zerolog.Nop())
	if r.Register("room1", newTrack(t, "video"), newTrack(t, "audio")) {
		t.Fatal("expected Register to report failure when claim is denied")
	}
	if _, ok := r.Lookup("room1"); ok {
		t.Fatal("expected no local entry when claim is denied")
	}
}
