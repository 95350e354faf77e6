package track

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
)

func TestNewPlumbingChannelsAreEmpty(t *testing.T) {
	p := New("room1", 3*time.Second, events.NewBus(), zerolog.Nop())

	select {
	case <-p.VideoTrack():
		t.Fatal("expected no video track yet")
	default:
	}
	select {
	case <-p.AudioTrack():
		t.Fatal("expected no audio track yet")
	default:
	}
}

func TestChannelPublishIsNonBlockingWhenFull(t *testing.T) {
	p := New("room1", 3*time.Second, events.NewBus(), zerolog.Nop())

	// Fill the slot directly, mirroring what relay() does.
	select {
	case p.videoCh <- nil:
	default:
		t.Fatal("expected first send to succeed on empty channel")
	}

	done := make(chan struct{})
	go func() {
		select {
		case p.videoCh <- nil:
		default:
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second publish should not block even though the slot is full")
	}
}
