package events

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(BroadcastRegistered)

	b.Publish(BroadcastRegistered, Payload{"broadcast": "studio-a"})

	select {
	case got := <-sub:
		if got["broadcast"] != "studio-a" {
			t.Fatalf("unexpected payload: %v", got)
		}
	default:
		t.Fatal("expected payload to be delivered")
	}
}

func TestPublishIgnoresOtherEventTypes(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(BroadcastRegistered)

	b.Publish(ViewerAttached, Payload{"broadcast": "studio-a"})

	select {
	case got := <-sub:
		t.Fatalf("unexpected delivery: %v", got)
	default:
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(TrackRelayStopped)

	for i := 0; i < 100; i++ {
		b.Publish(TrackRelayStopped, Payload{"i": i})
	}

	if len(sub) == 0 {
		t.Fatal("expected at least some events to be buffered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(BroadcastUnregistered)
	b.Unsubscribe(BroadcastUnregistered, sub)

	_, ok := <-sub
	if ok {
		t.Fatal("expected channel to be closed")
	}
}
