package signaling

import "testing"

func TestResponderSendDeliversText(t *testing.T) {
	r := newResponder()
	r.Send("answer-bytes")

	text, ok := <-r.ch
	if !ok {
		t.Fatal("expected channel to deliver a value")
	}
	if text != "answer-bytes" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestResponderDropClosesWithoutValue(t *testing.T) {
	r := newResponder()
	r.Drop()

	_, ok := <-r.ch
	if ok {
		t.Fatal("expected channel to be closed without a value")
	}
}

func TestResponderSecondCallIsNoop(t *testing.T) {
	r := newResponder()
	r.Send("first")
	r.Send("second")
	r.Drop()

	text, ok := <-r.ch
	if !ok || text != "first" {
		t.Fatalf("expected first send to win, got %q ok=%v", text, ok)
	}
}
