package reliable

import (
	"testing"
	"time"
)

func TestFragmentSplitsPayload(t *testing.T) {
	frames := Fragment([]byte("hello world"), 4)
	want := []string{"hell", "o wo", "rld"}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if string(f) != want[i] {
			t.Errorf("frame %d: got %q, want %q", i, f, want[i])
		}
	}
}

func TestSenderReceiverRoundTrip(t *testing.T) {
	s := NewSender()
	r := NewReceiver(8)

	seq, pkts := s.QueueMessage([]byte("hello world"), 4, 10*time.Millisecond)
	for _, p := range pkts {
		r.Push(p.Seq, p.Frame, p.Total, p.Data)
	}

	msgs := r.Pop()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	if msgs[0].Seq != seq || string(msgs[0].Data) != "hello world" {
		t.Errorf("got %+v", msgs[0])
	}

	acks := r.DrainAcks()
	if len(acks) != 1 || acks[0].Seq != seq || acks[0].Frame != -1 {
		t.Errorf("expected whole-message ack, got %+v", acks)
	}

	s.HandleAcks(acks)
	if s.Pending() != 0 {
		t.Errorf("expected sender to clear message after ack, got %d pending", s.Pending())
	}
}

func TestSenderRetransmitsUnackedOnBackoff(t *testing.T) {
	s := NewSender()
	_, pkts := s.QueueMessage([]byte("x"), 8, 5*time.Millisecond)
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}

	now := time.Now().Add(minResendInterval + time.Millisecond)
	resent := s.Tick(now)
	if len(resent) != 1 {
		t.Fatalf("expected 1 resent packet, got %d", len(resent))
	}
}

func TestSenderGivesUpAfterResendLimit(t *testing.T) {
	s := NewSender()
	s.resendLimit = 2
	s.QueueMessage([]byte("x"), 8, 5*time.Millisecond)

	now := time.Now()
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		s.Tick(now)
	}
	if s.Pending() != 0 {
		t.Errorf("expected message dropped after exhausting resend budget, got %d pending", s.Pending())
	}
}

func TestUnreliableReceiverDiscardsOnSequenceChange(t *testing.T) {
	u := NewUnreliableReceiver()
	u.Push(1, 0, 2, []byte("a"))
	if _, ok := u.Complete(); ok {
		t.Fatal("should not be complete with only 1 of 2 frames")
	}

	u.Push(2, 0, 1, []byte("b")) // new sequence discards the partial message
	data, ok := u.Complete()
	if !ok || string(data) != "b" {
		t.Errorf("expected fresh single-frame message, got %q, %v", data, ok)
	}
}
