package quic

import (
	"testing"
	"time"
)

func TestAddAndAcknowledgeRemovesPending(t *testing.T) {
	rm := NewRetransmissionManager(NewCongestionController())
	id := rm.AddPacket([]byte("payload"))
	if rm.PendingCount() != 1 {
		t.Fatalf("expected 1 pending packet, got %d", rm.PendingCount())
	}
	rm.MarkAcknowledged(id)
	if rm.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", rm.PendingCount())
	}
}

func TestMarkAcknowledgedUnknownIDIsNoop(t *testing.T) {
	rm := NewRetransmissionManager(NewCongestionController())
	rm.MarkAcknowledged(999) // must not panic
}

func TestRetransmitThenDropAfterMaxRetries(t *testing.T) {
	cc := NewCongestionController()
	before := cc.Cwnd()

	rm := NewRetransmissionManager(cc).
		WithTimeoutInterval(10 * time.Millisecond).
		WithMaxRetries(3)

	id := rm.AddPacket([]byte("unacked"))

	want := uint64(float64(before) * defaultBeta)
	if want < cc.MinCwnd() {
		want = cc.MinCwnd()
	}

	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		rm.ProcessTimeouts()

		pkts := rm.GetRetransmissionPackets()
		if len(pkts) != 1 || pkts[0].ID != id {
			t.Fatalf("round %d: expected packet %d queued for resend, got %+v", i, id, pkts)
		}
		if i == 0 && cc.Cwnd() != want {
			t.Fatalf("after first loss, cwnd = %d, want %d (floor(cwnd0*0.7) clamped to min)", cc.Cwnd(), want)
		}
	}

	// Fourth timeout: retries already at max, so the packet is dropped
	// rather than requeued.
	time.Sleep(15 * time.Millisecond)
	rm.ProcessTimeouts()
	if rm.PendingCount() != 0 {
		t.Fatalf("expected packet dropped after exhausting retries, still pending: %d", rm.PendingCount())
	}
	if pkts := rm.GetRetransmissionPackets(); len(pkts) != 0 {
		t.Fatalf("expected no further retransmissions after drop, got %+v", pkts)
	}
}

func TestProcessTimeoutsIgnoresFreshPackets(t *testing.T) {
	rm := NewRetransmissionManager(NewCongestionController()).
		WithTimeoutInterval(time.Hour)
	rm.AddPacket([]byte("fresh"))
	rm.ProcessTimeouts()
	if pkts := rm.GetRetransmissionPackets(); len(pkts) != 0 {
		t.Fatalf("expected no retransmissions for a fresh packet, got %+v", pkts)
	}
	if rm.PendingCount() != 1 {
		t.Fatalf("expected packet still pending, got %d", rm.PendingCount())
	}
}

func TestReset(t *testing.T) {
	rm := NewRetransmissionManager(NewCongestionController()).
		WithTimeoutInterval(time.Millisecond)
	rm.AddPacket([]byte("a"))
	rm.AddPacket([]byte("b"))
	time.Sleep(5 * time.Millisecond)
	rm.ProcessTimeouts()

	rm.Reset()
	if rm.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after reset, got %d", rm.PendingCount())
	}
	if pkts := rm.GetRetransmissionPackets(); len(pkts) != 0 {
		t.Fatalf("expected empty rtx queue after reset, got %+v", pkts)
	}
}

func TestGetRetransmissionPacketsDrainsQueue(t *testing.T) {
	rm := NewRetransmissionManager(NewCongestionController()).
		WithTimeoutInterval(time.Millisecond)
	rm.AddPacket([]byte("a"))
	time.Sleep(5 * time.Millisecond)
	rm.ProcessTimeouts()

	first := rm.GetRetransmissionPackets()
	if len(first) != 1 {
		t.Fatalf("expected 1 packet on first drain, got %d", len(first))
	}
	second := rm.GetRetransmissionPackets()
	if len(second) != 0 {
		t.Fatalf("expected queue empty on second drain, got %d", len(second))
	}
}
