package quic

import (
	"testing"
	"time"
)

func TestHandshakeHappyPath(t *testing.T) {
	h := NewHandshake()
	_ = h.EmitInitial() // self-loop: must not move off INITIAL by itself
	if h.State() != HandshakeInitial {
		t.Fatalf("expected EmitInitial to leave state at INITIAL, got %v", h.State())
	}

	steps := []string{"TLS_START", "TLS_DONE", "HANDSHAKE_DONE"}
	for _, tok := range steps {
		if err := h.Trigger(tok); err != nil {
			t.Fatalf("Trigger(%q): %v", tok, err)
		}
	}
	if h.State() != HandshakeCompleted {
		t.Fatalf("expected COMPLETED, got %v", h.State())
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestHandshakeVersionNegotiationPath(t *testing.T) {
	h := NewHandshake()
	_ = h.EmitInitial()

	if err := h.Trigger("VERNEG:2,1"); err != nil {
		t.Fatalf("Trigger VERNEG: %v", err)
	}
	if h.State() != HandshakeVersionNegotiation {
		t.Fatalf("expected VERSION_NEGOTIATION, got %v", h.State())
	}

	// The next packet actually received from the peer is what moves the
	// handshake on from VERSION_NEGOTIATION, not the earlier self-emit.
	if err := h.Trigger("TLS_START"); err != nil {
		t.Fatalf("Trigger TLS_START: %v", err)
	}
	if h.State() != HandshakeTLSHandshake {
		t.Fatalf("expected TLS_HANDSHAKE, got %v", h.State())
	}
}

func TestHandshakeNoCommonVersionFails(t *testing.T) {
	h := NewHandshake()
	_ = h.EmitInitial()

	err := h.Trigger("VERNEG:9,8")
	if err != ErrNoCommonVersion {
		t.Fatalf("expected ErrNoCommonVersion, got %v", err)
	}
	if werr := h.Wait(); werr != ErrNoCommonVersion {
		t.Fatalf("expected Wait to surface ErrNoCommonVersion, got %v", werr)
	}
}

func TestHandshakeInitialAcceptsAnyNonVernegPacketAsHandshakeStart(t *testing.T) {
	h := NewHandshake()
	_ = h.EmitInitial()

	// A non-VERNEG incoming packet moves INITIAL straight to HANDSHAKE
	// and, since the token is also a valid HANDSHAKE packet, chains
	// straight on to TLS_HANDSHAKE in the same Trigger call.
	if err := h.Trigger("TLS_START"); err != nil {
		t.Fatalf("Trigger TLS_START from INITIAL: %v", err)
	}
	if h.State() != HandshakeTLSHandshake {
		t.Fatalf("expected TLS_HANDSHAKE, got %v", h.State())
	}
}

func TestHandshakeInvalidTransition(t *testing.T) {
	h := NewHandshake()
	if err := h.Trigger("TLS_DONE"); err == nil {
		t.Fatalf("expected error triggering TLS_DONE from INITIAL")
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	h := NewHandshake().WithTimeout(10 * time.Millisecond)
	_ = h.EmitInitial()
	time.Sleep(20 * time.Millisecond)
	if err := h.Trigger("TLS_START"); err != ErrHandshakeTimeout {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if err := h.Wait(); err != ErrHandshakeTimeout {
		t.Fatalf("expected Wait to surface ErrHandshakeTimeout, got %v", err)
	}
}

func TestHandshakeCheckTimeoutFailsWithNoIncomingPacket(t *testing.T) {
	h := NewHandshake().WithTimeout(10 * time.Millisecond)
	_ = h.EmitInitial()
	time.Sleep(20 * time.Millisecond)
	if err := h.CheckTimeout(); err != ErrHandshakeTimeout {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if err := h.Wait(); err != ErrHandshakeTimeout {
		t.Fatalf("expected Wait to surface ErrHandshakeTimeout, got %v", err)
	}
}

func TestHandshakeCompletedRejectsFurtherTriggers(t *testing.T) {
	h := NewHandshake()
	_ = h.EmitInitial()
	for _, tok := range []string{"TLS_START", "TLS_DONE", "HANDSHAKE_DONE"} {
		if err := h.Trigger(tok); err != nil {
			t.Fatalf("Trigger(%q): %v", tok, err)
		}
	}
	if err := h.Trigger("HANDSHAKE_DONE"); err == nil {
		t.Fatalf("expected error re-triggering after COMPLETED")
	}
}
