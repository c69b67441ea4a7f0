package quic

import "testing"

func TestCwndNeverBelowMinimum(t *testing.T) {
	cc := NewCongestionController()
	for i := 0; i < 20; i++ {
		if err := cc.OnLoss(1000); err != nil {
			t.Fatalf("OnLoss: %v", err)
		}
	}
	if cc.Cwnd() < cc.MinCwnd() {
		t.Fatalf("cwnd %d fell below minimum %d", cc.Cwnd(), cc.MinCwnd())
	}
}

func TestLossReducesWindowByBeta(t *testing.T) {
	cc := NewCongestionController()
	before := cc.Cwnd()

	if err := cc.OnLoss(500); err != nil {
		t.Fatalf("OnLoss: %v", err)
	}

	want := uint64(float64(before) * defaultBeta)
	if want < cc.MinCwnd() {
		want = cc.MinCwnd()
	}
	if cc.Cwnd() != want {
		t.Fatalf("got cwnd %d, want %d", cc.Cwnd(), want)
	}
	if cc.Cwnd() != cc.ssthresh {
		t.Fatalf("expected cwnd == ssthresh immediately after loss")
	}
}

func TestSlowStartGrowsLinearly(t *testing.T) {
	cc := NewCongestionController()
	before := cc.Cwnd()
	cc.OnAck(100)
	if cc.Cwnd() != before+100 {
		t.Fatalf("got %d, want %d", cc.Cwnd(), before+100)
	}
}

func TestCanSendRespectsWindow(t *testing.T) {
	cc := NewCongestionController()
	if !cc.CanSend(cc.Cwnd()) {
		t.Fatalf("expected CanSend(cwnd) to be true")
	}
	if cc.CanSend(cc.Cwnd() + 1) {
		t.Fatalf("expected CanSend(cwnd+1) to be false")
	}
}

func TestLossCallbackInvokedWithNewWindow(t *testing.T) {
	cc := NewCongestionController()

	var gotCwnd, gotLoss uint64
	cc.RegisterLossCallback(func(newCwnd, lossBytes uint64) {
		gotCwnd = newCwnd
		gotLoss = lossBytes
	})

	if err := cc.OnLoss(777); err != nil {
		t.Fatalf("OnLoss: %v", err)
	}
	if gotCwnd != cc.Cwnd() {
		t.Fatalf("callback saw cwnd %d, controller has %d", gotCwnd, cc.Cwnd())
	}
	if gotLoss != 777 {
		t.Fatalf("callback saw loss bytes %d, want 777", gotLoss)
	}
}

func TestLossCallbackPanicIsolated(t *testing.T) {
	cc := NewCongestionController()

	var secondCalled bool
	cc.RegisterLossCallback(func(uint64, uint64) { panic("boom") })
	cc.RegisterLossCallback(func(uint64, uint64) { secondCalled = true })

	err := cc.OnLoss(10)
	if err == nil {
		t.Fatalf("expected an aggregated error from the panicking callback")
	}
	if !secondCalled {
		t.Fatalf("expected second callback to still run despite first panicking")
	}
}
