package quic

import (
	"bytes"
	"sync"
	"testing"
)

func TestStreamLifecycle(t *testing.T) {
	s := newStream(1)
	if s.State() != StreamIdle {
		t.Fatalf("expected IDLE, got %v", s.State())
	}

	if err := s.SendData([]byte("x")); err != ErrStreamNotOpen {
		t.Fatalf("expected ErrStreamNotOpen before Open, got %v", err)
	}

	s.Open()
	if s.State() != StreamOpen {
		t.Fatalf("expected OPEN, got %v", s.State())
	}

	if err := s.SendData([]byte("hello")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if err := s.SendData([]byte(" world")); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	got := s.ReceiveData()
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q", got)
	}
	if got2 := s.ReceiveData(); len(got2) != 0 {
		t.Fatalf("expected empty buffer after drain, got %q", got2)
	}

	s.Close()
	if s.State() != StreamClosed {
		t.Fatalf("expected CLOSED, got %v", s.State())
	}
	s.Close() // idempotent
	if err := s.SendData([]byte("x")); err != ErrStreamNotOpen {
		t.Fatalf("expected ErrStreamNotOpen after close, got %v", err)
	}
}

func TestStreamPriorityValidation(t *testing.T) {
	if _, err := NewStreamPriority(0, 0); err != ErrInvalidWeight {
		t.Fatalf("expected ErrInvalidWeight for 0, got %v", err)
	}
	if _, err := NewStreamPriority(257, 0); err != ErrInvalidWeight {
		t.Fatalf("expected ErrInvalidWeight for 257, got %v", err)
	}
	if _, err := NewStreamPriority(1, 0); err != nil {
		t.Fatalf("expected weight 1 valid, got %v", err)
	}
	if _, err := NewStreamPriority(256, 0); err != nil {
		t.Fatalf("expected weight 256 valid, got %v", err)
	}
}

func TestSortPrioritiesAscendingStable(t *testing.T) {
	ps := []StreamPriority{
		{Weight: 5, Dependency: 1},
		{Weight: 1, Dependency: 2},
		{Weight: 5, Dependency: 3},
		{Weight: 3, Dependency: 4},
	}
	SortPriorities(ps)

	weights := make([]int, len(ps))
	for i, p := range ps {
		weights[i] = p.Weight
	}
	want := []int{1, 3, 5, 5}
	for i := range want {
		if weights[i] != want[i] {
			t.Fatalf("got weights %v, want ascending %v", weights, want)
		}
	}
	// Stability: the two weight-5 entries keep relative order (dep 1 before dep 3).
	if ps[2].Dependency != 1 || ps[3].Dependency != 3 {
		t.Fatalf("sort not stable: %+v", ps)
	}
}

func TestStreamManagerMonotonicIDs(t *testing.T) {
	sm := NewStreamManager()
	s1 := sm.CreateStream(nil)
	s2 := sm.CreateStream(nil)
	if s1.ID() != 1 || s2.ID() != 2 {
		t.Fatalf("expected IDs 1,2, got %d,%d", s1.ID(), s2.ID())
	}
}

func TestStreamManagerConcurrentCreateProducesUniqueIDs(t *testing.T) {
	sm := NewStreamManager()
	const n = 50

	ids := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			ids[i] = sm.CreateStream(nil).ID()
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate stream ID %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct IDs, got %d", n, len(seen))
	}
}

func TestStreamManagerCloseAll(t *testing.T) {
	sm := NewStreamManager()
	s1 := sm.CreateStream(nil)
	s2 := sm.CreateStream(nil)
	sm.CloseAll()

	if s1.State() != StreamClosed || s2.State() != StreamClosed {
		t.Fatalf("expected all streams closed")
	}
	if len(sm.Snapshot()) != 0 {
		t.Fatalf("expected no live streams after CloseAll")
	}
}

func TestStreamManagerHighPriorityStream(t *testing.T) {
	sm := NewStreamManager()
	prio, err := NewStreamPriority(1, 0)
	if err != nil {
		t.Fatalf("NewStreamPriority: %v", err)
	}
	s := sm.CreateStream(&prio)
	if s.ID() != 1 {
		t.Fatalf("expected first stream ID 1, got %d", s.ID())
	}
	got, ok := s.Priority()
	if !ok || got.Weight != 1 {
		t.Fatalf("expected weight 1 priority, got %+v ok=%v", got, ok)
	}
}
