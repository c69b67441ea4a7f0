package quic

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var rtxLogger = log.New(os.Stderr, "retransmission: ", log.LstdFlags)

const (
	defaultMaxRetries      = 3
	defaultTimeoutInterval = 500 * time.Millisecond
)

// rtxEntry tracks one in-flight packet awaiting acknowledgment.
type rtxEntry struct {
	bytes     []byte
	firstSent time.Time
	retries   int
}

// RetransmissionManager tracks in-flight packets, detects timeouts,
// and queues resends, notifying a CongestionController of loss events
// along the way.
type RetransmissionManager struct {
	mu      sync.Mutex
	pending map[uint64]*rtxEntry
	rtxQ    []uint64
	nextID  uint64

	maxRetries      int
	timeoutInterval time.Duration

	congestion *CongestionController
}

// NewRetransmissionManager returns a manager with the default
// policy: 3 max retries, 500ms timeout interval.
func NewRetransmissionManager(congestion *CongestionController) *RetransmissionManager {
	return &RetransmissionManager{
		pending:         make(map[uint64]*rtxEntry),
		maxRetries:      defaultMaxRetries,
		timeoutInterval: defaultTimeoutInterval,
		congestion:      congestion,
	}
}

func (rm *RetransmissionManager) WithMaxRetries(n int) *RetransmissionManager {
	rm.maxRetries = n
	return rm
}

func (rm *RetransmissionManager) WithTimeoutInterval(d time.Duration) *RetransmissionManager {
	rm.timeoutInterval = d
	return rm
}

// AddPacket stores bytes with a fresh packet ID and returns it.
func (rm *RetransmissionManager) AddPacket(b []byte) uint64 {
	id := atomic.AddUint64(&rm.nextID, 1)

	rm.mu.Lock()
	rm.pending[id] = &rtxEntry{
		bytes:     append([]byte(nil), b...),
		firstSent: time.Now(),
	}
	rm.mu.Unlock()

	return id
}

// MarkAcknowledged removes the entry for id. No-op if absent.
func (rm *RetransmissionManager) MarkAcknowledged(id uint64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.pending, id)
}

// ProcessTimeouts scans every pending packet: timed-out packets under
// the retry budget are re-queued with an incremented retry count and
// a fresh timestamp, and the congestion controller is notified of a
// loss; packets that have exhausted their retry budget are dropped.
func (rm *RetransmissionManager) ProcessTimeouts() {
	rm.mu.Lock()
	now := time.Now()

	var toDrop []uint64
	var toRequeue []uint64

	for id, entry := range rm.pending {
		age := now.Sub(entry.firstSent)
		if age <= rm.timeoutInterval {
			continue
		}
		if entry.retries >= rm.maxRetries {
			toDrop = append(toDrop, id)
			continue
		}
		entry.retries++
		entry.firstSent = now
		toRequeue = append(toRequeue, id)
	}

	for _, id := range toDrop {
		delete(rm.pending, id)
	}
	rm.rtxQ = append(rm.rtxQ, toRequeue...)

	var lossBytes uint64
	for _, id := range toRequeue {
		lossBytes += uint64(len(rm.pending[id].bytes))
	}
	rm.mu.Unlock()

	if len(toDrop) > 0 {
		rtxLogger.Printf("dropped %d packet(s) after exhausting retry budget", len(toDrop))
	}
	if len(toRequeue) > 0 {
		rtxLogger.Printf("requeuing %d packet(s), %d bytes lost", len(toRequeue), lossBytes)
		if rm.congestion != nil {
			rm.congestion.OnLoss(lossBytes)
		}
	}
}

// GetRetransmissionPackets drains the retransmission queue, returning
// only entries that are still pending (not since acknowledged or
// dropped).
func (rm *RetransmissionManager) GetRetransmissionPackets() []struct {
	ID    uint64
	Bytes []byte
} {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	queued := rm.rtxQ
	rm.rtxQ = nil

	out := make([]struct {
		ID    uint64
		Bytes []byte
	}, 0, len(queued))

	for _, id := range queued {
		entry, ok := rm.pending[id]
		if !ok {
			continue
		}
		out = append(out, struct {
			ID    uint64
			Bytes []byte
		}{ID: id, Bytes: entry.bytes})
	}
	return out
}

// Reset clears all tracked state.
func (rm *RetransmissionManager) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.pending = make(map[uint64]*rtxEntry)
	rm.rtxQ = nil
}

// PendingCount reports how many packets are currently tracked, for
// tests and diagnostics.
func (rm *RetransmissionManager) PendingCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}
