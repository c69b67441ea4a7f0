package quic

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

var (
	ErrConnectionNotOpen = errors.New("quic: connection not open")
	ErrConnectionClosed  = errors.New("quic: connection closed")
)

// defaultRecvQueueCapacity bounds the receive queue's FIFO so a slow
// consumer applies backpressure rather than growing without limit.
const defaultRecvQueueCapacity = 1024

// Connection owns the send/receive queues for one QUIC connection.
// It performs no framing or encryption itself — those are the packet
// codec and record layers, composed above it by the Manager.
type Connection struct {
	connectionID []byte

	mu       sync.Mutex
	cond     *sync.Cond
	isOpen   bool
	closed   bool
	sendQ    [][]byte
	recvQ    [][]byte
	recvCap  int

	streams *StreamManager
}

// NewConnection creates a connection in the closed state with a
// random connection ID.
func NewConnection() *Connection {
	id := make([]byte, 8)
	_, _ = rand.Read(id)

	c := &Connection{
		connectionID: id,
		recvCap:      defaultRecvQueueCapacity,
	}
	c.cond = sync.NewCond(&c.mu)
	c.streams = NewStreamManager()
	return c
}

// ID returns the connection's opaque identifier.
func (c *Connection) ID() []byte { return c.connectionID }

// Streams returns the connection's StreamManager.
func (c *Connection) Streams() *StreamManager { return c.streams }

// Open transitions the connection from closed to open. Idempotent.
func (c *Connection) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.isOpen = true
}

// IsOpen reports whether the connection can currently send.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen && !c.closed
}

// SendPacket appends bytes to the send queue. Fails if the connection
// is not open.
func (c *Connection) SendPacket(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.isOpen {
		return ErrConnectionNotOpen
	}
	c.sendQ = append(c.sendQ, append([]byte(nil), b...))
	return nil
}

// DrainSendQueue removes and returns every queued outbound packet in
// FIFO order, for the datagram transport to actually write out.
func (c *Connection) DrainSendQueue() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sendQ
	c.sendQ = nil
	return out
}

// ProcessPacket enqueues an inbound packet and wakes any blocked
// receiver. If the receive queue is at capacity, the oldest packet is
// dropped to make room — this is a bounded FIFO, not an unbounded one.
func (c *Connection) ProcessPacket(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.recvQ) >= c.recvCap {
		c.recvQ = c.recvQ[1:]
	}
	c.recvQ = append(c.recvQ, append([]byte(nil), b...))
	c.cond.Broadcast()
}

// ReceivePacket waits up to timeout for a queued inbound packet and
// returns it, or returns (nil, false) on timeout or on close.
func (c *Connection) ReceivePacket(timeout time.Duration) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)

	for len(c.recvQ) == 0 && !c.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if !c.waitWithTimeout(remaining) {
			break
		}
	}

	if len(c.recvQ) == 0 {
		// Either closed with nothing left to drain, or the poll timed
		// out; re-checked here instead of returning straight out of the
		// loop so a packet delivered in the same instant the timer or
		// close fires is still picked up.
		return nil, false
	}

	pkt := c.recvQ[0]
	c.recvQ = c.recvQ[1:]
	return pkt, true
}

// waitWithTimeout wakes c.cond.Wait() after d elapses by running a
// timer goroutine that broadcasts. Must be called with c.mu held; it
// releases and reacquires the lock like sync.Cond.Wait does.
func (c *Connection) waitWithTimeout(d time.Duration) bool {
	timedOut := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		close(timedOut)
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.cond.Wait()

	select {
	case <-timedOut:
		return false
	default:
		return true
	}
}

// Close marks the connection closed, wakes every blocked receiver, and
// is idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.isOpen = false
	c.cond.Broadcast()
	c.streams.CloseAll()
}
