package quic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/workerpool"
)

const defaultRTXLoopInterval = 100 * time.Millisecond

// defaultHandshakePollInterval bounds how long each poll for an
// incoming handshake packet blocks before the driver resends the
// initial packet and tries again.
const defaultHandshakePollInterval = 500 * time.Millisecond

// Manager is the composition root for a single client-side QUIC
// connection: it owns the Connection, its StreamManager, a
// CongestionController, a RetransmissionManager, a worker pool driving
// background I/O, and the Handshake state machine that gates Open.
type Manager struct {
	mu sync.Mutex

	conn        *Connection
	congestion  *CongestionController
	retransmit  *RetransmissionManager
	handshake   *Handshake
	pool        *workerpool.Pool
	cfg         *config.ManagerConfig

	rtxCancel context.CancelFunc
	closed    bool
}

// NewManager builds a Manager from cfg but does not open the
// connection or start any background work; call Open for that.
func NewManager(cfg *config.ManagerConfig) *Manager {
	congestion := NewCongestionController()
	return &Manager{
		conn:       NewConnection(),
		congestion: congestion,
		retransmit: NewRetransmissionManager(congestion),
		handshake:  NewHandshake().WithTimeout(cfg.HandshakeTimeout),
		pool:       workerpool.New(cfg.EventLoopWorkers),
		cfg:        cfg,
	}
}

// Connection returns the underlying Connection.
func (m *Manager) Connection() *Connection { return m.conn }

// Streams returns the connection's StreamManager.
func (m *Manager) Streams() *StreamManager { return m.conn.Streams() }

// Congestion returns the congestion controller driving send admission.
func (m *Manager) Congestion() *CongestionController { return m.congestion }

// Handshake returns the handshake state machine.
func (m *Manager) Handshake() *Handshake { return m.handshake }

// Open opens the connection, starts the worker pool and the
// retransmission loop, and drives the handshake to completion by
// polling the connection for incoming packets and feeding whatever
// arrives into the handshake state machine. It blocks until the
// handshake completes or fails.
func (m *Manager) Open() error {
	m.conn.Open()
	m.pool.RunForever()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.rtxCancel = cancel
	m.mu.Unlock()
	go m.rtxLoop(ctx)

	return m.driveHandshake()
}

// driveHandshake sends the initial packet, then repeatedly polls the
// connection for an incoming packet: a packet found is fed into
// Handshake.Trigger, the one place a real state transition happens;
// finding nothing within the poll interval re-emits the initial packet
// and polls again, exactly as the driving loop resends INITIAL on
// silence instead of assuming progress on its own.
func (m *Manager) driveHandshake() error {
	if err := m.conn.SendPacket(m.handshake.EmitInitial()); err != nil {
		return err
	}

	for !m.handshake.IsComplete() {
		if err := m.handshake.CheckTimeout(); err != nil {
			return err
		}

		packet, ok := m.conn.ReceivePacket(defaultHandshakePollInterval)
		if !ok {
			if err := m.conn.SendPacket(m.handshake.EmitInitial()); err != nil {
				return err
			}
			continue
		}

		if err := m.handshake.Trigger(string(packet)); err != nil {
			return err
		}
	}
	return m.handshake.Wait()
}

// rtxLoop periodically processes retransmission timeouts and resends
// any packets the RetransmissionManager surfaces, using a
// ticker-driven loop.
func (m *Manager) rtxLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultRTXLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retransmit.ProcessTimeouts()
			for _, pkt := range m.retransmit.GetRetransmissionPackets() {
				_ = m.conn.SendPacket(pkt.Bytes)
			}
		}
	}
}

// SendStream frames bytes for a stream, tracks it for retransmission,
// and enqueues it on the connection's send queue.
func (m *Manager) SendStream(streamID uint64, payload []byte) (uint64, error) {
	st, ok := m.Streams().GetStream(streamID)
	if !ok {
		st = m.conn.Streams().GetOrCreateStream(streamID)
	}
	if err := st.SendData(payload); err != nil {
		return 0, err
	}

	packet, err := EncodePacket(payload)
	if err != nil {
		return 0, err
	}
	if !m.congestion.CanSend(uint64(len(packet))) {
		return 0, fmt.Errorf("quic: congestion window exhausted, cannot send %d bytes", len(packet))
	}
	if err := m.conn.SendPacket(packet); err != nil {
		return 0, err
	}
	id := m.retransmit.AddPacket(packet)
	m.congestion.OnAck(uint64(len(packet))) // optimistic growth; OnLoss reverses it on timeout
	return id, nil
}

// ReceivePacket decodes and routes one inbound packet, delivering its
// payload to the addressed stream.
func (m *Manager) ReceivePacket(streamID uint64, raw []byte) error {
	payload, err := DecodePacket(raw)
	if err != nil {
		return err
	}
	st := m.conn.Streams().GetOrCreateStream(streamID)
	st.Deliver(payload)
	return nil
}

// AcknowledgePacket marks a previously sent packet as acknowledged,
// removing it from the retransmission queue.
func (m *Manager) AcknowledgePacket(id uint64) {
	m.retransmit.MarkAcknowledged(id)
}

// Close idempotently tears the manager down: stops the retransmission
// loop, stops the worker pool, and closes the connection (which in
// turn closes every stream).
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.rtxCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.conn.Close()
	return m.pool.Stop()
}
