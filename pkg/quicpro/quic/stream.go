package quic

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrStreamNotOpen  = errors.New("quic: stream not open")
	ErrStreamNotFound = errors.New("quic: stream not found")
	ErrInvalidWeight  = errors.New("quic: priority weight must be in [1, 256]")
)

// StreamState is the monotonic lifecycle of a Stream.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosed
	StreamClosed
)

// StreamPriority orders streams by weight only; dependency is carried
// for bookkeeping but excluded from ordering.
type StreamPriority struct {
	Weight     int
	Dependency uint64
}

// NewStreamPriority validates weight against the [1, 256] range.
func NewStreamPriority(weight int, dependency uint64) (StreamPriority, error) {
	if weight < 1 || weight > 256 {
		return StreamPriority{}, ErrInvalidWeight
	}
	return StreamPriority{Weight: weight, Dependency: dependency}, nil
}

// SortPriorities sorts ascending by weight (ascending weight =
// descending urgency: weight 1 is highest priority). The sort is
// stable with respect to dependency and original order.
func SortPriorities(ps []StreamPriority) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Weight < ps[j].Weight })
}

// Stream is a per-connection, bidirectional byte sequence identified by
// a numeric ID.
type Stream struct {
	id uint64

	mu       sync.Mutex
	state    StreamState
	buffer   []byte
	priority *StreamPriority
}

func newStream(id uint64) *Stream {
	return &Stream{id: id, state: StreamIdle}
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint64 { return s.id }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open transitions IDLE -> OPEN. No-op if already past IDLE.
func (s *Stream) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamIdle {
		s.state = StreamOpen
	}
}

// HalfClose transitions OPEN -> HALF_CLOSED.
func (s *Stream) HalfClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamOpen {
		s.state = StreamHalfClosed
	}
}

// Close transitions to CLOSED. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StreamClosed
}

// SendData appends to the stream's buffer. Legal only while OPEN.
func (s *Stream) SendData(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamOpen {
		return ErrStreamNotOpen
	}
	s.buffer = append(s.buffer, b...)
	return nil
}

// Deliver appends inbound bytes to the stream's buffer regardless of
// state, used on the receive path where a packet may arrive for a
// stream that is not yet fully open on this side.
func (s *Stream) Deliver(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, b...)
}

// ReceiveData atomically returns and clears the buffer.
func (s *Stream) ReceiveData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buffer
	s.buffer = nil
	return out
}

// SetPriority is thread-safe and may be called at any point in the
// stream's lifecycle.
func (s *Stream) SetPriority(p StreamPriority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = &p
}

// Priority returns the stream's priority, if one was set.
func (s *Stream) Priority() (StreamPriority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priority == nil {
		return StreamPriority{}, false
	}
	return *s.priority, true
}

// StreamManager owns streams keyed by ID and allocates monotonically
// increasing IDs starting at 1.
type StreamManager struct {
	mu      sync.Mutex
	streams map[uint64]*Stream
	nextID  uint64 // accessed only via atomic.AddUint64
}

// NewStreamManager returns an empty StreamManager whose first
// allocated stream ID is 1.
func NewStreamManager() *StreamManager {
	return &StreamManager{streams: make(map[uint64]*Stream)}
}

// CreateStream allocates the next ID, opens the new stream, optionally
// sets its priority, inserts it, and returns it.
func (sm *StreamManager) CreateStream(priority *StreamPriority) *Stream {
	id := atomic.AddUint64(&sm.nextID, 1)
	st := newStream(id)
	st.Open()
	if priority != nil {
		st.SetPriority(*priority)
	}

	sm.mu.Lock()
	sm.streams[id] = st
	sm.mu.Unlock()

	return st
}

// GetStream returns the stream for id, if any.
func (sm *StreamManager) GetStream(id uint64) (*Stream, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.streams[id]
	return st, ok
}

// GetOrCreateStream returns the existing stream for id, or creates and
// opens one — used on the receive path, where a peer-addressed stream
// ID may not yet have a local handle.
func (sm *StreamManager) GetOrCreateStream(id uint64) *Stream {
	sm.mu.Lock()
	if st, ok := sm.streams[id]; ok {
		sm.mu.Unlock()
		return st
	}
	sm.mu.Unlock()

	st := newStream(id)
	st.Open()

	sm.mu.Lock()
	if existing, ok := sm.streams[id]; ok {
		sm.mu.Unlock()
		return existing
	}
	sm.streams[id] = st
	sm.mu.Unlock()

	return st
}

// CloseStream removes and closes the stream for id.
func (sm *StreamManager) CloseStream(id uint64) error {
	sm.mu.Lock()
	st, ok := sm.streams[id]
	if ok {
		delete(sm.streams, id)
	}
	sm.mu.Unlock()

	if !ok {
		return ErrStreamNotFound
	}
	st.Close()
	return nil
}

// CloseAll closes every live stream.
func (sm *StreamManager) CloseAll() {
	sm.mu.Lock()
	snapshot := make([]*Stream, 0, len(sm.streams))
	for _, st := range sm.streams {
		snapshot = append(snapshot, st)
	}
	sm.streams = make(map[uint64]*Stream)
	sm.mu.Unlock()

	for _, st := range snapshot {
		st.Close()
	}
}

// Snapshot returns a point-in-time copy of the live stream set.
func (sm *StreamManager) Snapshot() []*Stream {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]*Stream, 0, len(sm.streams))
	for _, st := range sm.streams {
		out = append(out, st)
	}
	return out
}
