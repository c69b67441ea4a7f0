package http3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/net/idna"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/message"
	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/qpack"
	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/quic"
)

var (
	ErrHTTP3Protocol  = errors.New("http3: protocol error")
	ErrNoResponse     = errors.New("http3: no response has been routed yet")
	ErrConnectionDone = errors.New("http3: connection is closed")
)

// Response is the remembered payload of the most recently routed
// frame: the last routed payload is remembered as the current
// response, rather than tracked per stream.
type Response struct {
	StreamID uint32
	Status   int
	Body     message.Content
}

// Connection holds the QUIC manager and its stream manager and
// exposes the request/response surface. It borrows the manager rather
// than owning it: closing a Connection closes the manager too, but the
// manager may outlive any single Connection built on top of it.
type Connection struct {
	mu sync.Mutex

	manager *quic.Manager
	encoder *qpack.Encoder
	decoder *qpack.Decoder

	localSettings  map[string]string
	remoteSettings map[string]string

	nextStreamID uint32
	lastResponse *Response
	closed       bool
}

// NewConnection wraps an already-open quic.Manager.
func NewConnection(manager *quic.Manager, qpackCfg *config.QPACKConfig) *Connection {
	return &Connection{
		manager:        manager,
		encoder:        qpack.NewEncoder(qpackCfg),
		decoder:        qpack.NewDecoder(qpackCfg),
		localSettings:  make(map[string]string),
		remoteSettings: make(map[string]string),
	}
}

// NegotiateSettings stores settings locally and sends a SETTINGS
// frame; conceptually this would exchange SETTINGS with the peer.
func (c *Connection) NegotiateSettings(settings map[string]string) error {
	c.mu.Lock()
	for k, v := range settings {
		c.localSettings[k] = v
	}
	c.mu.Unlock()

	wire, err := NewSettingsFrame(settings).Encode()
	if err != nil {
		return err
	}
	_, err = c.manager.SendStream(0, wire)
	return err
}

// RemoteSettings returns a copy of the peer's negotiated settings, as
// last applied via RouteIncomingFrame.
func (c *Connection) RemoteSettings() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.remoteSettings))
	for k, v := range c.remoteSettings {
		out[k] = v
	}
	return out
}

// SendRequest allocates a stream (with priority) or reuses streamID
// if nonzero, builds a QPACK header block for the canonical request
// (:method, :path, :scheme, :authority), concatenates it with body,
// wraps the result as a QUIC packet, and sends it via the manager.
func (c *Connection) SendRequest(method, scheme, authority, path string, body message.Content, priority *quic.StreamPriority, streamID uint32) (uint32, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrConnectionDone
	}
	if streamID == 0 {
		c.nextStreamID++
		if c.nextStreamID == 0 {
			c.nextStreamID = 1
		}
		streamID = c.nextStreamID
	}
	c.mu.Unlock()

	normalizedAuthority, err := idna.Lookup.ToASCII(authority)
	if err != nil {
		normalizedAuthority = authority
	}

	if priority != nil {
		st := c.manager.Streams().GetOrCreateStream(uint64(streamID))
		st.SetPriority(*priority)
	}

	headerBlock, err := c.encoder.EncodeFieldList([]qpack.Field{
		{Name: ":method", Value: method},
		{Name: ":path", Value: path},
		{Name: ":scheme", Value: scheme},
		{Name: ":authority", Value: normalizedAuthority},
	})
	if err != nil {
		return 0, fmt.Errorf("http3: encoding request headers: %w", err)
	}

	payload := make([]byte, 0, 4+len(headerBlock)+len(body.Bytes()))
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], streamID)
	payload = append(payload, idBuf[:]...)
	payload = append(payload, headerBlock...)
	payload = append(payload, body.Bytes()...)

	if _, err := c.manager.SendStream(uint64(streamID), payload); err != nil {
		return 0, err
	}
	return streamID, nil
}

// RouteIncomingFrame decodes the frame's type and length, handles
// SETTINGS and GOAWAY specially, and otherwise treats the payload's
// first 4 bytes as a stream id, forwarding the remainder to that
// stream (creating it if absent). The last routed payload is
// remembered as the current response. Malformed frames fail the call
// without tearing down the connection.
func (c *Connection) RouteIncomingFrame(packet []byte) error {
	frame, _, err := DecodeFrame(packet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTP3Protocol, err)
	}

	switch frame.Type {
	case FrameSettings:
		settings, err := DecodeSettingsFrame(frame.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHTTP3Protocol, err)
		}
		c.mu.Lock()
		for k, v := range settings {
			c.remoteSettings[k] = v
		}
		c.mu.Unlock()
		return nil
	case FrameGoaway:
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return nil
	}

	if len(frame.Payload) < 4 {
		return fmt.Errorf("%w: payload shorter than the 4-byte stream id", ErrHTTP3Protocol)
	}
	streamID := binary.BigEndian.Uint32(frame.Payload[:4])
	rest := frame.Payload[4:]

	st := c.manager.Streams().GetOrCreateStream(uint64(streamID))
	st.Deliver(rest)

	status, body := c.parseRoutedPayload(rest)
	c.mu.Lock()
	c.lastResponse = &Response{StreamID: streamID, Status: status, Body: body}
	c.mu.Unlock()
	return nil
}

// parseRoutedPayload decodes rest as a QPACK header block followed by
// a response body, falling back to treating the whole of rest as an
// opaque body if QPACK decoding fails (e.g. a simulated
// legacy-pipeline payload that never was QPACK in the first place).
func (c *Connection) parseRoutedPayload(rest []byte) (int, message.Content) {
	fields, consumed, err := c.decoder.DecodeFieldListPrefix(rest)
	if err != nil {
		return 0, message.Binary(rest)
	}
	status := 0
	for _, f := range fields {
		if f.Name == ":status" {
			fmt.Sscanf(f.Value, "%d", &status)
		}
	}
	return status, message.Binary(rest[consumed:])
}

// ReceiveResponse returns the remembered current response.
func (c *Connection) ReceiveResponse() (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResponse == nil {
		return Response{}, ErrNoResponse
	}
	return *c.lastResponse, nil
}

// Close sends a GOAWAY frame on stream 0 carrying the last routed
// stream ID (0 if none has been routed), then closes the underlying
// QUIC connection and all streams. The GOAWAY is best effort: a
// failure to send it does not stop the teardown. Idempotent: a second
// call returns nil.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var lastStreamID uint32
	if c.lastResponse != nil {
		lastStreamID = c.lastResponse.StreamID
	}
	c.mu.Unlock()

	if goaway, err := NewGoawayFrame(lastStreamID, 0, ""); err == nil {
		if wire, err := goaway.Encode(); err == nil {
			_, _ = c.manager.SendStream(0, wire)
		}
	}
	return c.manager.Close()
}
