// Package transport provides the UDP datagram socket the pipeline
// package sends and receives raw packets over, along with platform socket
// buffer tuning adapted from TCP-oriented socket option patterns to
// the UDP buffer sizing QUIC actually needs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport: datagram transport is closed")
)

var zeroTime time.Time

// Datagram is the minimal send/receive surface the pipeline package needs
// from an underlying network socket, letting tests substitute an
// in-memory implementation for net.UDPConn.
type Datagram interface {
	Send(b []byte) error
	Recv(ctx context.Context) (b []byte, addr net.Addr, err error)
	LocalAddr() net.Addr
	Close() error
}

// Config tunes the UDP socket buffers, sized for QUIC's larger,
// burstier datagrams rather than TCP byte streams.
type Config struct {
	RecvBuffer int
	SendBuffer int
}

// DefaultConfig returns 1MiB send/receive buffers, large enough to
// absorb a full congestion window of QUIC packets without kernel
// drops under load.
func DefaultConfig() *Config {
	return &Config{RecvBuffer: 1 << 20, SendBuffer: 1 << 20}
}

// UDPTransport is the default Datagram implementation, a thin wrapper
// over net.UDPConn with buffer tuning applied at dial time.
type UDPTransport struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

// Dial opens a UDP socket to addr and applies cfg's buffer tuning.
// If cfg is nil, DefaultConfig is used.
func Dial(addr string, cfg *Config) (*UDPTransport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %q: %w", addr, err)
	}
	if err := applyBufferTuning(conn, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

// Send writes b as a single datagram to the dialed peer.
func (t *UDPTransport) Send(b []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	_, err := t.conn.Write(b)
	return err
}

// Recv blocks for the next inbound datagram, or until ctx is done.
func (t *UDPTransport) Recv(ctx context.Context) ([]byte, net.Addr, error) {
	if t.closed.Load() {
		return nil, nil, ErrTransportClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(zeroTime)
	}
	buf := make([]byte, maxDatagramSize)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// LocalAddr returns the socket's local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close closes the underlying UDP socket. Idempotent.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

const maxDatagramSize = 65527 // max UDP payload over IPv6 (65535 - 8-byte UDP header)
