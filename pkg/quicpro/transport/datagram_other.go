//go:build !linux
// +build !linux

package transport

import "net"

// applyBufferTuning is a no-op outside Linux; net.UDPConn's own
// defaults apply.
func applyBufferTuning(conn *net.UDPConn, cfg *Config) error {
	return nil
}
