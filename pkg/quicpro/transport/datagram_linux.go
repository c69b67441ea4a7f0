//go:build linux
// +build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// applyBufferTuning sets SO_RCVBUF/SO_SNDBUF directly via the raw file
// descriptor's SyscallConn().Control, using golang.org/x/sys/unix
// rather than the bare syscall package so the option constants stay
// portable across kernel versions.
func applyBufferTuning(conn *net.UDPConn, cfg *Config) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var lastErr error
	err = rawConn.Control(func(fd uintptr) {
		if cfg.RecvBuffer > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer); err != nil {
				lastErr = err
			}
		}
		if cfg.SendBuffer > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer); err != nil {
				lastErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return lastErr
}
