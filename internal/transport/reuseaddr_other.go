//go:build !unix

package transport

import "syscall"

// setReuseAddr is a no-op stand-in on platforms this daemon does not
// target; the control computers this equipment runs against are unix.
func setReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
