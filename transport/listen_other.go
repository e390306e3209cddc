//go:build !linux

package transport

import "syscall"

// reusePortControl is a no-op where SO_REUSEPORT isn't available; the first
// worker binds the port and the rest fail with EADDRINUSE, which the caller
// surfaces as a config error (set workers = 1 on these platforms).
func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
