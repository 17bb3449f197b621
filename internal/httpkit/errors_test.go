package httpkit

import (
	"net"
	"syscall"
)

// syscallRefused builds the error shape the dialer produces for a
// refused connection.
func syscallRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}
