//go:build !linux

package socket

import "golang.org/x/sys/unix"

const (
	msgMoreFlag   = 0 // no MSG_MORE outside Linux
	corkSupported = true
)

// TCP_NOPUSH is the BSD spelling of output corking.
const corkOpt = unix.TCP_NOPUSH
