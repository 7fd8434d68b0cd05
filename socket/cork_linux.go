//go:build linux

package socket

import "golang.org/x/sys/unix"

const (
	msgMoreFlag   = unix.MSG_MORE
	corkSupported = true
)

// corkOpt is TCP_CORK on Linux; the BSD build uses TCP_NOPUSH instead.
const corkOpt = unix.TCP_CORK
