package socket

import (
	"golang.org/x/sys/unix"
)

// TriState caches a kernel-side boolean the engine cannot always know,
// e.g. the cork state of an externally supplied socket.
type TriState uint8

const (
	TriNo TriState = iota
	TriYes
	TriMaybe
)

func (t TriState) String() string {
	switch t {
	case TriNo:
		return "no"
	case TriYes:
		return "yes"
	}
	return "maybe"
}

// FD is a non-blocking stream socket plus the cached kernel state the
// send engine needs to avoid redundant setsockopt calls.
type FD struct {
	Raw       int
	NonBlock  bool
	IsNonIP   bool // unix socket, or anything TCP options would EINVAL on
	Corked    TriState
	NoDelay   TriState
	RmtShutWr bool // peer performed shutdown(SHUT_WR)
}

// NewAccepted wraps a socket accepted from one of our listeners. Accepted
// TCP sockets start uncorked; TCP_NODELAY is inherited from the listener
// so the caller passes what it knows.
func NewAccepted(raw int, noDelay TriState, nonIP bool) *FD {
	return &FD{
		Raw:      raw,
		NonBlock: true,
		IsNonIP:  nonIP,
		Corked:   TriNo,
		NoDelay:  noDelay,
	}
}

// NewExternal wraps a socket the embedder handed us. Nothing about its
// option state can be assumed.
func NewExternal(raw int, nonIP bool) *FD {
	return &FD{
		Raw:      raw,
		NonBlock: true,
		IsNonIP:  nonIP,
		Corked:   TriMaybe,
		NoDelay:  TriMaybe,
	}
}

// SetNonBlock flips the O_NONBLOCK flag and records the result.
func (fd *FD) SetNonBlock(on bool) error {
	if err := unix.SetNonblock(fd.Raw, on); err != nil {
		return err
	}
	fd.NonBlock = on
	return nil
}

// Recv reads up to len(buf) bytes. A zero-length read on a non-empty
// buffer means the peer shut down its write side; the stream keeps
// parsing whatever was buffered before closing.
func (fd *FD) Recv(buf []byte) (int, Kind) {
	n, err := unix.Read(fd.Raw, buf)
	if err != nil {
		return 0, ClassifyErr(err)
	}
	if n == 0 && len(buf) > 0 {
		fd.RmtShutWr = true
	}
	return n, KindOk
}

// Close releases the descriptor. The FD must already be deregistered
// from any multiplexer.
func (fd *FD) Close() error {
	err := unix.Close(fd.Raw)
	fd.Raw = -1
	return err
}
