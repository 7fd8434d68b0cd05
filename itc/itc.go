// Package itc implements the inter-thread wake primitive: a waitable
// descriptor the event loop monitors, which any other goroutine can
// activate to force the blocked multiplexer call to return.
//
// One reader (the daemon loop), arbitrary writers. Built on eventfd where
// available (one descriptor), a non-blocking pipe otherwise (two).
package itc

import (
	"errors"

	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("itc: already destroyed")

// ITC is the wake channel. ReadFD is registered with the multiplexer.
type ITC struct {
	r, w    int
	eventfd bool
}

// ReadFD returns the descriptor the event loop waits on.
func (i *ITC) ReadFD() int { return i.r }

// FDCount reports how many descriptors this ITC consumes from the fd
// budget.
func (i *ITC) FDCount() int {
	if i.eventfd {
		return 1
	}
	return 2
}

// Activate wakes the reader. Never blocks: a full pipe already wakes the
// reader, so EAGAIN is success. Any other failure is an invariant breach.
func (i *ITC) Activate() error {
	if i.w < 0 {
		return ErrClosed
	}
	var payload []byte
	if i.eventfd {
		payload = []byte{1, 0, 0, 0, 0, 0, 0, 0} // little-endian uint64(1)
	} else {
		payload = []byte{1}
	}
	for {
		_, err := unix.Write(i.w, payload)
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return err
		}
	}
}

// Clear drains every pending signal so the descriptor stops reading
// ready. Called by the loop after the multiplexer reports it readable.
func (i *ITC) Clear() {
	if i.r < 0 {
		return
	}
	buf := make([]byte, 64)
	for {
		_, err := unix.Read(i.r, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return // EAGAIN: drained
		}
		if i.eventfd {
			return // eventfd resets its counter in one read
		}
	}
}

// Close destroys both ends.
func (i *ITC) Close() {
	if i.r >= 0 {
		unix.Close(i.r)
	}
	if !i.eventfd && i.w >= 0 {
		unix.Close(i.w)
	}
	i.r, i.w = -1, -1
}
