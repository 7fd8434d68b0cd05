package socket

import "golang.org/x/sys/unix"

// The send engine keeps a whole response out of small-packet territory
// with as few setsockopt calls as possible. Buffered sends prefer
// MSG_MORE (free); when that is unavailable the socket is corked. A push
// happens by resetting the cork when the cache says corked, otherwise by
// making sure TCP_NODELAY is set. All of this is skipped for non-IP
// sockets.

// beforeSend prepares the socket for a send and returns the flags to use.
func (fd *FD) beforeSend(push bool, canMsgMore bool) int {
	if fd.IsNonIP {
		return 0
	}
	if !push {
		if canMsgMore && msgMoreFlag != 0 {
			return msgMoreFlag
		}
		fd.cork()
	}
	return 0
}

// afterSend applies the push policy once a full buffer went out with
// push requested. Partial sends defer this to the next call.
func (fd *FD) afterSend(push bool, sentAll bool) {
	if fd.IsNonIP || !push || !sentAll {
		return
	}
	switch fd.Corked {
	case TriYes:
		// Resetting the cork always pushes pending data.
		if fd.setCork(false) {
			return
		}
	case TriNo:
		if fd.NoDelay == TriYes {
			return // nodelay already pushes every send
		}
		if fd.setNoDelay(true) {
			return
		}
	case TriMaybe:
		if fd.setCork(false) {
			return
		}
	}
	// Last resort: a zero-byte send flushes a cork we failed to reset.
	unix.Write(fd.Raw, nil)
}

func (fd *FD) cork() {
	if fd.Corked == TriYes || !corkSupported {
		return
	}
	if !fd.setCork(true) {
		// Can't cork: at least stop nodelay from pushing each fragment.
		fd.setNoDelay(false)
	}
}

func (fd *FD) setCork(on bool) bool {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd.Raw, unix.IPPROTO_TCP, corkOpt, v); err != nil {
		fd.Corked = TriMaybe
		return false
	}
	if on {
		fd.Corked = TriYes
	} else {
		fd.Corked = TriNo
	}
	return true
}

func (fd *FD) setNoDelay(on bool) bool {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd.Raw, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		fd.NoDelay = TriMaybe
		return false
	}
	if on {
		fd.NoDelay = TriYes
	} else {
		fd.NoDelay = TriNo
	}
	return true
}

// SendData sends buf. push marks the end of the data the stream wants on
// the wire now; the engine then makes sure the kernel does not hold it.
func (fd *FD) SendData(buf []byte, push bool) (int, Kind) {
	flags := fd.beforeSend(push, true)
	n, err := unix.SendmsgN(fd.Raw, buf, nil, nil, flags)
	if err != nil {
		return 0, ClassifyErr(err)
	}
	fd.afterSend(push, n == len(buf))
	return n, KindOk
}

// SendHdrAndBody sends the response head and the first body piece in one
// writev, so short responses leave in a single segment.
func (fd *FD) SendHdrAndBody(hdr, body []byte, push bool) (int, Kind) {
	if len(body) == 0 {
		return fd.SendData(hdr, push)
	}
	if len(hdr) == 0 {
		return fd.SendData(body, push)
	}
	fd.beforeSend(push, false) // writev has no MSG_MORE; cork instead
	n, err := unix.Writev(fd.Raw, [][]byte{hdr, body})
	if err != nil {
		return 0, ClassifyErr(err)
	}
	fd.afterSend(push, n == len(hdr)+len(body))
	return n, KindOk
}

// SendIovec sends a tracked iovec: pieces[0] may be partially consumed
// already, the caller slices it accordingly.
func (fd *FD) SendIovec(pieces [][]byte, push bool) (int, Kind) {
	total := 0
	for _, p := range pieces {
		total += len(p)
	}
	if len(pieces) == 1 {
		return fd.SendData(pieces[0], push)
	}
	fd.beforeSend(push, false)
	n, err := unix.Writev(fd.Raw, pieces)
	if err != nil {
		return 0, ClassifyErr(err)
	}
	fd.afterSend(push, n == total)
	return n, KindOk
}
