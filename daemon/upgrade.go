package daemon

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
)

// UpgradedStatus is the result taxonomy of the post-upgrade byte API.
type UpgradedStatus uint8

const (
	UpOK UpgradedStatus = iota
	UpNetTimeout
	UpNetConnClosed
	UpNetConnBroken
	UpNetHardError
	UpTLSError
	UpHandleInvalid
	UpTooLate
)

var upgradedNames = [...]string{
	UpOK:            "ok",
	UpNetTimeout:    "net_timeout",
	UpNetConnClosed: "net_conn_closed",
	UpNetConnBroken: "net_conn_broken",
	UpNetHardError:  "net_hard_error",
	UpTLSError:      "tls_error",
	UpHandleInvalid: "handle_invalid",
	UpTooLate:       "too_late",
}

func (u UpgradedStatus) String() string {
	if int(u) < len(upgradedNames) {
		return upgradedNames[u]
	}
	return "unknown"
}

// Upgraded is the duplex byte channel an upgrade callback operates on
// after the 101 response left. Safe for one goroutine per direction is
// NOT promised: all calls serialize on the handle's lock.
type Upgraded struct {
	mu     sync.Mutex
	conn   *Conn
	closed bool
}

func newUpgraded(c *Conn) *Upgraded {
	return &Upgraded{conn: c}
}

// Recv reads application-protocol bytes. timeoutMS bounds the wait;
// negative blocks indefinitely, zero never waits.
func (u *Upgraded) Recv(buf []byte, timeoutMS int) (int, UpgradedStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, UpHandleInvalid
	}
	c := u.conn
	if c.record != nil {
		for {
			if timeoutMS >= 0 {
				c.record.SetReadDeadline(nowPlusMS(timeoutMS))
			} else {
				c.record.SetReadDeadline(nowPlusMS(1000))
			}
			n, err := c.record.Read(buf)
			if err == nil {
				return n, UpOK
			}
			st := upgradedTLSStatus(err)
			if st == UpNetTimeout && timeoutMS < 0 {
				continue // unbounded wait, re-arm the slice
			}
			return n, st
		}
	}
	for {
		n, k := c.fd.Recv(buf)
		switch k {
		case socket.KindOk:
			if n == 0 && len(buf) > 0 {
				return 0, UpNetConnClosed
			}
			return n, UpOK
		case socket.KindAgain, socket.KindIntr:
			st := u.pollLocked(unix.POLLIN, timeoutMS)
			if st != UpOK {
				return 0, st
			}
			if timeoutMS > 0 {
				timeoutMS = 0 // readiness arrived; one more try, no second wait
			}
		default:
			return 0, upgradedKindStatus(k)
		}
	}
}

// Send writes application-protocol bytes, looping until everything is
// out or the timeout hits. moreToCome keeps the kernel from pushing a
// final short segment when the caller has a follow-up write.
func (u *Upgraded) Send(buf []byte, moreToCome bool, timeoutMS int) (int, UpgradedStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, UpHandleInvalid
	}
	c := u.conn
	if c.record != nil {
		n, err := c.record.Write(buf)
		if err != nil {
			return n, upgradedTLSStatus(err)
		}
		return n, UpOK
	}
	sent := 0
	for sent < len(buf) {
		n, k := c.fd.SendData(buf[sent:], !moreToCome)
		sent += n
		switch k {
		case socket.KindOk:
			// partial writev-free send loops until done
		case socket.KindAgain, socket.KindIntr:
			st := u.pollLocked(unix.POLLOUT, timeoutMS)
			if st != UpOK {
				return sent, st
			}
		default:
			return sent, upgradedKindStatus(k)
		}
	}
	return sent, UpOK
}

// Close finishes the upgraded connection. The teardown runs on the
// owner worker for pooled connections; private ones release in place.
// A second call reports UpTooLate.
func (u *Upgraded) Close() UpgradedStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return UpTooLate
	}
	u.closed = true
	c := u.conn
	c.closing = true
	if c.private {
		c.release()
		return UpOK
	}
	w := c.worker
	w.xMu.Lock()
	w.upCleanup = append(w.upCleanup, u)
	w.xMu.Unlock()
	w.wake()
	return UpOK
}

func (u *Upgraded) pollLocked(events int16, timeoutMS int) UpgradedStatus {
	if timeoutMS == 0 {
		return UpNetTimeout
	}
	pfd := []unix.PollFd{{Fd: int32(u.conn.fd.Raw), Events: events}}
	n, err := unix.Poll(pfd, timeoutMS)
	if err != nil && err != unix.EINTR {
		return UpNetHardError
	}
	if n <= 0 {
		return UpNetTimeout
	}
	return UpOK
}

func nowPlusMS(ms int) time.Time {
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

func upgradedKindStatus(k socket.Kind) UpgradedStatus {
	switch k {
	case socket.KindRemoteDisconn, socket.KindConnReset:
		return UpNetConnClosed
	case socket.KindConnBroken, socket.KindPipe, socket.KindNotConn:
		return UpNetConnBroken
	}
	return UpNetHardError
}
