package daemon

import (
	"crypto/tls"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// runPrivate services one connection on its own goroutine: the
// thread-per-connection mode, and the only mode that carries TLS. The
// connection is never registered with a shared poller; readiness comes
// from a private poll on the single descriptor.
func (w *worker) runPrivate(c *Conn) {
	defer w.d.wg.Done()
	c.resumeCh = make(chan struct{}, 1)

	if w.d.cfg.rlFactory != nil {
		nc := newFDConn(c.fd)
		rl, err := w.d.cfg.rlFactory(nc)
		if err != nil {
			w.d.log.Debug("record layer setup failed", "peer", c.peerIP, "error", err)
			c.closing = true
			c.release()
			return
		}
		c.record = rl
	} else if w.d.cfg.tlsConfig != nil {
		nc := newFDConn(c.fd)
		t := tls.Server(nc, w.d.cfg.tlsConfig)
		hsTimeout := 10 * time.Second
		if s := w.d.cfg.timeoutSec; s > 0 {
			hsTimeout = time.Duration(s) * time.Second
		}
		t.SetReadDeadline(time.Now().Add(hsTimeout))
		err := t.Handshake()
		t.SetReadDeadline(time.Time{})
		if err != nil {
			w.d.log.Debug("tls handshake failed", "peer", c.peerIP, "error", err)
			c.closing = true
			c.release()
			return
		}
		c.record = t
	}

	c.recvReady = true
	c.sendReady = true
	for {
		if w.d.stopping() {
			w.preClose(c, TerminationDaemonShutdown)
			return
		}
		w.processConn(c)
		if c.closing {
			return
		}
		if c.upgraded != nil {
			return // handed over, the upgrade handle owns it now
		}
		if c.strm.Interest() == stream.InterestProcess {
			// Parked (Suspend, or a reply body that ran dry). Resume
			// wakes us through the channel; no timeout applies.
			select {
			case <-c.resumeCh:
			case <-w.d.stopCh:
				w.preClose(c, TerminationDaemonShutdown)
				return
			}
			c.resumePending.Store(false)
			c.suspended.Store(false)
			c.strm.Resume()
			c.strm.BodyReady()
			if c.cycleOpen && c.strm.Reply == nil {
				c.needHandler = true
			}
			c.touch()
			c.recvReady = true
			c.sendReady = true
			continue
		}
		if !w.privateWait(c) {
			return
		}
	}
}

// privateWait blocks on the descriptor until it matches the stream's
// interest or the inactivity timeout fires. Returns false once the
// connection is gone.
func (w *worker) privateWait(c *Conn) bool {
	if c.record != nil {
		// TLS reads and writes block inside the record layer; poll on
		// the raw descriptor cannot see buffered records. The deadline
		// baked into the adapter enforces the inactivity timeout.
		c.recvReady = true
		c.sendReady = true
		return true
	}
	ev := c.wantedEvents()
	if ev == 0 {
		// Readiness still sticky from the last turn.
		return true
	}
	// Bounded wait so a daemon stop is noticed within a second.
	tmo := 1000
	if t := c.timeoutSecs(); t > 0 {
		left := c.lastActivity + int64(t) - w.d.nowUnix()
		if left <= 0 {
			w.d.metrics.connTimeout()
			w.preClose(c, TerminationTimeoutReached)
			return false
		}
		if left < 1 {
			left = 1
		}
		if int(left*1000) < tmo {
			tmo = int(left * 1000)
		}
	}
	pfd := []unix.PollFd{{Fd: int32(c.fd.Raw), Events: ev}}
	n, err := unix.Poll(pfd, tmo)
	if err != nil && err != unix.EINTR {
		w.preClose(c, TerminationWithError)
		return false
	}
	if n <= 0 {
		if w.d.cfg.timeoutSec > 0 &&
			c.lastActivity+int64(w.d.cfg.timeoutSec) <= w.d.nowUnix() {
			w.d.metrics.connTimeout()
			w.preClose(c, TerminationTimeoutReached)
			return false
		}
		return true
	}
	re := pfd[0].Revents
	if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		c.recvReady = true
	}
	if re&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
		c.sendReady = true
	}
	return true
}
