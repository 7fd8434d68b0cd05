package daemon

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/itc"
	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// worker owns one event loop: a poller, a wake channel and the
// connections accepted into it. Pool mode runs several; single mode
// runs one; thread-per-connection mode runs one that only accepts.
type worker struct {
	d   *Daemon
	idx int
	plr poller
	itc *itc.ITC

	conns        connList
	timeouts     timeoutList // daemon-default timeout, activity-ordered
	custTimeouts timeoutList // per-connection overrides, scanned in full
	proc         procQueue

	itcReady    bool
	listenReady bool

	connCap int

	// cross-goroutine inboxes, drained after every wake
	xMu       sync.Mutex
	resumeQ   []*Conn
	upCleanup []*Upgraded
}

// loadCount is the number of connections this worker is answerable
// for. Private connections never enter the worker's list, so the
// thread-per-connection accept loop counts the daemon-wide total.
func (w *worker) loadCount() int {
	if w.d.cfg.mode == WorkThreadPerConn {
		return int(w.d.active.Load())
	}
	return w.conns.count
}

// acceptOpen reports whether this worker takes new connections now.
func (w *worker) acceptOpen() bool {
	return w.d.listener != nil && !w.d.stopping() && w.loadCount() < w.connCap
}

// wake interrupts the worker's wait from another goroutine.
func (w *worker) wake() {
	w.itc.Activate()
}

func (w *worker) run() {
	defer w.d.wg.Done()
	for {
		if w.d.stopping() {
			w.shutdownAll()
			return
		}
		st := w.plr.wait(w, w.nextWaitMS())
		if st != SCOK {
			w.d.log.Error("poller wait failed", "worker", w.idx, "status", st.String())
			w.shutdownAll()
			return
		}
		if w.itcReady {
			w.itc.Clear()
			w.itcReady = false
		}
		if w.d.stopping() {
			w.shutdownAll()
			return
		}
		w.drainInbox()
		if w.listenReady {
			w.listenReady = false
			w.acceptBurst()
		}
		w.drainProc()
		w.expireTimeouts()
	}
}

// nextWaitMS bounds the poll wait by the earliest pending timeout.
func (w *worker) nextWaitMS() int {
	if w.proc.head != nil {
		return 0
	}
	deadline := int64(-1)
	if w.d.cfg.timeoutSec > 0 && w.timeouts.head != nil {
		deadline = w.timeouts.head.lastActivity + int64(w.d.cfg.timeoutSec)
	}
	for c := w.custTimeouts.head; c != nil; c = c.toNext {
		if t := int64(c.custTimeout); t > 0 {
			if dl := c.lastActivity + t; deadline < 0 || dl < deadline {
				deadline = dl
			}
		}
	}
	if deadline < 0 {
		return -1
	}
	left := deadline - w.d.nowUnix()
	if left <= 0 {
		return 0
	}
	return int(left * 1000)
}

// acceptBurst pulls a batch of pending connections. The batch shrinks
// as the worker fills up, so a loaded loop keeps servicing established
// connections instead of only accepting.
func (w *worker) acceptBurst() {
	load := w.loadCount()
	free := w.connCap - load
	if free <= 0 {
		return
	}
	burst := 1
	switch {
	case load*4 < w.connCap:
		burst = 256
	case load*2 < w.connCap:
		burst = 128
	}
	if burst > free {
		burst = free
	}
	for i := 0; i < burst; i++ {
		raw, sa, k := w.d.listener.Accept()
		if k == socket.KindAgain || k == socket.KindIntr {
			return
		}
		if k != socket.KindOk {
			w.d.log.Warn("accept failed", "worker", w.idx, "error", k.String())
			return
		}
		w.adopt(raw, sa)
	}
}

// adopt wires a fresh descriptor into this worker, or hands it its own
// goroutine in thread-per-connection mode.
func (w *worker) adopt(raw int, sa unix.Sockaddr) {
	ip := sockaddrIP(sa)
	if !w.d.perIP.claim(ip) {
		w.d.log.Debug("per-ip limit reached", "peer", ip)
		unix.Close(raw)
		return
	}
	c := newConn(w.d, w, raw, sa, w.d.listener.NonIP)
	w.d.active.Add(1)
	w.d.metrics.connAccepted()
	if w.d.cfg.mode == WorkThreadPerConn {
		c.private = true
		w.d.wg.Add(1)
		go w.runPrivate(c)
		return
	}
	if st := w.plr.register(c); st != SCOK {
		w.d.log.Warn("cannot register connection", "status", st.String())
		w.d.active.Add(-1)
		w.d.perIP.release(ip)
		c.fd.Close()
		w.d.metrics.connClosed()
		return
	}
	w.conns.pushBack(c)
	if c.timeoutSecs() > 0 {
		c.timeoutHome().pushBack(c)
	}
	// Data may already be queued; the first read finds out.
	c.recvReady = true
	w.proc.push(c)
}

// drainInbox applies resume requests and upgrade teardowns queued by
// other goroutines.
func (w *worker) drainInbox() {
	w.xMu.Lock()
	resumes := w.resumeQ
	w.resumeQ = nil
	cleanups := w.upCleanup
	w.upCleanup = nil
	w.xMu.Unlock()

	for _, c := range resumes {
		if !c.resumePending.Swap(false) || c.closing {
			continue
		}
		c.suspended.Store(false)
		c.strm.Resume()
		c.strm.BodyReady()
		if c.cycleOpen && c.strm.Reply == nil {
			c.needHandler = true
		}
		c.touch()
		if c.timeoutSecs() > 0 {
			c.timeoutHome().pushBack(c)
		}
		w.proc.push(c)
	}
	for _, up := range cleanups {
		w.finishClose(up.conn)
	}
}

// drainProc runs every queued connection once. The next pointer is
// taken before processing; a connection may close itself mid-turn.
func (w *worker) drainProc() {
	for {
		c := w.proc.pop()
		if c == nil {
			return
		}
		w.processConn(c)
	}
}

// processConn advances one connection until it blocks on I/O, the
// application, or finishes.
func (w *worker) processConn(c *Conn) {
	if c.closing || c.upgraded != nil || c.suspended.Load() {
		return
	}
	if c.needHandler {
		// Resumed without an answer chosen yet: ask the handler again.
		c.needHandler = false
		c.touch()
		w.applyAction(c, w.d.handler(&c.req))
		if c.closing || c.suspended.Load() {
			return
		}
	}
	for {
		note := c.strm.Step()
		switch note {
		case stream.NoteCallHandler:
			c.cycleOpen = true
			c.touch()
			w.applyAction(c, w.d.handler(&c.req))

		case stream.NoteUploadChunk:
			chunk := c.strm.BodyChunk()
			act := c.upload(&c.req, chunk, false)
			c.strm.BodyConsumed()
			c.touch()
			w.applyAction(c, act)

		case stream.NoteUploadDone:
			w.applyAction(c, c.upload(&c.req, nil, true))

		case stream.NoteReplyDone:
			w.fireTermination(c, TerminationCompletedOK)
			if c.strm.KeepAliveNow() {
				w.d.large.reclaim(c.strm.ResetForNext())
				c.startNewCycle()
				c.touch()
				continue
			}
			w.preClose(c, TerminationCompletedOK)
			return

		case stream.NoteUpgraded:
			w.startUpgrade(c)
			return

		case stream.NoteClosed:
			term := TerminationClientAbort
			if c.strm.StopWithError {
				term = TerminationWithError
			}
			w.preClose(c, term)
			return

		case stream.NoteNone:
			if c.suspended.Load() {
				return
			}
			switch c.strm.Interest() {
			case stream.InterestRecvOnly:
				if !c.recvReady || !w.doRecv(c) {
					return
				}
			case stream.InterestSendOnly:
				if !c.sendReady || !w.doSend(c) {
					return
				}
			default:
				return // waiting on the application
			}
		}
	}
}

// doRecv moves bytes from the socket into the stream. Returns false
// when the caller should stop stepping this connection.
func (w *worker) doRecv(c *Conn) bool {
	buf := c.strm.RecvTarget()
	if buf == nil {
		// Buffer cannot grow; the next Step turns this into a 4xx.
		return true
	}
	n, k := c.recvBytes(buf)
	switch k {
	case socket.KindOk:
		if n == 0 {
			c.strm.RemoteClosed()
			return true
		}
		c.strm.Received(n)
		c.touch()
		return true
	case socket.KindAgain, socket.KindIntr:
		if c.record != nil {
			// The record layer reads in one-second slices; check the
			// inactivity clock before waiting again.
			if t := int64(c.timeoutSecs()); t > 0 &&
				c.lastActivity+t <= w.d.nowUnix() {
				w.d.metrics.connTimeout()
				w.preClose(c, TerminationTimeoutReached)
			}
			return false
		}
		c.recvReady = false
		return false
	default:
		w.preClose(c, TerminationClientAbort)
		return false
	}
}

// doSend pushes pending stream output to the socket.
func (w *worker) doSend(c *Conn) bool {
	pieces, push, sf := c.strm.SendPieces()
	if sf != nil {
		if len(pieces) > 0 {
			// Response head travels before the file; not pushed, the
			// body follows immediately.
			n, k := c.sendBytes(pieces, false)
			return w.afterSend(c, n, k)
		}
		n, k, fallback := c.fd.Sendfile(sf.FD, sf.Off, sf.Count, push)
		if fallback {
			c.strm.SendfileFallback()
			return true
		}
		switch k {
		case socket.KindOk:
			c.strm.SendfileSent(n)
			c.touch()
			return true
		case socket.KindAgain, socket.KindIntr:
			c.sendReady = false
			return false
		default:
			w.preClose(c, TerminationClientAbort)
			return false
		}
	}
	if len(pieces) == 0 {
		return false
	}
	n, k := c.sendBytes(pieces, push)
	return w.afterSend(c, n, k)
}

func (w *worker) afterSend(c *Conn, n int, k socket.Kind) bool {
	switch k {
	case socket.KindOk:
		c.strm.Sent(n)
		c.touch()
		return true
	case socket.KindAgain, socket.KindIntr:
		if n > 0 {
			c.strm.Sent(n)
		}
		c.sendReady = false
		return false
	default:
		w.preClose(c, TerminationClientAbort)
		return false
	}
}

// applyAction translates the handler's verdict into stream calls.
func (w *worker) applyAction(c *Conn, a Action) {
	switch a.kind {
	case actionContinue:
	case actionRespond:
		c.strm.QueueReply(a.reply)
	case actionUpload:
		c.upload = a.upload
		c.strm.RequestUpload()
	case actionSuspend:
		c.strm.Suspend()
		c.suspended.Store(true)
		c.timeoutHome().remove(c)
	case actionUpgrade:
		c.upgradeCB = a.upgrade
		r := stream.NewReply(stream.StatusSwitchingProtocols)
		r.UpgradeProto = a.proto
		c.strm.QueueReply(r)
	case actionAbort:
		c.strm.CloseWithError(0)
	}
}

// startUpgrade hands the raw socket to the application after the 101
// response left the kernel.
func (w *worker) startUpgrade(c *Conn) {
	// Residual bytes alias the connection pool; the callback runs on its
	// own goroutine and outlives the stream, so it gets a private copy.
	residual := append([]byte(nil), c.strm.ResidualInput()...)
	up := newUpgraded(c)
	c.upgraded = up
	if !c.private {
		w.plr.unregister(c)
		c.timeoutHome().remove(c)
	}
	w.fireTermination(c, TerminationCompletedOK)
	go c.upgradeCB(&c.req, up, residual)
}

func (w *worker) fireTermination(c *Conn, term Termination) {
	if !c.cycleOpen || c.termFired {
		return
	}
	c.termFired = true
	w.d.metrics.requestDone(term)
	if cb := w.d.cfg.termCB; cb != nil {
		cb(&c.req, term)
	}
}

// preClose ends the request cycle and releases the connection.
func (w *worker) preClose(c *Conn, term Termination) {
	if c.closing {
		return
	}
	c.closing = true
	w.fireTermination(c, term)
	w.finishClose(c)
}

func (w *worker) finishClose(c *Conn) {
	c.closing = true
	if !c.private {
		w.plr.unregister(c)
		c.timeoutHome().remove(c)
		w.conns.remove(c)
	}
	c.release()
}

// release returns everything the connection holds. Shared between the
// worker path and the private-goroutine path.
func (c *Conn) release() {
	c.daemon.active.Add(-1)
	c.daemon.perIP.release(c.peerIP)
	c.daemon.large.reclaim(c.strm.LargeBytes())
	if c.record != nil {
		// closes the wrapped descriptor too
		c.record.Close()
	} else {
		c.fd.Close()
	}
	c.daemon.metrics.connClosed()
}

// expireTimeouts closes every connection inactive past its limit. The
// default list is activity-ordered, so that walk stops at the first
// survivor; the override list is walked whole.
func (w *worker) expireTimeouts() {
	now := w.d.nowUnix()
	if w.d.cfg.timeoutSec > 0 {
		for c := w.timeouts.head; c != nil; c = w.timeouts.head {
			if c.lastActivity+int64(w.d.cfg.timeoutSec) > now {
				break
			}
			w.d.metrics.connTimeout()
			w.preClose(c, TerminationTimeoutReached)
		}
	}
	for c := w.custTimeouts.head; c != nil; {
		next := c.toNext
		if t := int64(c.custTimeout); t > 0 && c.lastActivity+t <= now {
			w.d.metrics.connTimeout()
			w.preClose(c, TerminationTimeoutReached)
		}
		c = next
	}
}

// shutdownAll tears down every connection on daemon stop.
func (w *worker) shutdownAll() {
	for c := w.conns.head; c != nil; c = w.conns.head {
		w.preClose(c, TerminationDaemonShutdown)
	}
	w.plr.close()
	w.itc.Close()
}
