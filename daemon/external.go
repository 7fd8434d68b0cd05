package daemon

// External events mode: the embedder owns the event loop. The daemon
// tells it which descriptors matter through RegisterFunc, the embedder
// feeds readiness back with EventUpdate and turns the crank with
// ProcessEvents. Everything here runs on the embedder's loop thread;
// none of it is safe for concurrent use (RequestResume stays safe from
// anywhere, as in every mode).

// EventInterest is the direction set the embedder watches a
// descriptor for.
type EventInterest uint8

const (
	EventRecv EventInterest = 1 << iota
	EventSend
)

// RegisterFunc mirrors descriptor registrations into the embedder's
// loop. interest 0 means the descriptor goes away; ctx identifies it
// in later EventUpdate calls and stays stable for its lifetime.
type RegisterFunc func(fd int, interest EventInterest, ctx *EventCtx)

type evKind uint8

const (
	evConn evKind = iota
	evITC
	evListen
)

// EventCtx is the opaque registration token handed to RegisterFunc.
type EventCtx struct {
	kind evKind
	conn *Conn
}

// externalPoller forwards registrations to the embedder; its wait is
// never used, ProcessEvents drives the turn instead.
type externalPoller struct {
	d *Daemon
}

func (p *externalPoller) register(c *Conn) StatusCode {
	c.evCtx = &EventCtx{kind: evConn, conn: c}
	p.d.cfg.register(c.fd.Raw, EventRecv|EventSend, c.evCtx)
	return SCOK
}

func (p *externalPoller) unregister(c *Conn) {
	if c.evCtx != nil {
		p.d.cfg.register(c.fd.Raw, 0, c.evCtx)
		c.evCtx = nil
	}
}

func (p *externalPoller) wait(w *worker, timeoutMS int) StatusCode {
	return SCInternal
}

func (p *externalPoller) close() {}

// EventUpdate reports readiness the embedder's loop observed.
func (d *Daemon) EventUpdate(ctx *EventCtx, recvReady, sendReady bool) StatusCode {
	if d.state.Load() != int32(stStarted) {
		return SCDaemonNotStarted
	}
	if ctx == nil {
		return SCHandleInvalid
	}
	w := d.workers[0]
	switch ctx.kind {
	case evITC:
		if recvReady {
			w.itcReady = true
		}
	case evListen:
		if recvReady {
			w.listenReady = true
		}
	case evConn:
		c := ctx.conn
		if c == nil || c.closing {
			return SCHandleInvalid
		}
		if recvReady {
			c.recvReady = true
		}
		if sendReady {
			c.sendReady = true
		}
		w.proc.push(c)
	}
	return SCOK
}

// ProcessEvents runs one daemon turn and returns the maximum time in
// milliseconds the embedder may sleep before calling again; -1 means
// no deadline of the daemon's own.
func (d *Daemon) ProcessEvents() (int, StatusCode) {
	if d.state.Load() != int32(stStarted) {
		return -1, SCDaemonNotStarted
	}
	w := d.workers[0]
	if w.itcReady {
		w.itc.Clear()
		w.itcReady = false
	}
	w.drainInbox()
	if w.listenReady {
		w.listenReady = false
		w.acceptBurst()
	}
	w.drainProc()
	w.expireTimeouts()
	return w.nextWaitMS(), SCOK
}
