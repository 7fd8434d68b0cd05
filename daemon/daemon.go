// Package daemon is an embeddable event-driven HTTP/1.x server. The
// application supplies a handler that turns parsed requests into
// actions; the daemon owns sockets, buffers, timeouts and the protocol
// state machine.
package daemon

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/digestauth"
	"github.com/Karlson2k/libmicrohttpd-sub001/itc"
	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
)

type daemonState int32

const (
	stCreated daemonState = iota
	stStarted
	stStopping
	stStopped
)

// Daemon is one server instance. Create with New, configure with the
// With* setters, run with Start.
type Daemon struct {
	handler Handler
	log     *slog.Logger
	cfg     config
	optErr  StatusCode

	state atomic.Int32

	listener    *socket.Listener
	ownListener bool
	workers     []*worker
	wg          sync.WaitGroup
	stopCh      chan struct{}

	large   largeBuf
	perIP   *perIPTable
	nonces  *digestauth.NonceTable
	metrics metrics

	active atomic.Int64

	extITCCtx    EventCtx
	extListenCtx EventCtx
}

func (d *Daemon) stopping() bool {
	return daemonState(d.state.Load()) >= stStopping
}

func (d *Daemon) nowUnix() int64 {
	return time.Now().Unix()
}

// Start binds, builds the pollers and launches the workers. On any
// failure everything already constructed is unwound and the daemon is
// left unusable.
func (d *Daemon) Start() StatusCode {
	if !d.state.CompareAndSwap(int32(stCreated), int32(stStarted)) {
		return SCDaemonAlreadyStarted
	}
	if st := d.start(); st != SCOK {
		d.state.Store(int32(stStopped))
		return st
	}
	return SCOK
}

func (d *Daemon) start() StatusCode {
	if d.optErr != SCOK {
		return d.optErr
	}
	if d.handler == nil {
		return SCOptionInvalid
	}
	if d.log == nil {
		d.log = otelslog.NewLogger(instrumentationName)
	}
	d.metrics = newMetrics()
	d.stopCh = make(chan struct{})

	if d.cfg.mode == WorkExternal && d.cfg.register == nil {
		return SCOptionInvalid
	}
	if (d.cfg.tlsConfig != nil || d.cfg.rlFactory != nil) &&
		d.cfg.mode != WorkThreadPerConn {
		return SCTLSNotSupported
	}
	if d.cfg.mode == WorkThreadPerConn {
		// The master loop only watches two descriptors; epoll buys
		// nothing there and its edge semantics do not fit.
		switch d.cfg.poll {
		case PollAuto:
			d.cfg.poll = PollPoll
		case PollEpoll:
			return SCOptionUnsupported
		}
	}

	nWorkers := 1
	if d.cfg.mode == WorkPool {
		nWorkers = d.cfg.poolSize
		if nWorkers < 1 {
			nWorkers = runtime.NumCPU()
		}
	}

	// Listening socket: adopted or created.
	if d.cfg.listenFD >= 0 {
		d.listener = &socket.Listener{FD: d.cfg.listenFD, Family: d.cfg.family}
	} else {
		lst, err := socket.Listen(socket.ListenConfig{
			Family:        d.cfg.family,
			Port:          d.cfg.port,
			Backlog:       d.cfg.backlog,
			Reuse:         d.cfg.reuse,
			FastOpen:      d.cfg.fastOpen,
			FastOpenQueue: d.cfg.fastOpenQueue,
			Sockaddr:      d.cfg.sockaddr,
		})
		if err != nil {
			d.log.Error("listen failed", "port", d.cfg.port, "error", err)
			if errors.Is(err, unix.EADDRINUSE) {
				return SCListenPortBusy
			}
			return SCListenFailure
		}
		d.listener = lst
		d.ownListener = true
	}

	// Effective connection limit: the configured cap, shrunk by the
	// descriptor budget and, under select, the FD_SETSIZE ceiling.
	connLimit := d.cfg.connLimit
	reserved := 1 + nWorkers*3 // listener, wake pipes, poller descriptors
	if d.cfg.fdLimit > 0 && d.cfg.fdLimit-reserved < connLimit {
		connLimit = d.cfg.fdLimit - reserved
	}
	if d.usesSelect() && connLimit > fdSetSize-reserved {
		connLimit = fdSetSize - reserved
	}
	if connLimit < 1 {
		d.unwind()
		return SCFDLimitReached
	}

	d.perIP = newPerIPTable(d.cfg.perIPLimit)
	d.large.init(d.cfg.largePool)
	if len(d.cfg.digestEntropy) > 0 {
		d.nonces = digestauth.NewNonceTable(d.cfg.digestSlots,
			d.cfg.digestEntropy, digestauth.AlgoSHA256, d.cfg.digestLifetime)
	}

	perWorkerCap := connLimit / nWorkers
	if perWorkerCap < 1 {
		perWorkerCap = 1
	}
	for i := 0; i < nWorkers; i++ {
		w := &worker{d: d, idx: i, connCap: perWorkerCap}
		ic, err := itc.New()
		if err != nil {
			d.log.Error("wake channel failed", "error", err)
			d.unwind()
			return SCITCFailure
		}
		w.itc = ic
		if d.cfg.mode == WorkExternal {
			w.plr = &externalPoller{d: d}
		} else {
			plr, st := d.newPoller(ic.ReadFD(), d.listener.FD)
			if st != SCOK {
				ic.Close()
				d.unwind()
				return st
			}
			w.plr = plr
		}
		d.workers = append(d.workers, w)
	}

	if d.cfg.mode == WorkExternal {
		d.extITCCtx = EventCtx{kind: evITC}
		d.extListenCtx = EventCtx{kind: evListen}
		d.cfg.register(d.workers[0].itc.ReadFD(), EventRecv, &d.extITCCtx)
		d.cfg.register(d.listener.FD, EventRecv, &d.extListenCtx)
	} else {
		for _, w := range d.workers {
			d.wg.Add(1)
			go w.run()
		}
	}

	d.log.Info("daemon started",
		"port", d.listener.Port,
		"mode", d.cfg.mode,
		"workers", nWorkers,
		"conn_limit", connLimit)
	return SCOK
}

func (d *Daemon) usesSelect() bool {
	if d.cfg.mode == WorkExternal {
		return false
	}
	if d.cfg.poll == PollSelect {
		return true
	}
	return false
}

// unwind releases what start built before the failure point.
func (d *Daemon) unwind() {
	for _, w := range d.workers {
		w.plr.close()
		w.itc.Close()
	}
	d.workers = nil
	if d.ownListener && d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
}

// Stop asks every worker to finish. It does not wait; Destroy does.
func (d *Daemon) Stop() StatusCode {
	if !d.state.CompareAndSwap(int32(stStarted), int32(stStopping)) {
		return SCDaemonNotStarted
	}
	close(d.stopCh)
	if d.cfg.mode == WorkExternal {
		// Runs on the embedder's loop thread by contract.
		w := d.workers[0]
		d.cfg.register(w.itc.ReadFD(), 0, &d.extITCCtx)
		d.cfg.register(d.listener.FD, 0, &d.extListenCtx)
		w.shutdownAll()
	} else {
		for _, w := range d.workers {
			w.wake()
		}
	}
	return SCOK
}

// Destroy stops the daemon, waits for the workers and releases the
// listening socket. Upgraded connections the application still holds
// survive; their Close releases them directly once the daemon is gone.
func (d *Daemon) Destroy() StatusCode {
	if daemonState(d.state.Load()) == stStarted {
		d.Stop()
	}
	if daemonState(d.state.Load()) == stCreated {
		d.state.Store(int32(stStopped))
		return SCOK
	}
	d.wg.Wait()
	if d.ownListener && d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
	d.state.Store(int32(stStopped))
	d.log.Info("daemon destroyed")
	return SCOK
}

// RequestResume unparks a suspended request. Safe from any goroutine;
// the wake is delivered to the owning worker or private loop.
func (d *Daemon) RequestResume(req *Request) StatusCode {
	if req == nil || req.conn == nil {
		return SCHandleInvalid
	}
	c := req.conn
	c.resumePending.Store(true)
	if c.private {
		select {
		case c.resumeCh <- struct{}{}:
		default:
		}
		return SCOK
	}
	w := c.worker
	w.xMu.Lock()
	w.resumeQ = append(w.resumeQ, c)
	w.xMu.Unlock()
	w.wake()
	return SCOK
}

// ListenPort reports the bound port, useful after binding port 0.
func (d *Daemon) ListenPort() (uint16, StatusCode) {
	if daemonState(d.state.Load()) != stStarted || d.listener == nil {
		return 0, SCTooEarly
	}
	return d.listener.Port, SCOK
}

// ListenFD exposes the listening descriptor for embedder-side tricks.
func (d *Daemon) ListenFD() (int, StatusCode) {
	if daemonState(d.state.Load()) != stStarted || d.listener == nil {
		return -1, SCTooEarly
	}
	return d.listener.FD, SCOK
}

// ActiveConnections counts connections currently open.
func (d *Daemon) ActiveConnections() int64 {
	return d.active.Load()
}

// DigestVerifier builds a verifier over the daemon's nonce table for
// the given realm. Requires WithDigestAuth.
func (d *Daemon) DigestVerifier(realm string) (*digestauth.Verifier, StatusCode) {
	if d.nonces == nil {
		return nil, SCAuthEntropyMissing
	}
	return &digestauth.Verifier{Realm: realm, Table: d.nonces}, SCOK
}
