package daemon

import (
	"crypto/tls"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// WorkMode selects how the daemon schedules its event processing.
type WorkMode uint8

const (
	// WorkSingle runs one event loop goroutine servicing everything.
	WorkSingle WorkMode = iota
	// WorkPool runs N independent workers sharing the listening socket;
	// the kernel load-balances accepts across them.
	WorkPool
	// WorkThreadPerConn gives every accepted connection its own
	// goroutine with a private poll loop. Required for TLS.
	WorkThreadPerConn
	// WorkExternal performs no waiting of its own: the embedder's event
	// loop registers the daemon's descriptors and feeds readiness back
	// through EventUpdate.
	WorkExternal
)

// PollSyscall selects the readiness multiplexer for internal modes.
type PollSyscall uint8

const (
	PollAuto PollSyscall = iota
	PollSelect
	PollPoll
	PollEpoll
)

const (
	defaultConnLimit    = 1024
	defaultConnMemLimit = 32 * 1024
	defaultTimeoutSec   = 0 // no timeout unless configured
	defaultBacklog      = 511
)

type config struct {
	family        socket.Family
	port          uint16
	sockaddr      unix.Sockaddr
	listenFD      int
	reuse         socket.ReuseMode
	fastOpen      bool
	fastOpenQueue int
	backlog       int

	mode     WorkMode
	poolSize int
	poll     PollSyscall
	register RegisterFunc

	connLimit    int
	fdLimit      int
	perIPLimit   int
	connMemLimit int
	timeoutSec   int
	largePool    int
	strict       stream.Strictness

	tlsConfig *tls.Config
	rlFactory RecordLayerFactory

	termCB TerminationFunc

	digestEntropy  []byte
	digestSlots    int
	digestLifetime uint32
}

// New creates a daemon for the given request handler. Configure it with
// the With* setters, then call Start. Setters applied after Start are
// ignored and recorded as SCTooLate.
func New(handler Handler) *Daemon {
	d := &Daemon{
		handler: handler,
		cfg: config{
			listenFD:     -1,
			backlog:      defaultBacklog,
			connLimit:    defaultConnLimit,
			connMemLimit: defaultConnMemLimit,
			timeoutSec:   defaultTimeoutSec,
		},
	}
	d.state.Store(int32(stCreated))
	return d
}

func (d *Daemon) setter() bool {
	if d.state.Load() != int32(stCreated) {
		d.optErr = SCTooLate
		return false
	}
	return true
}

// WithBindPort binds the given port on the given address family.
func (d *Daemon) WithBindPort(fam socket.Family, port uint16) *Daemon {
	if d.setter() {
		d.cfg.family = fam
		d.cfg.port = port
	}
	return d
}

// WithBindSockaddr binds an explicit socket address (including unix
// sockets), overriding WithBindPort.
func (d *Daemon) WithBindSockaddr(sa unix.Sockaddr) *Daemon {
	if d.setter() {
		d.cfg.sockaddr = sa
	}
	return d
}

// WithListenSocket adopts an already bound and listening descriptor.
func (d *Daemon) WithListenSocket(fd int) *Daemon {
	if d.setter() {
		d.cfg.listenFD = fd
	}
	return d
}

// WithAddrReuse selects the bind sharing mode.
func (d *Daemon) WithAddrReuse(mode socket.ReuseMode) *Daemon {
	if d.setter() {
		d.cfg.reuse = mode
	}
	return d
}

// WithTCPFastOpen enables TFO with the given pending-handshake queue.
func (d *Daemon) WithTCPFastOpen(queueLen int) *Daemon {
	if d.setter() {
		d.cfg.fastOpen = true
		d.cfg.fastOpenQueue = queueLen
	}
	return d
}

// WithWorkMode selects the scheduling mode. For WorkPool use
// WithWorkerPool, for WorkExternal use WithExternalEvents.
func (d *Daemon) WithWorkMode(mode WorkMode) *Daemon {
	if d.setter() {
		d.cfg.mode = mode
	}
	return d
}

// WithWorkerPool selects pool mode with n workers.
func (d *Daemon) WithWorkerPool(n int) *Daemon {
	if d.setter() {
		if n < 1 {
			d.optErr = SCOptionInvalid
			return d
		}
		d.cfg.mode = WorkPool
		d.cfg.poolSize = n
	}
	return d
}

// WithExternalEvents selects external mode. register is called by the
// daemon whenever a descriptor's desired readiness set changes; the
// embedder mirrors those registrations into its own loop and reports
// readiness back via EventUpdate.
func (d *Daemon) WithExternalEvents(register RegisterFunc) *Daemon {
	if d.setter() {
		if register == nil {
			d.optErr = SCOptionInvalid
			return d
		}
		d.cfg.mode = WorkExternal
		d.cfg.register = register
	}
	return d
}

// WithPollSyscall forces a specific multiplexer instead of the
// epoll > poll > select autodetection.
func (d *Daemon) WithPollSyscall(p PollSyscall) *Daemon {
	if d.setter() {
		d.cfg.poll = p
	}
	return d
}

// WithConnectionLimit caps simultaneously open connections.
func (d *Daemon) WithConnectionLimit(n int) *Daemon {
	if d.setter() {
		if n < 1 {
			d.optErr = SCOptionInvalid
			return d
		}
		d.cfg.connLimit = n
	}
	return d
}

// WithFDNumberLimit caps the total descriptors the daemon may consume;
// intersected with the connection limit at start.
func (d *Daemon) WithFDNumberLimit(n int) *Daemon {
	if d.setter() {
		d.cfg.fdLimit = n
	}
	return d
}

// WithPerIPLimit caps connections per client address. Zero disables.
func (d *Daemon) WithPerIPLimit(n int) *Daemon {
	if d.setter() {
		d.cfg.perIPLimit = n
	}
	return d
}

// WithConnectionMemoryLimit sets the per-connection pool size.
func (d *Daemon) WithConnectionMemoryLimit(bytes int) *Daemon {
	if d.setter() {
		if bytes < 256 {
			d.optErr = SCOptionInvalid
			return d
		}
		d.cfg.connMemLimit = bytes
	}
	return d
}

// WithTimeout sets the inactivity timeout in seconds. Zero disables.
func (d *Daemon) WithTimeout(seconds int) *Daemon {
	if d.setter() {
		d.cfg.timeoutSec = seconds
	}
	return d
}

// WithLargePoolSize sets the shared budget for request buffers that
// outgrow their connection pool.
func (d *Daemon) WithLargePoolSize(bytes int) *Daemon {
	if d.setter() {
		d.cfg.largePool = bytes
	}
	return d
}

// WithStrictness tunes protocol acceptance (see stream.Strictness).
func (d *Daemon) WithStrictness(s stream.Strictness) *Daemon {
	if d.setter() {
		d.cfg.strict = s
	}
	return d
}

// WithLogger installs the embedder's logger. Without it the daemon
// builds one over the otel log bridge.
func (d *Daemon) WithLogger(log *slog.Logger) *Daemon {
	if d.setter() {
		d.log = log
	}
	return d
}

// WithTLS enables TLS with the given config. TLS connections are
// serviced on the thread-per-connection path.
func (d *Daemon) WithTLS(cfg *tls.Config) *Daemon {
	if d.setter() {
		d.cfg.tlsConfig = cfg
	}
	return d
}

// WithRecordLayer substitutes a custom encrypted transport for the
// built-in crypto/tls one. Same restriction as WithTLS: served on the
// thread-per-connection path.
func (d *Daemon) WithRecordLayer(factory RecordLayerFactory) *Daemon {
	if d.setter() {
		d.cfg.rlFactory = factory
	}
	return d
}

// WithTerminationCallback installs the per-request completion callback.
func (d *Daemon) WithTerminationCallback(cb TerminationFunc) *Daemon {
	if d.setter() {
		d.cfg.termCB = cb
	}
	return d
}

// WithDigestAuth provisions the daemon-wide nonce table. entropy seeds
// nonce generation; slots sizes the replay table; lifetimeSec bounds
// nonce validity.
func (d *Daemon) WithDigestAuth(entropy []byte, slots int, lifetimeSec uint32) *Daemon {
	if d.setter() {
		if len(entropy) == 0 {
			d.optErr = SCAuthEntropyMissing
			return d
		}
		d.cfg.digestEntropy = append([]byte(nil), entropy...)
		d.cfg.digestSlots = slots
		d.cfg.digestLifetime = lifetimeSec
	}
	return d
}
