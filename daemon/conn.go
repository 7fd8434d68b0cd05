package daemon

import (
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/mempool"
	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// Conn is one accepted connection. It is owned by exactly one worker;
// only the suspended/resumePending flags and the upgrade handle are
// touched from other goroutines.
type Conn struct {
	daemon *Daemon
	worker *worker

	id     uuid.UUID
	fd     *socket.FD
	peer   unix.Sockaddr
	peerIP string

	pool *mempool.Pool
	strm *stream.Stream
	req  Request

	// Sticky readiness. Edge-triggered pollers set these once; the
	// worker clears them again on EAGAIN.
	recvReady bool
	sendReady bool

	lastActivity int64 // unix seconds, timeout list ordering key
	custTimeout  int   // seconds; negative means the daemon default

	upload    UploadFunc
	upgradeCB UpgradeFunc
	upgraded  *Upgraded

	record RecordLayer // non-nil on the TLS path

	// intrusive list links, worker-owned
	allPrev, allNext *Conn
	inAll            bool
	toPrev, toNext   *Conn
	inTimeout        bool
	procNext         *Conn
	inProc           bool

	suspended     atomic.Bool
	resumePending atomic.Bool

	// private connections run on their own goroutine instead of the
	// worker's poller (thread-per-connection mode, TLS).
	private  bool
	resumeCh chan struct{}

	evCtx *EventCtx // external events mode registration token

	cycleOpen   bool
	needHandler bool // re-ask the handler after a resume
	termFired   bool
	closing     bool
}

func newConn(d *Daemon, w *worker, raw int, sa unix.Sockaddr, nonIP bool) *Conn {
	pool := mempool.New(d.cfg.connMemLimit)
	c := &Conn{
		daemon:       d,
		worker:       w,
		id:           uuid.New(),
		fd:           socket.NewAccepted(raw, socket.TriMaybe, nonIP),
		peer:         sa,
		peerIP:       sockaddrIP(sa),
		pool:         pool,
		lastActivity: d.nowUnix(),
		custTimeout:  -1,
	}
	c.strm = stream.New(pool, d.cfg.strict, d.large.growFunc())
	c.req.conn = c
	return c
}

// sockaddrIP renders the peer address for per-IP accounting and logs.
func sockaddrIP(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	}
	return ""
}

// timeoutSecs is the effective inactivity limit: the per-connection
// override when set, the daemon default otherwise. Zero disables.
func (c *Conn) timeoutSecs() int {
	if c.custTimeout >= 0 {
		return c.custTimeout
	}
	return c.daemon.cfg.timeoutSec
}

// timeoutHome is the list this connection expires from. Default-timeout
// connections share one activity-ordered list; overridden ones live in
// a second list that is scanned in full.
func (c *Conn) timeoutHome() *timeoutList {
	if c.custTimeout >= 0 {
		return &c.worker.custTimeouts
	}
	return &c.worker.timeouts
}

// touch refreshes the inactivity clock and the timeout list position.
func (c *Conn) touch() {
	c.lastActivity = c.daemon.nowUnix()
	if c.inTimeout {
		c.timeoutHome().moveToTail(c)
	}
}

// startNewCycle rearms per-request state for the next request on a
// kept-alive connection.
func (c *Conn) startNewCycle() {
	c.upload = nil
	c.upgradeCB = nil
	c.cycleOpen = false
	c.termFired = false
}

// recvBytes reads from the transport: raw socket or record layer.
func (c *Conn) recvBytes(buf []byte) (int, socket.Kind) {
	if c.record != nil {
		n, err := c.record.Read(buf)
		if err == io.EOF {
			c.fd.RmtShutWr = true
			return n, socket.KindOk
		}
		if err != nil {
			return n, classifyNetErr(err)
		}
		return n, socket.KindOk
	}
	return c.fd.Recv(buf)
}

// sendBytes writes to the transport. push is meaningless through TLS,
// where record boundaries dominate segment boundaries anyway.
func (c *Conn) sendBytes(pieces [][]byte, push bool) (int, socket.Kind) {
	if c.record != nil {
		total := 0
		for _, p := range pieces {
			n, err := c.record.Write(p)
			total += n
			if err != nil {
				return total, classifyNetErr(err)
			}
		}
		return total, socket.KindOk
	}
	if len(pieces) == 1 {
		return c.fd.SendData(pieces[0], push)
	}
	return c.fd.SendIovec(pieces, push)
}
