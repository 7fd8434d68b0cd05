package daemon

import (
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// Handler decides what to do with a fully parsed request.
type Handler func(req *Request) Action

// UploadFunc receives decoded request body bytes. final marks the call
// made once the body is complete (with an empty chunk). The returned
// Action is examined only on the final call; intermediate calls may
// return Continue or Suspend.
type UploadFunc func(req *Request, chunk []byte, final bool) Action

// UpgradeFunc takes over the connection after the 101 response was
// flushed. residual holds bytes the client sent ahead of the switch.
// It runs on its own goroutine; the handle stays valid until Close.
type UpgradeFunc func(req *Request, up *Upgraded, residual []byte)

// TerminationFunc observes the end of every request cycle.
type TerminationFunc func(req *Request, term Termination)

type actionKind uint8

const (
	actionContinue actionKind = iota
	actionRespond
	actionUpload
	actionSuspend
	actionUpgrade
	actionAbort
)

// Action is the handler's verdict on a request.
type Action struct {
	kind    actionKind
	reply   *stream.Reply
	upload  UploadFunc
	upgrade UpgradeFunc
	proto   []byte
}

// Respond queues the given reply.
func Respond(r *stream.Reply) Action {
	return Action{kind: actionRespond, reply: r}
}

// Upload routes the request body to cb before answering.
func Upload(cb UploadFunc) Action {
	return Action{kind: actionUpload, upload: cb}
}

// Suspend parks the connection until RequestResume. No timeout applies
// while parked.
func Suspend() Action {
	return Action{kind: actionSuspend}
}

// Upgrade answers 101 with the given protocol token and hands the raw
// connection to cb.
func Upgrade(proto string, cb UpgradeFunc) Action {
	return Action{kind: actionUpgrade, upgrade: cb, proto: []byte(proto)}
}

// Continue defers the decision inside an upload callback chain.
func Continue() Action {
	return Action{kind: actionContinue}
}

// Abort drops the connection without a response.
func Abort() Action {
	return Action{kind: actionAbort}
}

// Request is the per-cycle view handed to handlers and callbacks. It
// wraps the connection; all accessors are only valid until the cycle
// ends (keep-alive reuse or close).
type Request struct {
	conn *Conn
}

// HTTP exposes the parsed request line and header fields.
func (r *Request) HTTP() *stream.Request { return &r.conn.strm.Request }

// Method returns the parsed method enum.
func (r *Request) Method() stream.Method { return r.conn.strm.Request.Method }

// Path returns the request target before any '?'.
func (r *Request) Path() []byte { return r.conn.strm.Request.Path }

// Query returns the raw query string without the '?'.
func (r *Request) Query() []byte { return r.conn.strm.Request.Query }

// Header returns the first header with the given name.
func (r *Request) Header(name string) ([]byte, bool) {
	return r.conn.strm.Request.HeaderValue(name)
}

// ConnID is the stable identifier of the underlying connection.
func (r *Request) ConnID() uuid.UUID { return r.conn.id }

// Daemon returns the owning daemon, for Resume and info calls.
func (r *Request) Daemon() *Daemon { return r.conn.daemon }

// PeerSockaddr returns the raw peer address.
func (r *Request) PeerSockaddr() unix.Sockaddr { return r.conn.peer }

// PeerIP returns the client address in text form, without port. Empty
// for unix-domain peers.
func (r *Request) PeerIP() string { return r.conn.peerIP }

// SetTimeout overrides the daemon inactivity timeout for this
// connection. Zero disables it entirely. Only valid from the handler
// and upload callbacks, which run on the connection's owner.
func (r *Request) SetTimeout(seconds int) StatusCode {
	if seconds < 0 {
		return SCOptionInvalid
	}
	c := r.conn
	c.timeoutHome().remove(c)
	c.custTimeout = seconds
	// Private connections track their deadline inline, not in a list.
	if seconds > 0 && !c.private && !c.suspended.Load() {
		c.timeoutHome().pushBack(c)
	}
	return SCOK
}

// PeerAddr copies the binary peer address (4 or 16 bytes) into buf and
// returns the length written. A short buffer yields SCInfoBuffTooSmall
// with the required length.
func (r *Request) PeerAddr(buf []byte) (int, StatusCode) {
	var ip []byte
	switch sa := r.conn.peer.(type) {
	case *unix.SockaddrInet4:
		ip = sa.Addr[:]
	case *unix.SockaddrInet6:
		ip = sa.Addr[:]
	default:
		return 0, SCInfoTypeNotApplicable
	}
	if len(buf) < len(ip) {
		return len(ip), SCInfoBuffTooSmall
	}
	return copy(buf, ip), SCOK
}
