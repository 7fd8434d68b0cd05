package daemon

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
)

// RecordLayer is the encrypted-transport surface the connection engine
// drives instead of the raw descriptor. crypto/tls satisfies it; an
// embedder may supply another implementation through WithRecordLayer.
type RecordLayer interface {
	io.Reader
	io.Writer
	Close() error
	SetReadDeadline(t time.Time) error
}

// RecordLayerFactory wraps an accepted connection. It performs the
// handshake before returning.
type RecordLayerFactory func(raw net.Conn) (RecordLayer, error)

// fdConn adapts a raw non-blocking descriptor to net.Conn so
// crypto/tls can drive it. Blocking is emulated with poll, honoring
// the deadlines the record layer sets. Reads without an explicit
// deadline give up after a second so the serving loop can check the
// inactivity clock and the stop flag between waits.
type fdConn struct {
	fd *socket.FD

	mu        sync.Mutex
	rDeadline time.Time
	wDeadline time.Time
}

const fdConnReadSlice = time.Second

func newFDConn(fd *socket.FD) *fdConn {
	return &fdConn{fd: fd}
}

// kindError carries a socket error class through the net.Conn surface.
type kindError struct{ k socket.Kind }

func (e kindError) Error() string { return "socket: " + e.k.String() }

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, k := c.fd.Recv(p)
		switch k {
		case socket.KindOk:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case socket.KindAgain, socket.KindIntr:
			if err := c.wait(unix.POLLIN, c.deadline(true)); err != nil {
				return 0, err
			}
		default:
			return 0, kindError{k}
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, k := c.fd.SendData(p[sent:], true)
		sent += n
		switch k {
		case socket.KindOk:
		case socket.KindAgain, socket.KindIntr:
			if err := c.wait(unix.POLLOUT, c.deadline(false)); err != nil {
				return sent, err
			}
		default:
			return sent, kindError{k}
		}
	}
	return sent, nil
}

func (c *fdConn) deadline(read bool) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if read {
		if c.rDeadline.IsZero() {
			return time.Now().Add(fdConnReadSlice)
		}
		return c.rDeadline
	}
	return c.wDeadline
}

func (c *fdConn) wait(events int16, deadline time.Time) error {
	tmo := -1
	if !deadline.IsZero() {
		left := time.Until(deadline)
		if left <= 0 {
			return os.ErrDeadlineExceeded
		}
		tmo = int(left / time.Millisecond)
		if tmo == 0 {
			tmo = 1
		}
	}
	pfd := []unix.PollFd{{Fd: int32(c.fd.Raw), Events: events}}
	n, err := unix.Poll(pfd, tmo)
	if err != nil && err != unix.EINTR {
		return err
	}
	if n <= 0 {
		return os.ErrDeadlineExceeded
	}
	return nil
}

func (c *fdConn) Close() error { return c.fd.Close() }

func (c *fdConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.rDeadline, c.wDeadline = t, t
	c.mu.Unlock()
	return nil
}

func (c *fdConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.rDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *fdConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.wDeadline = t
	c.mu.Unlock()
	return nil
}

type rawAddr string

func (rawAddr) Network() string  { return "tcp" }
func (a rawAddr) String() string { return string(a) }

func (c *fdConn) LocalAddr() net.Addr  { return rawAddr("") }
func (c *fdConn) RemoteAddr() net.Addr { return rawAddr("") }

// classifyNetErr folds net.Conn errors back into the socket taxonomy
// the connection engine works with.
func classifyNetErr(err error) socket.Kind {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return socket.KindAgain
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return socket.KindRemoteDisconn
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return socket.KindAgain
	}
	var ke kindError
	if errors.As(err, &ke) {
		return ke.k
	}
	return socket.KindConnBroken
}

func upgradedTLSStatus(err error) UpgradedStatus {
	switch classifyNetErr(err) {
	case socket.KindAgain:
		return UpNetTimeout
	case socket.KindRemoteDisconn, socket.KindConnReset:
		return UpNetConnClosed
	case socket.KindConnBroken, socket.KindPipe:
		return UpNetConnBroken
	}
	return UpTLSError
}
