package daemon

import (
	"golang.org/x/sys/unix"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// poller abstracts the readiness multiplexer behind one worker.
//
// Connection readiness is sticky: wait only ever sets the
// recvReady/sendReady bits, the worker clears them when a syscall
// reports EAGAIN. wait also raises the worker's itcReady/listenReady
// flags and queues every connection it touched for processing.
type poller interface {
	// register is called once right after accept, before first use.
	register(c *Conn) StatusCode
	// unregister is called before the descriptor closes.
	unregister(c *Conn)
	wait(w *worker, timeoutMS int) StatusCode
	close()
}

// wantedEvents derives the poll interest from the stream state and the
// sticky bits. Level-triggered pollers rebuild their sets from this
// every turn.
func (c *Conn) wantedEvents() int16 {
	if c.suspended.Load() || c.upgraded != nil || c.closing {
		return 0
	}
	var ev int16
	switch c.strm.Interest() {
	case stream.InterestRecvOnly:
		if !c.recvReady {
			ev |= unix.POLLIN
		}
	case stream.InterestSendOnly:
		if !c.sendReady {
			ev |= unix.POLLOUT
		}
	case stream.InterestProcess:
		// waiting on the application, no socket interest
	}
	return ev
}

// pollPoller drives poll(2) with per-turn rebuilt descriptor sets.
type pollPoller struct {
	itcFD    int
	listenFD int
	fds      []unix.PollFd
	refs     []*Conn
}

func newPollPoller(itcFD, listenFD int) *pollPoller {
	return &pollPoller{itcFD: itcFD, listenFD: listenFD}
}

func (p *pollPoller) register(c *Conn) StatusCode { return SCOK }
func (p *pollPoller) unregister(c *Conn)          {}
func (p *pollPoller) close()                      {}

func (p *pollPoller) wait(w *worker, timeoutMS int) StatusCode {
	p.fds = p.fds[:0]
	p.refs = p.refs[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.itcFD), Events: unix.POLLIN})
	p.refs = append(p.refs, nil)
	if p.listenFD >= 0 && w.acceptOpen() {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(p.listenFD), Events: unix.POLLIN})
		p.refs = append(p.refs, nil)
	}
	for c := w.conns.head; c != nil; c = c.allNext {
		ev := c.wantedEvents()
		if ev == 0 {
			continue
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(c.fd.Raw), Events: ev})
		p.refs = append(p.refs, c)
	}

	n, err := unix.Poll(p.fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return SCOK
		}
		return SCPollFailure
	}
	if n == 0 {
		return SCOK
	}
	for i := range p.fds {
		re := p.fds[i].Revents
		if re == 0 {
			continue
		}
		c := p.refs[i]
		if c == nil {
			if int(p.fds[i].Fd) == p.itcFD {
				w.itcReady = true
			} else {
				w.listenReady = true
			}
			continue
		}
		if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			c.recvReady = true
		}
		if re&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
			c.sendReady = true
		}
		w.proc.push(c)
	}
	return SCOK
}

// fdSetSize is the hard select(2) ceiling; Start caps the connection
// and descriptor limits below it when this poller is chosen.
const fdSetSize = 1024

// selectPoller drives select(2). Kept for platforms and embedders that
// cannot use anything better.
type selectPoller struct {
	itcFD    int
	listenFD int
}

func newSelectPoller(itcFD, listenFD int) *selectPoller {
	return &selectPoller{itcFD: itcFD, listenFD: listenFD}
}

func (p *selectPoller) register(c *Conn) StatusCode {
	if c.fd.Raw >= fdSetSize {
		return SCFDLimitReached
	}
	return SCOK
}
func (p *selectPoller) unregister(c *Conn) {}
func (p *selectPoller) close()             {}

func (p *selectPoller) wait(w *worker, timeoutMS int) StatusCode {
	var rset, wset unix.FdSet
	rset.Zero()
	wset.Zero()
	maxFD := p.itcFD
	rset.Set(p.itcFD)
	if p.listenFD >= 0 && w.acceptOpen() {
		rset.Set(p.listenFD)
		if p.listenFD > maxFD {
			maxFD = p.listenFD
		}
	}
	for c := w.conns.head; c != nil; c = c.allNext {
		ev := c.wantedEvents()
		if ev == 0 || c.fd.Raw >= fdSetSize {
			continue
		}
		if ev&unix.POLLIN != 0 {
			rset.Set(c.fd.Raw)
		}
		if ev&unix.POLLOUT != 0 {
			wset.Set(c.fd.Raw)
		}
		if c.fd.Raw > maxFD {
			maxFD = c.fd.Raw
		}
	}

	var tvp *unix.Timeval
	var tv unix.Timeval
	if timeoutMS >= 0 {
		tv = unix.NsecToTimeval(int64(timeoutMS) * 1e6)
		tvp = &tv
	}
	n, err := unix.Select(maxFD+1, &rset, &wset, nil, tvp)
	if err != nil {
		if err == unix.EINTR {
			return SCOK
		}
		return SCSelectFailure
	}
	if n <= 0 {
		return SCOK
	}
	if rset.IsSet(p.itcFD) {
		w.itcReady = true
	}
	if p.listenFD >= 0 && rset.IsSet(p.listenFD) {
		w.listenReady = true
	}
	for c := w.conns.head; c != nil; c = c.allNext {
		if c.fd.Raw < 0 || c.fd.Raw >= fdSetSize {
			continue
		}
		hit := false
		if rset.IsSet(c.fd.Raw) {
			c.recvReady = true
			hit = true
		}
		if wset.IsSet(c.fd.Raw) {
			c.sendReady = true
			hit = true
		}
		if hit {
			w.proc.push(c)
		}
	}
	return SCOK
}
