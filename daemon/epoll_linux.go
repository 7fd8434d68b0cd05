//go:build linux

package daemon

import "golang.org/x/sys/unix"

// epollPoller drives epoll in edge-triggered mode for connections and
// level-triggered mode for the wake pipe and the listener.
type epollPoller struct {
	epfd     int
	itcFD    int
	listenFD int
	events   []unix.EpollEvent
	byFD     map[int]*Conn
}

const epollBatch = 4096

func newEpollPoller(itcFD, listenFD int) (*epollPoller, StatusCode) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, SCEpollCreateFailure
	}
	p := &epollPoller{
		epfd:     epfd,
		itcFD:    itcFD,
		listenFD: listenFD,
		events:   make([]unix.EpollEvent, epollBatch),
		byFD:     make(map[int]*Conn),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(itcFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, itcFD, &ev); err != nil {
		unix.Close(epfd)
		return nil, SCEpollCtlFailure
	}
	if listenFD >= 0 {
		// EPOLLEXCLUSIVE keeps pool workers from all waking per accept.
		ev = unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLEXCLUSIVE, Fd: int32(listenFD)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, &ev); err != nil {
			// Exclusive wakeups are best effort; old kernels get plain level mode.
			ev = unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFD)}
			if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, &ev); err != nil {
				unix.Close(epfd)
				return nil, SCEpollCtlFailure
			}
		}
	}
	return p, SCOK
}

func (p *epollPoller) register(c *Conn) StatusCode {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(c.fd.Raw),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, c.fd.Raw, &ev); err != nil {
		return SCEpollCtlFailure
	}
	p.byFD[c.fd.Raw] = c
	return SCOK
}

func (p *epollPoller) unregister(c *Conn) {
	if c.fd.Raw < 0 {
		return
	}
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd.Raw, nil)
	delete(p.byFD, c.fd.Raw)
}

func (p *epollPoller) close() {
	unix.Close(p.epfd)
	p.epfd = -1
}

func (p *epollPoller) wait(w *worker, timeoutMS int) StatusCode {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return SCOK
		}
		return SCPollFailure
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Fd)
		switch fd {
		case p.itcFD:
			w.itcReady = true
			continue
		case p.listenFD:
			w.listenReady = true
			continue
		}
		c := p.byFD[fd]
		if c == nil {
			continue
		}
		bits := ev.Events
		if bits&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			c.recvReady = true
		}
		if bits&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			c.sendReady = true
		}
		w.proc.push(c)
	}
	return SCOK
}

// newPoller picks the multiplexer: epoll unless the embedder forced
// something weaker.
func (d *Daemon) newPoller(itcFD, listenFD int) (poller, StatusCode) {
	switch d.cfg.poll {
	case PollAuto, PollEpoll:
		return newEpollPoller(itcFD, listenFD)
	case PollPoll:
		return newPollPoller(itcFD, listenFD), SCOK
	case PollSelect:
		return newSelectPoller(itcFD, listenFD), SCOK
	}
	return nil, SCOptionInvalid
}
