//go:build !linux

package daemon

// newPoller picks the multiplexer on platforms without epoll.
func (d *Daemon) newPoller(itcFD, listenFD int) (poller, StatusCode) {
	switch d.cfg.poll {
	case PollAuto, PollPoll:
		return newPollPoller(itcFD, listenFD), SCOK
	case PollSelect:
		return newSelectPoller(itcFD, listenFD), SCOK
	case PollEpoll:
		return nil, SCOptionUnsupported
	}
	return nil, SCOptionInvalid
}
