package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Family selects the address family of a listening socket. Auto tries
// dual-stack v6 first and degrades: dual -> v6-only -> v4.
type Family uint8

const (
	FamilyAuto Family = iota
	FamilyV4
	FamilyV6
	FamilyDual
)

// ReuseMode maps to the platform binding options.
type ReuseMode uint8

const (
	ReuseNone      ReuseMode = iota
	ReuseShared              // SO_REUSEADDR + SO_REUSEPORT
	ReuseExclusive           // plain bind, fail on any conflict
)

// ListenConfig describes the listening endpoint to create.
type ListenConfig struct {
	Family        Family
	Port          uint16
	Backlog       int
	Reuse         ReuseMode
	FastOpen      bool
	FastOpenQueue int
	// Sockaddr overrides Family/Port when set (BIND_SA option).
	Sockaddr unix.Sockaddr
}

// Listener is a bound and listening socket.
type Listener struct {
	FD     int
	Port   uint16
	Family Family
	NonIP  bool
}

var ErrNoFamily = errors.New("socket: no usable address family")

// bindAttempt is the step of the v6->v4 degradation state machine.
type bindAttempt uint8

const (
	attemptInitial bindAttempt = iota
	attemptV6Dual
	attemptV6Only
	attemptV4
	attemptFailed
)

// Listen creates, binds and starts the listening socket, walking the
// family fallback chain for FamilyAuto/FamilyDual.
func Listen(cfg ListenConfig) (*Listener, error) {
	if cfg.Backlog <= 0 {
		cfg.Backlog = unix.SOMAXCONN
	}

	if cfg.Sockaddr != nil {
		return listenSockaddr(cfg)
	}

	attempt := attemptInitial
	var lastErr error
	for attempt != attemptFailed {
		var fam Family
		var v6only bool
		switch attempt {
		case attemptInitial:
			switch cfg.Family {
			case FamilyV4:
				attempt = attemptV4
				continue
			case FamilyV6:
				attempt = attemptV6Only
				continue
			default:
				attempt = attemptV6Dual
				continue
			}
		case attemptV6Dual:
			fam, v6only = FamilyV6, false
		case attemptV6Only:
			fam, v6only = FamilyV6, true
		case attemptV4:
			fam, v6only = FamilyV4, false
		}

		lst, err := tryListen(cfg, fam, v6only)
		if err == nil {
			if attempt == attemptV6Dual {
				lst.Family = FamilyDual
			}
			return lst, nil
		}
		lastErr = err

		// Only FamilyAuto may keep degrading; explicit requests fail hard.
		switch attempt {
		case attemptV6Dual:
			if cfg.Family == FamilyDual || cfg.Family == FamilyAuto {
				attempt = attemptV6Only
			} else {
				attempt = attemptFailed
			}
		case attemptV6Only:
			if cfg.Family == FamilyAuto {
				attempt = attemptV4
			} else {
				attempt = attemptFailed
			}
		default:
			attempt = attemptFailed
		}
	}
	if lastErr == nil {
		lastErr = ErrNoFamily
	}
	return nil, lastErr
}

func tryListen(cfg ListenConfig, fam Family, v6only bool) (*Listener, error) {
	domain := unix.AF_INET
	if fam == FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if domain == unix.AF_INET6 {
		v := 0
		if v6only {
			v = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v); err != nil && !v6only {
			return nil, fmt.Errorf("socket: v6only: %w", err)
		}
	}

	switch cfg.Reuse {
	case ReuseShared:
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err := setReusePort(fd); err != nil {
			return nil, fmt.Errorf("socket: reuseport: %w", err)
		}
	case ReuseNone:
		// Allow fast restart, but no load-balanced sharing.
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	case ReuseExclusive:
		// Nothing: any conflicting bind must fail.
	}

	var sa unix.Sockaddr
	if domain == unix.AF_INET6 {
		sa = &unix.SockaddrInet6{Port: int(cfg.Port)}
	} else {
		sa = &unix.SockaddrInet4{Port: int(cfg.Port)}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("socket: bind: %w", err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		return nil, fmt.Errorf("socket: listen: %w", err)
	}
	if cfg.FastOpen {
		q := cfg.FastOpenQueue
		if q <= 0 {
			q = 16
		}
		setFastOpen(fd, q) // best effort, older kernels lack it
	}

	port := cfg.Port
	if port == 0 {
		if bound, err := unix.Getsockname(fd); err == nil {
			switch b := bound.(type) {
			case *unix.SockaddrInet4:
				port = uint16(b.Port)
			case *unix.SockaddrInet6:
				port = uint16(b.Port)
			}
		}
	}

	ok = true
	return &Listener{FD: fd, Port: port, Family: fam}, nil
}

func listenSockaddr(cfg ListenConfig) (*Listener, error) {
	domain := unix.AF_INET
	nonIP := false
	switch cfg.Sockaddr.(type) {
	case *unix.SockaddrInet6:
		domain = unix.AF_INET6
	case *unix.SockaddrUnix:
		domain = unix.AF_UNIX
		nonIP = true
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if !nonIP && cfg.Reuse == ReuseShared {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		setReusePort(fd)
	}
	if err := unix.Bind(fd, cfg.Sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socket: bind: %w", err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socket: listen: %w", err)
	}
	return &Listener{FD: fd, NonIP: nonIP}, nil
}

// Accept pulls one pending connection, non-blocking, close-on-exec.
func (l *Listener) Accept() (int, unix.Sockaddr, Kind) {
	fd, sa, err := unix.Accept4(l.FD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, ClassifyErr(err)
	}
	return fd, sa, KindOk
}

// Close shuts the listening socket down.
func (l *Listener) Close() {
	if l.FD >= 0 {
		unix.Close(l.FD)
		l.FD = -1
	}
}
