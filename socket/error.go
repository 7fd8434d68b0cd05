// Package socket wraps raw TCP sockets with the send/recv machinery the
// connection engine needs: errno classification, kernel buffering control
// (cork / nodelay), vectored sends, sendfile and listener setup.
package socket

import (
	"golang.org/x/sys/unix"
)

// Kind is the closed taxonomy of socket operation outcomes.
type Kind uint8

const (
	KindOk Kind = iota
	KindAgain
	KindIntr
	KindNomem
	KindRemoteDisconn
	KindConnReset
	KindConnBroken
	KindNotConn
	KindTLS
	KindPipe
	KindNotChecked
	KindBadf
	KindInval
	KindOpnotsupp
	KindNotsock
	KindOther
	KindInternal
)

var kindNames = [...]string{
	KindOk:            "ok",
	KindAgain:         "again",
	KindIntr:          "intr",
	KindNomem:         "nomem",
	KindRemoteDisconn: "remote_disconn",
	KindConnReset:     "connreset",
	KindConnBroken:    "conn_broken",
	KindNotConn:       "notconn",
	KindTLS:           "tls",
	KindPipe:          "pipe",
	KindNotChecked:    "not_checked",
	KindBadf:          "badf",
	KindInval:         "inval",
	KindOpnotsupp:     "opnotsupp",
	KindNotsock:       "notsock",
	KindOther:         "other",
	KindInternal:      "internal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Hard reports whether the connection cannot be used any further.
func (k Kind) Hard() bool {
	switch k {
	case KindRemoteDisconn, KindConnReset, KindConnBroken, KindNotConn,
		KindTLS, KindPipe, KindNomem:
		return true
	}
	return false
}

// Bad reports an invariant failure worth logging: the socket was misused
// or the descriptor is not what the engine thinks it is.
func (k Kind) Bad() bool {
	switch k {
	case KindBadf, KindInval, KindOpnotsupp, KindNotsock, KindInternal:
		return true
	}
	return false
}

// ClassifyErrno maps an OS error from send/recv into a Kind.
func ClassifyErrno(errno unix.Errno) Kind {
	switch errno {
	case 0:
		return KindOk
	case unix.EAGAIN:
		return KindAgain
	case unix.EINTR:
		return KindIntr
	case unix.ENOMEM, unix.ENOBUFS:
		return KindNomem
	case unix.ECONNRESET:
		return KindConnReset
	case unix.ECONNABORTED, unix.ENETDOWN, unix.ENETRESET, unix.ENETUNREACH,
		unix.EHOSTUNREACH, unix.ESHUTDOWN, unix.ETIMEDOUT:
		return KindConnBroken
	case unix.ENOTCONN:
		return KindNotConn
	case unix.EPIPE:
		return KindPipe
	case unix.EBADF:
		return KindBadf
	case unix.EINVAL:
		return KindInval
	case unix.EOPNOTSUPP:
		return KindOpnotsupp
	case unix.ENOTSOCK:
		return KindNotsock
	default:
		if errno == unix.EWOULDBLOCK {
			return KindAgain
		}
		return KindOther
	}
}

// ClassifyErr is ClassifyErrno for the error returned by x/sys wrappers.
func ClassifyErr(err error) Kind {
	if err == nil {
		return KindOk
	}
	if errno, ok := err.(unix.Errno); ok {
		return ClassifyErrno(errno)
	}
	return KindOther
}

// LastErrorKind drains the pending SO_ERROR of a socket that entered the
// error-ready state with no classified cause. A bad-fd or not-a-socket
// failure of the query itself wins over the queried value.
func LastErrorKind(fd int) Kind {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		k := ClassifyErr(err)
		if k == KindBadf || k == KindNotsock {
			return k
		}
		return KindNotChecked
	}
	if soErr == 0 {
		return KindOk
	}
	return ClassifyErrno(unix.Errno(soErr))
}
