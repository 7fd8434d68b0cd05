package socket

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassifyErrno(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  Kind
	}{
		{0, KindOk},
		{unix.EAGAIN, KindAgain},
		{unix.EINTR, KindIntr},
		{unix.ENOMEM, KindNomem},
		{unix.ENOBUFS, KindNomem},
		{unix.ECONNRESET, KindConnReset},
		{unix.ECONNABORTED, KindConnBroken},
		{unix.ENETDOWN, KindConnBroken},
		{unix.ENOTCONN, KindNotConn},
		{unix.EPIPE, KindPipe},
		{unix.EBADF, KindBadf},
		{unix.EINVAL, KindInval},
		{unix.EOPNOTSUPP, KindOpnotsupp},
		{unix.ENOTSOCK, KindNotsock},
		{unix.EFAULT, KindOther},
	}
	for _, c := range cases {
		if got := ClassifyErrno(c.errno); got != c.want {
			t.Errorf("ClassifyErrno(%v): expected %v, got %v", c.errno, c.want, got)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	hard := []Kind{KindConnReset, KindConnBroken, KindNotConn, KindPipe, KindRemoteDisconn, KindTLS, KindNomem}
	for _, k := range hard {
		if !k.Hard() {
			t.Errorf("%v should be hard", k)
		}
		if k.Bad() {
			t.Errorf("%v should not be bad", k)
		}
	}
	bad := []Kind{KindBadf, KindInval, KindOpnotsupp, KindNotsock, KindInternal}
	for _, k := range bad {
		if !k.Bad() {
			t.Errorf("%v should be bad", k)
		}
	}
	soft := []Kind{KindOk, KindAgain, KindIntr, KindNotChecked}
	for _, k := range soft {
		if k.Hard() || k.Bad() {
			t.Errorf("%v should be neither hard nor bad", k)
		}
	}
}

func TestLastErrorKindCleanSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if got := LastErrorKind(fds[0]); got != KindOk {
		t.Errorf("expected ok on a clean socket, got %v", got)
	}
}

func TestLastErrorKindBadFd(t *testing.T) {
	if got := LastErrorKind(-1); got != KindBadf {
		t.Errorf("expected badf, got %v", got)
	}
}
