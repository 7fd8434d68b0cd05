package socket

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestListenAutoFallback(t *testing.T) {
	lst, err := Listen(ListenConfig{Family: FamilyAuto, Port: 0})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	if lst.Port == 0 {
		t.Error("expected an ephemeral port to be reported")
	}
	if lst.Family != FamilyDual && lst.Family != FamilyV6 && lst.Family != FamilyV4 {
		t.Errorf("unexpected family %v", lst.Family)
	}
}

func TestListenV4AndConnect(t *testing.T) {
	lst, err := Listen(ListenConfig{Family: FamilyV4, Port: 0, Reuse: ReuseNone})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(cfd)

	sa := &unix.SockaddrInet4{Port: int(lst.Port), Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Connect(cfd, sa); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Non-blocking accept may need a moment for the handshake to land.
	var afd int
	var kind Kind
	for i := 0; i < 100; i++ {
		afd, _, kind = lst.Accept()
		if kind != KindAgain {
			break
		}
		unix.Poll([]unix.PollFd{{Fd: int32(lst.FD), Events: unix.POLLIN}}, 100)
	}
	if kind != KindOk {
		t.Fatalf("accept: %v", kind)
	}
	unix.Close(afd)
}

func TestListenSharedReuse(t *testing.T) {
	a, err := Listen(ListenConfig{Family: FamilyV4, Port: 0, Reuse: ReuseShared})
	if err != nil {
		t.Fatalf("first listener: %v", err)
	}
	defer a.Close()

	b, err := Listen(ListenConfig{Family: FamilyV4, Port: a.Port, Reuse: ReuseShared})
	if err != nil {
		t.Fatalf("second shared listener on same port: %v", err)
	}
	b.Close()
}

func TestListenExclusiveConflict(t *testing.T) {
	a, err := Listen(ListenConfig{Family: FamilyV4, Port: 0, Reuse: ReuseExclusive})
	if err != nil {
		t.Fatalf("first listener: %v", err)
	}
	defer a.Close()

	if _, err := Listen(ListenConfig{Family: FamilyV4, Port: a.Port, Reuse: ReuseExclusive}); err == nil {
		t.Error("expected second exclusive bind on same port to fail")
	}
}
