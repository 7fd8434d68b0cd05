package socket

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func testPair(t *testing.T) (*FD, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[1])
	})
	fd := NewAccepted(fds[0], TriMaybe, true)
	t.Cleanup(func() {
		if fd.Raw >= 0 {
			fd.Close()
		}
	})
	return fd, fds[1]
}

func TestSendDataRoundtrip(t *testing.T) {
	fd, peer := testPair(t)

	msg := []byte("hello engine")
	n, k := fd.SendData(msg, true)
	if k != KindOk || n != len(msg) {
		t.Fatalf("SendData: n=%d kind=%v", n, k)
	}

	buf := make([]byte, 64)
	rn, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if !bytes.Equal(buf[:rn], msg) {
		t.Errorf("expected %q, got %q", msg, buf[:rn])
	}
}

func TestSendDataPartialCount(t *testing.T) {
	fd, peer := testPair(t)

	// More than the socket buffer holds: the kernel takes what fits and
	// the call must report exactly that count.
	big := bytes.Repeat([]byte("p"), 4<<20)
	n, k := fd.SendData(big, true)
	if k != KindOk || n <= 0 || n >= len(big) {
		t.Fatalf("SendData: n=%d kind=%v, want partial accept", n, k)
	}

	got := 0
	buf := make([]byte, 64<<10)
	for got < n {
		rn, err := unix.Read(peer, buf)
		if err != nil {
			t.Fatalf("peer read after %d bytes: %v", got, err)
		}
		got += rn
	}
	if got != n {
		t.Errorf("peer read %d bytes, send reported %d", got, n)
	}
}

func TestSendHdrAndBodySingleSegment(t *testing.T) {
	fd, peer := testPair(t)

	hdr := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n")
	body := []byte("hi")
	n, k := fd.SendHdrAndBody(hdr, body, true)
	if k != KindOk || n != len(hdr)+len(body) {
		t.Fatalf("SendHdrAndBody: n=%d kind=%v", n, k)
	}

	buf := make([]byte, 256)
	rn, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	want := append(append([]byte{}, hdr...), body...)
	if !bytes.Equal(buf[:rn], want) {
		t.Errorf("expected %q, got %q", want, buf[:rn])
	}
}

func TestSendIovec(t *testing.T) {
	fd, peer := testPair(t)

	pieces := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	n, k := fd.SendIovec(pieces, true)
	if k != KindOk || n != 6 {
		t.Fatalf("SendIovec: n=%d kind=%v", n, k)
	}
	buf := make([]byte, 16)
	rn, _ := unix.Read(peer, buf)
	if string(buf[:rn]) != "abbccc" {
		t.Errorf("expected abbccc, got %q", buf[:rn])
	}
}

func TestRecvPeerShutdown(t *testing.T) {
	fd, peer := testPair(t)

	unix.Write(peer, []byte("x"))
	unix.Shutdown(peer, unix.SHUT_WR)

	buf := make([]byte, 8)
	n, k := fd.Recv(buf)
	if k != KindOk || n != 1 || buf[0] != 'x' {
		t.Fatalf("first recv: n=%d kind=%v", n, k)
	}
	if fd.RmtShutWr {
		t.Error("RmtShutWr set too early")
	}
	n, k = fd.Recv(buf)
	if k != KindOk || n != 0 {
		t.Fatalf("second recv: n=%d kind=%v", n, k)
	}
	if !fd.RmtShutWr {
		t.Error("RmtShutWr not set after zero-length read")
	}
}

func TestRecvAgain(t *testing.T) {
	fd, _ := testPair(t)
	buf := make([]byte, 8)
	n, k := fd.Recv(buf)
	if k != KindAgain || n != 0 {
		t.Errorf("expected again on empty non-blocking socket, got n=%d kind=%v", n, k)
	}
}

func TestSendAfterPeerClose(t *testing.T) {
	fd, peer := testPair(t)
	unix.Close(peer)

	// First send may be swallowed by the kernel buffer; the second must
	// report a hard error.
	fd.SendData([]byte("x"), true)
	_, k := fd.SendData([]byte("y"), true)
	if !k.Hard() {
		t.Errorf("expected hard error after peer close, got %v", k)
	}
}
