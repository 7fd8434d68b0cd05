package itc

import (
	"testing"

	"golang.org/x/sys/unix"
)

func pollReadable(t *testing.T, fd int, timeoutMs int) bool {
	t.Helper()
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	return n == 1 && pfds[0].Revents&unix.POLLIN != 0
}

func TestActivateMakesReadable(t *testing.T) {
	wake, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wake.Close()

	if pollReadable(t, wake.ReadFD(), 0) {
		t.Fatal("fresh ITC should not be readable")
	}
	if err := wake.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !pollReadable(t, wake.ReadFD(), 1000) {
		t.Fatal("activated ITC should be readable")
	}
}

func TestClearDrainsAllSignals(t *testing.T) {
	wake, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wake.Close()

	for i := 0; i < 5; i++ {
		if err := wake.Activate(); err != nil {
			t.Fatalf("Activate #%d: %v", i, err)
		}
	}
	wake.Clear()
	if pollReadable(t, wake.ReadFD(), 0) {
		t.Error("cleared ITC should not be readable")
	}
}

func TestActivateFromManyWriters(t *testing.T) {
	wake, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wake.Close()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- wake.Activate() }()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Activate: %v", err)
		}
	}
	if !pollReadable(t, wake.ReadFD(), 1000) {
		t.Error("ITC should be readable after concurrent activates")
	}
	wake.Clear()
}

func TestFDCount(t *testing.T) {
	wake, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wake.Close()
	if c := wake.FDCount(); c != 1 && c != 2 {
		t.Errorf("FDCount must be 1 (eventfd) or 2 (pipe), got %d", c)
	}
}

func TestActivateAfterClose(t *testing.T) {
	wake, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wake.Close()
	if err := wake.Activate(); err == nil {
		t.Error("Activate on a destroyed ITC should fail")
	}
}
