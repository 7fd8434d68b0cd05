//go:build linux

package itc

import "golang.org/x/sys/unix"

// New creates the wake channel, preferring eventfd and falling back to a
// pipe if the kernel refuses.
func New() (*ITC, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err == nil {
		return &ITC{r: fd, w: fd, eventfd: true}, nil
	}
	return newPipe()
}
