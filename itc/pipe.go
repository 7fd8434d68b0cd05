package itc

import "golang.org/x/sys/unix"

func newPipe() (*ITC, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &ITC{r: p[0], w: p[1]}, nil
}
