//go:build linux

package socket

import "golang.org/x/sys/unix"

// Sendfile transfers up to count bytes from file at off straight to the
// socket. fallback=true tells the stream to clear its use-sendfile flag
// and re-route through the memory path on the next round; it covers the
// errno set where sendfile cannot work for this pairing as well as a
// zero-byte result without error.
func (fd *FD) Sendfile(file int, off int64, count int, push bool) (n int, k Kind, fallback bool) {
	fd.beforeSend(push, false)
	offset := off
	n, err := unix.Sendfile(fd.Raw, file, &offset, count)
	if err != nil {
		switch ClassifyErr(err) {
		case KindInval, KindOpnotsupp:
			return 0, KindOk, true
		}
		if errno, ok := err.(unix.Errno); ok {
			if errno == unix.EIO || errno == unix.EAFNOSUPPORT {
				return 0, KindOk, true
			}
		}
		return 0, ClassifyErr(err), false
	}
	if n == 0 && count > 0 {
		return 0, KindOk, true
	}
	fd.afterSend(push, n == count)
	return n, KindOk, false
}

const sendfileSupported = true
