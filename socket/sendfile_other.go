//go:build !linux

package socket

// Sendfile always asks for the memory-path fallback where the engine has
// no native zero-copy send.
func (fd *FD) Sendfile(file int, off int64, count int, push bool) (int, Kind, bool) {
	return 0, KindOk, true
}

const sendfileSupported = false
