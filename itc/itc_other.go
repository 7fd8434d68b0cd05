//go:build !linux

package itc

// New creates the wake channel over a non-blocking pipe.
func New() (*ITC, error) {
	return newPipe()
}
