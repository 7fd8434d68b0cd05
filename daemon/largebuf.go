package daemon

import (
	"sync"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// largeBuf is the daemon-wide budget for request buffers that outgrow
// their connection pool. Claims come from worker goroutines, so a
// mutex guards the balance.
type largeBuf struct {
	mu    sync.Mutex
	total int
	used  int
}

func (lb *largeBuf) init(total int) {
	lb.total = total
}

func (lb *largeBuf) claim(n int) bool {
	if lb.total <= 0 {
		return false
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.used+n > lb.total {
		return false
	}
	lb.used += n
	return true
}

func (lb *largeBuf) reclaim(n int) {
	if n <= 0 {
		return
	}
	lb.mu.Lock()
	lb.used -= n
	if lb.used < 0 {
		lb.used = 0
	}
	lb.mu.Unlock()
}

// growFunc adapts the accountant to the stream's grow hook.
func (lb *largeBuf) growFunc() stream.GrowFunc {
	return lb.claim
}
