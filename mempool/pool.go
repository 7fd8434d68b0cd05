// Package mempool provides the per-connection bump arena used for read
// buffers, parsed header fields and digest scratch space. One allocation
// direction grows from the front; the read buffer is conventionally the
// most recent front block so it can be grown in place while parsing.
package mempool

// Pool is a fixed-capacity arena. The zero value is unusable; call New.
type Pool struct {
	buf      []byte
	front    int // first free byte
	back     int // tail allocations grow down from here
	lastOff  int // offset of the most recent front allocation
	lastSize int
}

// New creates a pool of the given capacity. A zero or negative capacity
// yields a pool that refuses every allocation.
func New(capacity int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool{buf: make([]byte, capacity)}
	p.back = capacity
	return p
}

// Size returns the total capacity.
func (p *Pool) Size() int { return len(p.buf) }

// Free returns the number of bytes still allocatable.
func (p *Pool) Free() int { return p.back - p.front }

// Alloc returns an n-byte block from the front of the arena, or nil when
// the pool cannot satisfy the request. Never panics.
func (p *Pool) Alloc(n int) []byte {
	if n < 0 || n > p.Free() {
		return nil
	}
	b := p.buf[p.front : p.front+n : p.front+n]
	p.lastOff = p.front
	p.lastSize = n
	p.front += n
	return b
}

// AllocBack returns an n-byte block from the tail. Tail blocks cannot be
// grown; they hold fixed-size scratch such as digest work areas.
func (p *Pool) AllocBack(n int) []byte {
	if n < 0 || n > p.Free() {
		return nil
	}
	p.back -= n
	return p.buf[p.back : p.back+n : p.back+n]
}

// GrowLast extends the most recent front allocation in place by extra
// bytes and returns the whole block, or nil when b is not the most
// recent block or space ran out. The returned slice aliases b.
func (p *Pool) GrowLast(b []byte, extra int) []byte {
	if extra < 0 || extra > p.Free() {
		return nil
	}
	if !p.isLast(b) {
		return nil
	}
	p.front += extra
	p.lastSize += extra
	return p.buf[p.lastOff : p.lastOff+p.lastSize : p.lastOff+p.lastSize]
}

// ShrinkLast gives back the unused tail of the most recent front block.
// keep is the number of bytes the caller still needs.
func (p *Pool) ShrinkLast(b []byte, keep int) []byte {
	if !p.isLast(b) || keep < 0 || keep > p.lastSize {
		return b
	}
	p.front = p.lastOff + keep
	p.lastSize = keep
	return p.buf[p.lastOff : p.lastOff+keep : p.lastOff+keep]
}

func (p *Pool) isLast(b []byte) bool {
	if p.lastSize == 0 {
		return len(b) == 0 && p.front == p.lastOff
	}
	if len(b) == 0 || cap(b) == 0 {
		return false
	}
	return &b[:1][0] == &p.buf[p.lastOff]
}

// Reset discards every allocation. Outstanding slices must not be used
// afterwards.
func (p *Pool) Reset() {
	p.front = 0
	p.back = len(p.buf)
	p.lastOff = 0
	p.lastSize = 0
}
