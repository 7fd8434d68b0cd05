package daemon

import "sync"

// connList is an intrusive doubly linked list over the all-connections
// links. Worker-owned, no locking.
type connList struct {
	head, tail *Conn
	count      int
}

func (l *connList) pushBack(c *Conn) {
	if c.inAll {
		return
	}
	c.inAll = true
	c.allPrev = l.tail
	c.allNext = nil
	if l.tail != nil {
		l.tail.allNext = c
	} else {
		l.head = c
	}
	l.tail = c
	l.count++
}

func (l *connList) remove(c *Conn) {
	if !c.inAll {
		return
	}
	c.inAll = false
	if c.allPrev != nil {
		c.allPrev.allNext = c.allNext
	} else {
		l.head = c.allNext
	}
	if c.allNext != nil {
		c.allNext.allPrev = c.allPrev
	} else {
		l.tail = c.allPrev
	}
	c.allPrev, c.allNext = nil, nil
	l.count--
}

// timeoutList keeps connections ordered by last activity: refreshed
// entries move to the tail, so the head is always the next to expire.
// Suspended and upgraded connections are taken off the list entirely.
type timeoutList struct {
	head, tail *Conn
}

func (l *timeoutList) pushBack(c *Conn) {
	if c.inTimeout {
		return
	}
	c.toPrev = l.tail
	c.toNext = nil
	if l.tail != nil {
		l.tail.toNext = c
	} else {
		l.head = c
	}
	l.tail = c
	c.inTimeout = true
}

func (l *timeoutList) remove(c *Conn) {
	if !c.inTimeout {
		return
	}
	if c.toPrev != nil {
		c.toPrev.toNext = c.toNext
	} else {
		l.head = c.toNext
	}
	if c.toNext != nil {
		c.toNext.toPrev = c.toPrev
	} else {
		l.tail = c.toPrev
	}
	c.toPrev, c.toNext = nil, nil
	c.inTimeout = false
}

func (l *timeoutList) moveToTail(c *Conn) {
	if !c.inTimeout || l.tail == c {
		return
	}
	l.remove(c)
	l.pushBack(c)
}

// procQueue holds connections with work to do this turn. Single-linked;
// the drain caches the next pointer before processing so a connection
// may close itself mid-drain.
type procQueue struct {
	head, tail *Conn
}

func (q *procQueue) push(c *Conn) {
	if c.inProc {
		return
	}
	c.procNext = nil
	if q.tail != nil {
		q.tail.procNext = c
	} else {
		q.head = c
	}
	q.tail = c
	c.inProc = true
}

func (q *procQueue) pop() *Conn {
	c := q.head
	if c == nil {
		return nil
	}
	q.head = c.procNext
	if q.head == nil {
		q.tail = nil
	}
	c.procNext = nil
	c.inProc = false
	return c
}

// perIPTable enforces the per-address connection cap across all workers.
type perIPTable struct {
	mu    sync.Mutex
	count map[string]int
	limit int
}

func newPerIPTable(limit int) *perIPTable {
	return &perIPTable{count: make(map[string]int), limit: limit}
}

// claim registers one more connection from ip. Returns false when the
// cap is already reached. Unlimited tables and unknown addresses always
// admit.
func (t *perIPTable) claim(ip string) bool {
	if t.limit <= 0 || ip == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count[ip] >= t.limit {
		return false
	}
	t.count[ip]++
	return true
}

func (t *perIPTable) release(ip string) {
	if t.limit <= 0 || ip == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.count[ip]; n <= 1 {
		delete(t.count, ip)
	} else {
		t.count[ip] = n - 1
	}
}
