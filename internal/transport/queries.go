package transport

import "sync"

// waiter is fulfilled exactly once, either with the answer payload or by
// being cancelled (deadline, shutdown).
type waiter struct {
	ch chan []byte
}

func (w *waiter) cancel() {
	select {
	case w.ch <- nil:
	default:
	}
}

// queriesCache correlates outstanding queries to their 32-byte ids, the
// same role queries_cache.rs plays for tcp_adnl.
type queriesCache struct {
	mu      sync.Mutex
	waiting map[[32]byte]*waiter
}

func newQueriesCache() *queriesCache {
	return &queriesCache{waiting: make(map[[32]byte]*waiter)}
}

func (c *queriesCache) add(id [32]byte) *waiter {
	w := &waiter{ch: make(chan []byte, 1)}
	c.mu.Lock()
	c.waiting[id] = w
	c.mu.Unlock()
	return w
}

func (c *queriesCache) remove(id [32]byte) {
	c.mu.Lock()
	delete(c.waiting, id)
	c.mu.Unlock()
}

func (c *queriesCache) fulfill(id [32]byte, data []byte) {
	c.mu.Lock()
	w, ok := c.waiting[id]
	if ok {
		delete(c.waiting, id)
	}
	c.mu.Unlock()
	if ok {
		w.ch <- data
	}
}

func (c *queriesCache) cancelAll() {
	c.mu.Lock()
	waiting := c.waiting
	c.waiting = make(map[[32]byte]*waiter)
	c.mu.Unlock()
	for _, w := range waiting {
		w.cancel()
	}
}
