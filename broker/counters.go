package broker

import "sync"

// CounterSet holds the five cumulative counters described in §3/§4.6: all
// updates and the snapshot taken for reporting go through the same mutex, so
// the five values returned by Snapshot always correspond to a single
// instant. A coarse lock is sufficient at this update rate; it is cheaper to
// reason about than atomics-plus-a-snapshot-lock and the spec explicitly
// allows either.
type CounterSet struct {
	mu sync.Mutex

	active    int64
	completed int64
	pub       int64
	sub       int64
	unsub     int64
}

// NewCounterSet returns a zeroed Counter Set.
func NewCounterSet() *CounterSet {
	return &CounterSet{}
}

// Snapshot is a point-in-time, internally consistent copy of all five
// counters.
type Snapshot struct {
	Active    int64
	Completed int64
	Pub       int64
	Sub       int64
	Unsub     int64
}

func (c *CounterSet) ConnectionAccepted() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

func (c *CounterSet) ConnectionClosed() {
	c.mu.Lock()
	c.active--
	c.completed++
	c.mu.Unlock()
}

func (c *CounterSet) PublishAccepted() {
	c.mu.Lock()
	c.pub++
	c.mu.Unlock()
}

func (c *CounterSet) SubscribeAccepted() {
	c.mu.Lock()
	c.sub++
	c.mu.Unlock()
}

func (c *CounterSet) UnsubscribeAccepted() {
	c.mu.Lock()
	c.unsub++
	c.mu.Unlock()
}

// Snapshot returns a coherent copy of all five counters.
func (c *CounterSet) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Active:    c.active,
		Completed: c.completed,
		Pub:       c.pub,
		Sub:       c.sub,
		Unsub:     c.unsub,
	}
}
