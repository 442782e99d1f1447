package deduplication

import (
	"sync"
	"time"
)

// Guard serializes dedup decisions per recency bucket. The window is cut
// into buckets of equal width, each mapped onto one lock slot. A decision
// at time t holds the slots of t's bucket and the one before it, so two
// decisions close enough in time to see each other's writes always share
// a slot.
type Guard struct {
	slots []sync.Mutex
	width time.Duration
}

// NewGuard creates a guard with one slot per bucket, minimum two.
func NewGuard(window time.Duration, buckets int) *Guard {
	if buckets < 2 {
		buckets = 2
	}
	if window <= 0 {
		window = 48 * time.Hour
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Second
	}
	return &Guard{slots: make([]sync.Mutex, buckets), width: width}
}

func (g *Guard) slot(t time.Time) int {
	b := t.UnixNano() / int64(g.width)
	n := int64(len(g.slots))
	return int(((b % n) + n) % n)
}

// Lock acquires the slots for t and returns the matching unlock func.
// Slots are taken in ascending index order.
func (g *Guard) Lock(t time.Time) func() {
	cur := g.slot(t)
	prev := g.slot(t.Add(-g.width))
	lo, hi := cur, prev
	if lo > hi {
		lo, hi = hi, lo
	}
	g.slots[lo].Lock()
	g.slots[hi].Lock()
	return func() {
		g.slots[hi].Unlock()
		g.slots[lo].Unlock()
	}
}
