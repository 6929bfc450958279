package capture

import (
	"sync/atomic"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// DefaultQueueSize holds several duty cycles worth of payloads.
const DefaultQueueSize = 64

// Queue is a bounded single-producer single-consumer ring of payloads.
// Push never blocks: when the ring is full the oldest payload is dropped.
type Queue struct {
	slots []atomic.Uint64
	mask  uint64

	head    atomic.Uint64 // next slot to read
	tail    atomic.Uint64 // next slot to write
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at least size payloads. The capacity is
// rounded up to a power of two.
func NewQueue(size int) *Queue {
	n := 1
	for n < size {
		n <<= 1
	}
	return &Queue{
		slots: make([]atomic.Uint64, n),
		mask:  uint64(n - 1),
	}
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push appends p. Only the producer may call Push.
func (q *Queue) Push(p ook.RawPayload) {
	t := q.tail.Load()
	for {
		h := q.head.Load()
		if t-h < uint64(len(q.slots)) {
			break
		}
		// Full. The consumer may free a slot concurrently, so only count a
		// drop when we advanced head ourselves.
		if q.head.CompareAndSwap(h, h+1) {
			q.dropped.Add(1)
			break
		}
	}
	q.slots[t&q.mask].Store(uint64(p))
	q.tail.Store(t + 1)
}

// Pop removes the oldest payload. Only the consumer may call Pop.
func (q *Queue) Pop() (ook.RawPayload, bool) {
	for {
		h := q.head.Load()
		if h == q.tail.Load() {
			return 0, false
		}
		v := q.slots[h&q.mask].Load()
		// A failed swap means the producer dropped this slot and may have
		// overwritten it; retry with the new head.
		if q.head.CompareAndSwap(h, h+1) {
			return ook.RawPayload(v), true
		}
	}
}

// Dropped returns how many payloads were discarded on overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
