package bufferpool

import "time"

// ReserveCode classifies the outcome of a reservation attempt.
type ReserveCode int

const (
	// ReserveSuccess delivered a locked slot; the caller owns it until the
	// matching Release.
	ReserveSuccess ReserveCode = iota
	// ReserveNoData means nothing is available right now. Non-fatal: idle
	// and try again; no data was discarded.
	ReserveNoData
	// ReserveOverwritten means the producer lapped this consumer and the
	// skipped data is gone. The consumer's cursor has been moved to the
	// oldest production still resident in the ring.
	ReserveOverwritten
)

func (c ReserveCode) String() string {
	switch c {
	case ReserveSuccess:
		return "success"
	case ReserveNoData:
		return "no-data"
	case ReserveOverwritten:
		return "overwritten"
	}
	return "unknown"
}

// ProducerSteal claims the next ring slot unconditionally. It never waits
// on consumer progress: a lagging consumer loses data rather than stalling
// a hardware-paced producer. Size the ring so that laps stay rare.
type ProducerSteal[T any] struct{}

// Reserve returns a locked slot for writing. It fails only on a pool that
// was never allocated.
func (ProducerSteal[T]) Reserve(p *Pool[T]) (ReserveCode, *Slot[T]) {
	slot := p.claimProduce()
	if slot == nil {
		return ReserveNoData, nil
	}
	return ReserveSuccess, slot
}

// Release commits the production and makes it visible to consumers.
func (ProducerSteal[T]) Release(p *Pool[T], slot *Slot[T]) {
	p.releaseProduced(slot)
}

// ConsumerWait polls for the consumer's next unconsumed slot in production
// order. It gives up after Attempts polls without discarding anything; the
// slot remains claimable on a later call.
type ConsumerWait[T any] struct {
	Attempts int           // polls before giving up; 0 means a single try
	Backoff  time.Duration // sleep between polls
}

// Reserve returns the next production for c, in order, or ReserveNoData
// once the retry budget runs out. ReserveOverwritten reports a lap; the
// next call resumes at the oldest resident production.
func (w ConsumerWait[T]) Reserve(p *Pool[T], c *Consumer) (ReserveCode, *Slot[T]) {
	attempts := w.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		code, slot := p.claimConsume(c.id)
		if code != ReserveNoData {
			return code, slot
		}
		if i+1 < attempts && w.Backoff > 0 {
			time.Sleep(w.Backoff)
		}
	}
	return ReserveNoData, nil
}

// Release hands the slot back, clearing c's unread flag and advancing its
// release cursor. Every successful Reserve must be paired with a Release or
// the slot lock leaks.
func (ConsumerWait[T]) Release(p *Pool[T], c *Consumer, slot *Slot[T]) {
	p.releaseConsumed(c.id, slot)
}

// ConsumerSteal jumps straight to the most recently produced slot, skipping
// any backlog. Use it to track the producer's live edge when bounded
// staleness matters more than completeness.
type ConsumerSteal[T any] struct{}

// Reserve returns the latest committed production not yet seen by c, or
// ReserveNoData when c is already at the live edge.
func (ConsumerSteal[T]) Reserve(p *Pool[T], c *Consumer) (ReserveCode, *Slot[T]) {
	return p.claimLatest(c.id)
}

// Release hands the slot back to the pool.
func (ConsumerSteal[T]) Release(p *Pool[T], c *Consumer, slot *Slot[T]) {
	p.releaseConsumed(c.id, slot)
}
