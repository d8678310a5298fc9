// Package bufferpool implements the registering buffer pool at the heart of
// the acquisition pipeline: a fixed ring of lockable slots, one producer
// cursor, and an independent read cursor per registered consumer.
//
// Producers and consumers never talk to the ring directly; they go through
// the reservation policies in policy.go, which hand out locked slots and
// take them back on release. The pool owns every slot for its whole
// lifetime; callers only ever borrow.
package bufferpool

import (
	"fmt"
	"sync"
)

// Consumer is an identity registered with a pool. IDs are assigned in
// registration order starting at zero and index the per-consumer cursors
// and unread flags.
type Consumer struct {
	id int
}

// ID returns the pool-assigned consumer ID. Only meaningful after Register.
func (c *Consumer) ID() int { return c.id }

// Stats is a snapshot of a pool's production counters.
type Stats struct {
	// Produced counts reservations handed to producers, including any still
	// being filled.
	Produced uint64
	// Committed counts productions released and visible to consumers.
	Committed uint64
	// Overwritten counts ring laps that destroyed data some registered
	// consumer had not read yet.
	Overwritten uint64
}

// Pool owns a ring of slots allocated once through its Allocator. Ring size
// and per-slot capacity are fixed for the pool's lifetime.
type Pool[T any] struct {
	mu    sync.Mutex
	alloc Allocator[T]
	slots []*Slot[T]

	reserveHead uint64          // next production index to claim
	committed   uint64          // contiguous frontier of released productions
	uncommitted map[uint64]bool // released productions above the frontier
	overwritten uint64

	consumers []*Consumer
	claimed   []uint64 // per consumer: next production index to read
	released  []uint64 // per consumer: completed releases
}

// NewPool creates an empty pool backed by the given allocator.
func NewPool[T any](alloc Allocator[T]) *Pool[T] {
	return &Pool[T]{alloc: alloc, uncommitted: make(map[uint64]bool)}
}

// Allocate builds the ring of slotCount slots, capacity elements each. It
// may be called once; the ring is immutable afterwards.
func (p *Pool[T]) Allocate(slotCount, capacity int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) != 0 {
		return fmt.Errorf("pool already allocated with %d slots", len(p.slots))
	}
	if slotCount <= 0 || capacity <= 0 {
		return fmt.Errorf("invalid pool geometry: %d slots x %d elements", slotCount, capacity)
	}
	slots := make([]*Slot[T], 0, slotCount)
	for i := 0; i < slotCount; i++ {
		data, err := p.alloc.Allocate(capacity)
		if err != nil {
			for _, s := range slots {
				_ = p.alloc.Free(s.data)
			}
			return fmt.Errorf("allocate slot %d: %w", i, err)
		}
		slots = append(slots, &Slot[T]{data: data})
	}
	p.slots = slots
	return nil
}

// Free returns all slot storage to the allocator. The pool must be idle; no
// reservations may be outstanding.
func (p *Pool[T]) Free() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.slots {
		if err := p.alloc.Free(s.data); err != nil && firstErr == nil {
			firstErr = err
		}
		s.data = nil
	}
	p.slots = nil
	return firstErr
}

// Allocated reports whether the ring has been built.
func (p *Pool[T]) Allocated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) != 0
}

// SlotCount returns the ring size, zero before Allocate.
func (p *Pool[T]) SlotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Register assigns the next sequential consumer ID. Registering an already
// registered consumer is a no-op returning the existing assignment. A fresh
// consumer starts reading at the current commit frontier.
func (p *Pool[T]) Register(c *Consumer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRegisteredLocked(c) {
		return c.id
	}
	c.id = len(p.consumers)
	p.consumers = append(p.consumers, c)
	p.claimed = append(p.claimed, p.committed)
	p.released = append(p.released, 0)
	return c.id
}

// IsRegistered reports whether c has been registered with this pool.
func (p *Pool[T]) IsRegistered(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRegisteredLocked(c)
}

func (p *Pool[T]) isRegisteredLocked(c *Consumer) bool {
	for _, rc := range p.consumers {
		if rc == c {
			return true
		}
	}
	return false
}

// RegisteredConsumers returns the number of distinct registered consumers.
func (p *Pool[T]) RegisteredConsumers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consumers)
}

// Pending reports how many committed productions consumer id has not yet
// claimed. Stages use it to decide whether work is present without
// reserving anything.
func (p *Pool[T]) Pending(id int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.claimed) || p.committed <= p.claimed[id] {
		return 0
	}
	return p.committed - p.claimed[id]
}

// Released reports how many slots consumer id has released back.
func (p *Pool[T]) Released(id int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.released) {
		return 0
	}
	return p.released[id]
}

// Stats snapshots the production counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Produced: p.reserveHead, Committed: p.committed, Overwritten: p.overwritten}
}

// claimProduce hands out the next ring slot for writing, locked. It never
// waits on consumer progress; lapping an unread slot is counted as an
// overwrite. Returns nil if the ring was never allocated.
func (p *Pool[T]) claimProduce() *Slot[T] {
	p.mu.Lock()
	if len(p.slots) == 0 {
		p.mu.Unlock()
		return nil
	}
	seq := p.reserveHead
	p.reserveHead++
	slot := p.slots[seq%uint64(len(p.slots))]
	for _, u := range slot.meta.unread {
		if u {
			p.overwritten++
			break
		}
	}
	p.mu.Unlock()

	slot.mu.Lock()
	slot.seq = seq
	return slot
}

// releaseProduced commits a production: the slot becomes unread for every
// registered consumer and the contiguous commit frontier advances as far as
// released productions allow.
func (p *Pool[T]) releaseProduced(slot *Slot[T]) {
	seq := slot.seq
	p.mu.Lock()
	if n := len(p.consumers); len(slot.meta.unread) < n {
		slot.meta.unread = append(slot.meta.unread, make([]bool, n-len(slot.meta.unread))...)
	}
	for i := range slot.meta.unread {
		slot.meta.unread[i] = true
	}
	p.uncommitted[seq] = true
	for p.uncommitted[p.committed] {
		delete(p.uncommitted, p.committed)
		p.committed++
	}
	p.mu.Unlock()
	slot.mu.Unlock()
}

// claimConsume hands consumer id its next production in order, locked.
func (p *Pool[T]) claimConsume(id int) (ReserveCode, *Slot[T]) {
	p.mu.Lock()
	if len(p.slots) == 0 || id < 0 || id >= len(p.claimed) {
		p.mu.Unlock()
		return ReserveNoData, nil
	}
	ringN := uint64(len(p.slots))
	cur := p.claimed[id]
	if p.reserveHead > cur+ringN {
		// Lapped: production cur has been overwritten. Re-snap to the
		// oldest production still resident and report the loss instead of
		// handing out stale data.
		p.claimed[id] = p.reserveHead - ringN
		p.mu.Unlock()
		return ReserveOverwritten, nil
	}
	if cur >= p.committed {
		p.mu.Unlock()
		return ReserveNoData, nil
	}
	p.claimed[id] = cur + 1
	slot := p.slots[cur%ringN]
	p.mu.Unlock()

	slot.mu.Lock()
	if slot.seq != cur {
		// Overwritten between claim and lock.
		slot.mu.Unlock()
		return ReserveOverwritten, nil
	}
	return ReserveSuccess, slot
}

// claimLatest hands consumer id the most recently committed production,
// skipping any backlog.
func (p *Pool[T]) claimLatest(id int) (ReserveCode, *Slot[T]) {
	p.mu.Lock()
	if len(p.slots) == 0 || id < 0 || id >= len(p.claimed) {
		p.mu.Unlock()
		return ReserveNoData, nil
	}
	if p.committed == 0 || p.claimed[id] >= p.committed {
		p.mu.Unlock()
		return ReserveNoData, nil
	}
	latest := p.committed - 1
	p.claimed[id] = p.committed
	slot := p.slots[latest%uint64(len(p.slots))]
	p.mu.Unlock()

	slot.mu.Lock()
	if slot.seq != latest {
		slot.mu.Unlock()
		return ReserveOverwritten, nil
	}
	return ReserveSuccess, slot
}

// releaseConsumed clears the consumer's unread flag and advances its
// release cursor.
func (p *Pool[T]) releaseConsumed(id int, slot *Slot[T]) {
	p.mu.Lock()
	if id >= 0 && id < len(slot.meta.unread) {
		slot.meta.unread[id] = false
	}
	if id >= 0 && id < len(p.released) {
		p.released[id]++
	}
	p.mu.Unlock()
	slot.mu.Unlock()
}
