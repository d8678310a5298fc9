package bufferpool

import "sync"

// Metadata describes the provenance of a slot's payload. Stage code fills
// the provenance fields while it holds the slot; the unread flags belong to
// the pool and are only touched under the pool mutex.
type Metadata struct {
	AcquisitionStartSecond uint64
	LeadingSampleIndex     uint64
	SampleRate             float64
	ValidLength            int

	unread []bool // one flag per registered consumer
}

// Slot is one fixed-capacity buffer in a pool's ring. A slot is borrowed
// between a Reserve and the matching Release; the payload may only be read
// or written inside that window.
type Slot[T any] struct {
	mu   sync.Mutex
	seq  uint64 // absolute production index, written under mu
	data []T
	meta Metadata
}

// Data returns the slot's payload. Only valid between reserve and release.
func (s *Slot[T]) Data() []T { return s.data }

// Metadata returns the slot's provenance record. Only valid between reserve
// and release.
func (s *Slot[T]) Metadata() *Metadata { return &s.meta }

// Capacity is the fixed element capacity chosen at pool allocation time.
func (s *Slot[T]) Capacity() int { return len(s.data) }
