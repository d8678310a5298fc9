package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spectrod/pkg/bufferpool"
)

// Sample is the digitizer's fixed output type: one unsigned 16-bit ADC
// word, 12 significant bits, offset binary.
type Sample = uint16

// Digitizer is the contract the pipeline needs from a capture driver:
// start/stop plus a blocking fill of one raw buffer. Drivers live outside
// the pipeline; the simulator and the XDMA character-device reader both
// satisfy this.
type Digitizer interface {
	Initialize() error
	Start() error
	Stop() error
	// AcquireUntil fills buf with consecutive samples and returns how many
	// were written. It blocks only for the duration of one buffer.
	AcquireUntil(buf []Sample) (int, error)
	SamplingFrequency() float64
	Close() error
}

// digitizerProducer adapts a Digitizer to a pipeline stage: a pure
// producer writing raw sample buffers into the source pool through the
// steal policy, so the hardware is never made to wait on the compute side.
type digitizerProducer struct {
	dig    Digitizer
	pool   *bufferpool.Pool[Sample]
	policy bufferpool.ProducerSteal[Sample]

	// mu serializes claim, read, and stamp so a slot's sample-index
	// provenance always describes its own payload. The stream is serial
	// at the device, so extra workers only buy queueing, never parallel
	// reads.
	mu sync.Mutex

	armed      atomic.Bool
	stopNext   atomic.Bool
	startSec   atomic.Uint64
	nextSample atomic.Uint64

	idleBackoff time.Duration
	clock       func() time.Time
}

func newDigitizerProducer(dig Digitizer, pool *bufferpool.Pool[Sample], idle time.Duration) *digitizerProducer {
	return &digitizerProducer{dig: dig, pool: pool, idleBackoff: idle, clock: time.Now}
}

// Acquire arms acquisition. The buffers that follow carry a fresh session
// stamp: the current epoch second and a sample index starting at zero.
// Taking mu means the counters never reset under a worker that is mid
// buffer.
func (d *digitizerProducer) Acquire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed.Load() {
		return
	}
	d.stopNext.Store(false)
	d.startSec.Store(uint64(d.clock().Unix()))
	d.nextSample.Store(0)
	if err := d.dig.Start(); err != nil {
		log.Printf("digitizer start: %v", err)
		return
	}
	d.armed.Store(true)
}

// StopAfterNextBuffer lets the in-flight buffer complete, then disarms.
func (d *digitizerProducer) StopAfterNextBuffer() {
	if d.armed.Load() {
		d.stopNext.Store(true)
	}
}

// Acquiring reports whether the producer is currently armed.
func (d *digitizerProducer) Acquiring() bool { return d.armed.Load() }

func (d *digitizerProducer) WorkPresent() bool { return d.armed.Load() }

func (d *digitizerProducer) Idle() { time.Sleep(d.idleBackoff) }

func (d *digitizerProducer) ExecuteTask() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed.Load() {
		return
	}
	code, slot := d.policy.Reserve(d.pool)
	if code != bufferpool.ReserveSuccess || slot == nil {
		return
	}
	// Reuse the reserved slot while the stream yields nothing, so a
	// stalled device does not churn empty commits through the ring. A
	// zero-length buffer is only committed on the error or stop edge;
	// downstream drops it without comment.
	var n int
	var err error
	for {
		n, err = d.dig.AcquireUntil(slot.Data())
		if n > 0 || err != nil || d.stopNext.Load() {
			break
		}
		time.Sleep(d.idleBackoff)
	}

	meta := slot.Metadata()
	meta.AcquisitionStartSecond = d.startSec.Load()
	meta.LeadingSampleIndex = d.nextSample.Add(uint64(n)) - uint64(n)
	meta.SampleRate = d.dig.SamplingFrequency()
	meta.ValidLength = n
	d.policy.Release(d.pool, slot)

	if err != nil {
		log.Printf("digitizer read: %v", err)
	}
	if d.stopNext.CompareAndSwap(true, false) {
		d.armed.Store(false)
		if err := d.dig.Stop(); err != nil {
			log.Printf("digitizer stop: %v", err)
		}
	}
}
