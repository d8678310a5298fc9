package main

import (
	"sync"
	"testing"
	"time"

	"github.com/spectrod/pkg/bufferpool"
	"github.com/spectrod/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDigitizer struct {
	starts int
	stops  int
	closes int
	fill   Sample
}

func (f *fakeDigitizer) Initialize() error { return nil }

func (f *fakeDigitizer) Start() error {
	f.starts++
	return nil
}

func (f *fakeDigitizer) Stop() error {
	f.stops++
	return nil
}

func (f *fakeDigitizer) SamplingFrequency() float64 { return 1e6 }

func (f *fakeDigitizer) Close() error {
	f.closes++
	return nil
}

func (f *fakeDigitizer) AcquireUntil(buf []Sample) (int, error) {
	for i := range buf {
		buf[i] = f.fill
	}
	f.fill++
	return len(buf), nil
}

func newProducerFixture(t *testing.T, slots, capacity int) (*digitizerProducer, *fakeDigitizer, *bufferpool.Pool[Sample]) {
	t.Helper()
	pool := bufferpool.NewPool[Sample](bufferpool.HostAllocator[Sample]{})
	require.NoError(t, pool.Allocate(slots, capacity))
	dig := &fakeDigitizer{}
	return newDigitizerProducer(dig, pool, time.Microsecond), dig, pool
}

func TestProducerIdleUntilAcquire(t *testing.T) {
	prod, dig, pool := newProducerFixture(t, 4, 16)

	assert.False(t, prod.WorkPresent())
	prod.ExecuteTask()
	assert.Zero(t, pool.Stats().Produced)

	prod.Acquire()
	assert.True(t, prod.WorkPresent())
	assert.True(t, prod.Acquiring())
	assert.Equal(t, 1, dig.starts)
}

func TestProducerStampsLeadingSampleIndex(t *testing.T) {
	prod, _, pool := newProducerFixture(t, 4, 16)
	var reader bufferpool.Consumer
	pool.Register(&reader)
	wait := bufferpool.ConsumerWait[Sample]{Attempts: 1}

	before := uint64(time.Now().Unix())
	prod.Acquire()
	prod.ExecuteTask()
	prod.ExecuteTask()

	code, slot := wait.Reserve(pool, &reader)
	require.Equal(t, bufferpool.ReserveSuccess, code)
	meta := slot.Metadata()
	assert.Zero(t, meta.LeadingSampleIndex)
	assert.GreaterOrEqual(t, meta.AcquisitionStartSecond, before)
	assert.Equal(t, 1e6, meta.SampleRate)
	assert.Equal(t, 16, meta.ValidLength)
	wait.Release(pool, &reader, slot)

	code, slot = wait.Reserve(pool, &reader)
	require.Equal(t, bufferpool.ReserveSuccess, code)
	assert.Equal(t, uint64(16), slot.Metadata().LeadingSampleIndex)
	wait.Release(pool, &reader, slot)
}

func TestStopAfterNextBufferFinishesInFlight(t *testing.T) {
	prod, dig, pool := newProducerFixture(t, 4, 16)
	prod.Acquire()
	prod.ExecuteTask()

	prod.StopAfterNextBuffer()
	assert.True(t, prod.Acquiring(), "stop takes effect after the next buffer")

	prod.ExecuteTask()
	assert.False(t, prod.Acquiring())
	assert.Equal(t, 1, dig.stops)

	committed := pool.Stats().Committed
	prod.ExecuteTask()
	assert.Equal(t, committed, pool.Stats().Committed, "disarmed producer is quiet")
}

func TestReacquireRestartsSampleIndex(t *testing.T) {
	prod, _, pool := newProducerFixture(t, 8, 16)
	var reader bufferpool.Consumer
	pool.Register(&reader)
	wait := bufferpool.ConsumerWait[Sample]{Attempts: 1}

	prod.Acquire()
	prod.ExecuteTask()
	prod.StopAfterNextBuffer()
	prod.ExecuteTask()

	prod.Acquire()
	prod.ExecuteTask()

	// Skip the two buffers of the first acquisition.
	for i := 0; i < 2; i++ {
		code, slot := wait.Reserve(pool, &reader)
		require.Equal(t, bufferpool.ReserveSuccess, code)
		wait.Release(pool, &reader, slot)
	}
	code, slot := wait.Reserve(pool, &reader)
	require.Equal(t, bufferpool.ReserveSuccess, code)
	assert.Zero(t, slot.Metadata().LeadingSampleIndex, "fresh acquisition restarts at zero")
	wait.Release(pool, &reader, slot)
}

// streamingDigitizer hands out a bounded run of consecutive samples
// under its own lock, the way a serial hardware stream does. Sample
// values equal their absolute stream index so a reader can check each
// buffer's payload against its stamped provenance.
type streamingDigitizer struct {
	mu     sync.Mutex
	next   Sample
	limit  int
	handed int
}

func (s *streamingDigitizer) Initialize() error { return nil }

func (s *streamingDigitizer) Start() error { return nil }

func (s *streamingDigitizer) Stop() error { return nil }

func (s *streamingDigitizer) SamplingFrequency() float64 { return 1e6 }

func (s *streamingDigitizer) Close() error { return nil }

func (s *streamingDigitizer) AcquireUntil(buf []Sample) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handed >= s.limit {
		return 0, nil
	}
	s.handed++
	for i := range buf {
		buf[i] = s.next
		s.next++
	}
	return len(buf), nil
}

func TestTwoWorkerStageKeepsSampleIndexProvenance(t *testing.T) {
	const capacity, buffers = 16, 64
	pool := bufferpool.NewPool[Sample](bufferpool.HostAllocator[Sample]{})
	require.NoError(t, pool.Allocate(256, capacity))
	var reader bufferpool.Consumer
	pool.Register(&reader)

	dig := &streamingDigitizer{limit: buffers}
	prod := newDigitizerProducer(dig, pool, time.Microsecond)
	st := stage.New("digitizer", 2, prod)

	prod.Acquire()
	st.Start()
	require.True(t, waitUntil(t, 5*time.Second, func() bool {
		return pool.Stats().Committed >= buffers
	}), "stage should drain the stream")
	prod.StopAfterNextBuffer()
	st.StopAndJoin()

	wait := bufferpool.ConsumerWait[Sample]{Attempts: 1}
	var next uint64
	checked := 0
	for {
		code, slot := wait.Reserve(pool, &reader)
		if code != bufferpool.ReserveSuccess {
			break
		}
		meta := slot.Metadata()
		if meta.ValidLength > 0 {
			assert.Equal(t, next, meta.LeadingSampleIndex, "buffers commit in stream order")
			assert.Equal(t, meta.LeadingSampleIndex, uint64(slot.Data()[0]),
				"stamped index must describe this buffer's payload")
			next = meta.LeadingSampleIndex + uint64(meta.ValidLength)
			checked++
		}
		wait.Release(pool, &reader, slot)
	}
	assert.Equal(t, buffers, checked)
}

func TestDryStreamDoesNotChurnEmptyCommits(t *testing.T) {
	pool := bufferpool.NewPool[Sample](bufferpool.HostAllocator[Sample]{})
	require.NoError(t, pool.Allocate(8, 16))

	dig := &streamingDigitizer{limit: 0}
	prod := newDigitizerProducer(dig, pool, time.Microsecond)
	st := stage.New("digitizer", 1, prod)

	prod.Acquire()
	st.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, pool.Stats().Committed, "nothing to read, nothing committed")

	prod.StopAfterNextBuffer()
	require.True(t, waitUntil(t, 2*time.Second, func() bool { return !prod.Acquiring() }))
	st.StopAndJoin()

	assert.LessOrEqual(t, pool.Stats().Committed, uint64(1), "at most the stop-edge commit")
}

func TestStopWhileIdleIsIgnored(t *testing.T) {
	prod, dig, _ := newProducerFixture(t, 4, 16)

	prod.StopAfterNextBuffer()
	prod.Acquire()
	prod.ExecuteTask()

	assert.True(t, prod.Acquiring(), "stale stop request must not kill a new acquisition")
	assert.Zero(t, dig.stops)
}
