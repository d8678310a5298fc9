package stage

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTask executes and idles with small sleeps so tests can observe
// the loop without busy-spinning.
type countingTask struct {
	work     atomic.Bool
	executed atomic.Int64
	idled    atomic.Int64
	panics   atomic.Bool
}

func (c *countingTask) WorkPresent() bool { return c.work.Load() }

func (c *countingTask) ExecuteTask() {
	c.executed.Add(1)
	if c.panics.Load() {
		panic("bad buffer")
	}
	time.Sleep(time.Millisecond)
}

func (c *countingTask) Idle() {
	c.idled.Add(1)
	time.Sleep(time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStageLifecycle(t *testing.T) {
	task := &countingTask{}
	s := New("test", 2, task)

	assert.Equal(t, "test", s.Name())
	assert.Equal(t, 2, s.Workers())
	assert.False(t, s.Running())

	s.Start()
	assert.True(t, s.Running())

	s.StopAndJoin()
	assert.False(t, s.Running())
}

func TestStartTwiceIsNoOp(t *testing.T) {
	task := &countingTask{}
	s := New("test", 1, task)
	s.Start()
	s.Start()
	s.StopAndJoin()
}

func TestWorkersExecuteWhenWorkPresent(t *testing.T) {
	task := &countingTask{}
	task.work.Store(true)
	s := New("exec", 3, task)
	s.Start()
	defer s.StopAndJoin()

	waitFor(t, func() bool { return task.executed.Load() >= 10 })
}

func TestWorkersIdleWhenNoWork(t *testing.T) {
	task := &countingTask{}
	s := New("idle", 1, task)
	s.Start()
	defer s.StopAndJoin()

	waitFor(t, func() bool { return task.idled.Load() >= 5 })
	assert.Zero(t, task.executed.Load())
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	task := &countingTask{}
	task.work.Store(true)
	task.panics.Store(true)
	s := New("panicky", 1, task)
	s.Start()
	defer s.StopAndJoin()

	// The loop keeps going past repeated panics.
	waitFor(t, func() bool { return task.executed.Load() >= 3 })
}

func TestStopIsObservedByAllWorkers(t *testing.T) {
	task := &countingTask{}
	task.work.Store(true)
	s := New("stop", 4, task)
	s.Start()

	waitFor(t, func() bool { return task.executed.Load() > 0 })
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not observe the stop flag")
	}
}

func TestWorkerCountClamped(t *testing.T) {
	s := New("clamped", 0, &countingTask{})
	require.Equal(t, 1, s.Workers())
}

func TestAffinityStageStillRuns(t *testing.T) {
	task := &countingTask{}
	task.work.Store(true)
	s := New("pinned", 2, task)
	s.SetAffinity([]int{0})
	s.Start()
	defer s.StopAndJoin()

	waitFor(t, func() bool { return task.executed.Load() >= 2 })
}
