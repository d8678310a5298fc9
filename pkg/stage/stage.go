// Package stage provides the active component that drives an acquisition
// pipeline: a named group of worker goroutines that repeatedly check for
// work, execute one unit, and otherwise idle, until told to stop.
//
// A stage knows nothing about buffers or pools. Concrete behavior lives in
// the Task it is given; producers, consumers, and consumer-producers differ
// only in how they implement it.
package stage

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is one stage's unit of behavior. Implementations must be safe for
// concurrent calls when the stage runs more than one worker.
type Task interface {
	// WorkPresent reports whether a unit of work is available. A pure
	// producer returns true whenever it is running.
	WorkPresent() bool
	// ExecuteTask performs one unit of work. A panic is contained by the
	// worker loop and treated as a skipped iteration; one bad buffer must
	// not kill the worker.
	ExecuteTask()
	// Idle is called when no work is present, typically a short sleep to
	// avoid busy-spinning.
	Idle()
}

// Stage runs a Task on a fixed group of workers with a cooperative stop.
type Stage struct {
	name     string
	workers  int
	affinity []int
	task     Task

	stop    atomic.Bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates an idle stage. Workers below one are clamped to one.
func New(name string, workers int, task Task) *Stage {
	if workers < 1 {
		workers = 1
	}
	return &Stage{name: name, workers: workers, task: task}
}

// SetAffinity pins worker i to cpus[i%len(cpus)]. Must be called before
// Start; pinning is best-effort and only effective on Linux.
func (s *Stage) SetAffinity(cpus []int) { s.affinity = cpus }

// Name returns the stage name used in log lines.
func (s *Stage) Name() string { return s.name }

// Workers returns the configured worker count.
func (s *Stage) Workers() int { return s.workers }

// Start spawns the worker group. Starting a running stage is a no-op.
func (s *Stage) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stop.Store(false)
	s.running = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
}

// Stop requests a cooperative stop and returns immediately. Workers exit
// at their next loop iteration.
func (s *Stage) Stop() { s.stop.Store(true) }

// Join blocks until every worker has observed the stop flag and exited.
func (s *Stage) Join() {
	s.wg.Wait()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// StopAndJoin is Stop followed by Join.
func (s *Stage) StopAndJoin() {
	s.Stop()
	s.Join()
}

// Running reports whether workers have been started and not yet joined.
func (s *Stage) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Stage) workerLoop(id int) {
	defer s.wg.Done()
	if len(s.affinity) > 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		cpu := s.affinity[id%len(s.affinity)]
		if err := pinToCPU(cpu); err != nil {
			log.Printf("[stage %s] worker %d: pin to cpu %d: %v", s.name, id, cpu, err)
		}
	}
	for !s.stop.Load() {
		if s.task.WorkPresent() {
			s.executeOne(id)
		} else {
			s.task.Idle()
		}
	}
}

func (s *Stage) executeOne(id int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[stage %s] worker %d recovered: %v", s.name, id, r)
		}
	}()
	s.task.ExecuteTask()
}
