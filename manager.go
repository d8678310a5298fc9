package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spectrod/pkg/bufferpool"
	"github.com/spectrod/pkg/stage"
)

// commandSource hands the control loop at most one queued command per
// call.
type commandSource interface {
	PopCommand() (string, bool)
}

// acquisitionControl is the gate the state machine drives: arm the
// digitizer, or let the buffer in flight finish and disarm.
type acquisitionControl interface {
	Acquire()
	StopAfterNextBuffer()
}

// sessionConfigurer points a writer at a fresh session.
type sessionConfigurer interface {
	Configure(experiment, source, scan string) error
}

// SpectrometerManager owns the pipeline and runs the recording state
// machine. All state transitions happen on the Run goroutine; the
// websocket server only queues command strings.
type SpectrometerManager struct {
	cfg         Config
	initialized bool
	stop        atomic.Bool
	clock       func() time.Time

	state      RecordingState
	experiment string
	sourceName string
	scanName   string
	startTime  uint64 // epoch seconds, StatePending and StateRecordingUntilTime only
	endTime    uint64

	server      *CommandServer
	commands    commandSource
	acquisition acquisitionControl
	sessions    []sessionConfigurer

	sourcePool *bufferpool.Pool[Sample]
	sinkPool   *bufferpool.Pool[SpectrometerResult]

	digitizer    Digitizer
	newDigitizer func(cfg Config) (Digitizer, error)
	metrics      *pipelineMetrics

	// stages in stop order: digitizer first so downstream consumers can
	// drain what it produced.
	stages []*stage.Stage
}

func NewSpectrometerManager(cfg Config) *SpectrometerManager {
	return &SpectrometerManager{
		cfg:   cfg,
		clock: time.Now,
		state: StateIdle,
		newDigitizer: func(cfg Config) (Digitizer, error) {
			if cfg.Sim {
				return NewSimDigitizer(cfg.SampleRate, true), nil
			}
			return newDeviceDigitizer(cfg.DevicePath, cfg.SampleRate)
		},
	}
}

// Initialize builds the digitizer, the two pools, and the stage chain.
// Any failure leaves the manager unusable; the caller must exit rather
// than record with a partly built pipeline.
func (m *SpectrometerManager) Initialize() error {
	if m.initialized {
		return nil
	}
	cfg := m.cfg

	var err error
	m.digitizer, err = m.newDigitizer(cfg)
	if err != nil {
		return err
	}
	if err := m.digitizer.Initialize(); err != nil {
		return fmt.Errorf("initialize digitizer: %w", err)
	}
	// The digitizer may hold a device fd; give it back on any later
	// failure even though the caller is expected to exit.
	fail := func(err error) error {
		if cerr := m.digitizer.Close(); cerr != nil {
			log.Printf("[manager] close digitizer: %v", cerr)
		}
		return err
	}

	kernel, err := NewPowerKernel(cfg.FFTSize, cfg.NAverages, cfg.SampleRate, cfg.SwitchingFrequency, cfg.BlankingPeriod)
	if err != nil {
		return fail(err)
	}

	m.sourcePool = bufferpool.NewPool[Sample](bufferpool.HostAllocator[Sample]{})
	if err := m.sourcePool.Allocate(cfg.DigitizerPoolSize, cfg.NAverages*cfg.FFTSize); err != nil {
		return fail(fmt.Errorf("allocate source pool: %w", err))
	}
	m.sinkPool = bufferpool.NewPool[SpectrometerResult](bufferpool.HostAllocator[SpectrometerResult]{})
	if err := m.sinkPool.Allocate(cfg.SpectrometerPoolSize, 1); err != nil {
		return fail(fmt.Errorf("allocate result pool: %w", err))
	}

	m.metrics = newPipelineMetrics()
	m.server = NewCommandServer(cfg.Port, m.metrics.Gatherer())
	m.commands = m.server

	producer := newDigitizerProducer(m.digitizer, m.sourcePool, cfg.IdleBackoff)
	m.acquisition = producer
	spectro := newSpectrometerStage(m.sourcePool, m.sinkPool, kernel, cfg.IdleBackoff)
	specWriter := newSpectrumWriter(cfg, m.sinkPool)
	accumWriter := newAccumulationWriter(cfg, m.sinkPool)
	m.sessions = []sessionConfigurer{specWriter, accumWriter}
	monitor := newPowerMonitor(m.sinkPool, m.server.BroadcastJSON, 250*time.Millisecond)

	digStage := stage.New("digitizer", cfg.NDigitizerThreads, producer)
	specStage := stage.New("spectrometer", cfg.NSpectrometerThreads, spectro)
	if cfg.PinWorkers {
		cpus := make([]int, 0, cfg.NSpectrometerThreads)
		for i := 0; i < cfg.NSpectrometerThreads; i++ {
			cpus = append(cpus, i+1)
		}
		specStage.SetAffinity(cpus)
		digCPUs := make([]int, 0, cfg.NDigitizerThreads)
		for i := 0; i < cfg.NDigitizerThreads; i++ {
			digCPUs = append(digCPUs, i+1+cfg.NSpectrometerThreads)
		}
		digStage.SetAffinity(digCPUs)
	}
	m.stages = []*stage.Stage{
		digStage,
		specStage,
		stage.New("spectrum-writer", 1, specWriter),
		stage.New("npow-writer", 1, accumWriter),
		stage.New("monitor", 1, monitor),
	}

	m.metrics.observePool("source", poolStats{snapshot: func() (uint64, uint64, uint64) {
		st := m.sourcePool.Stats()
		return st.Produced, st.Committed, st.Overwritten
	}}, m.sourcePool)
	m.metrics.observePool("sink", poolStats{snapshot: func() (uint64, uint64, uint64) {
		st := m.sinkPool.Stats()
		return st.Produced, st.Committed, st.Overwritten
	}}, m.sinkPool)

	m.initialized = true
	return nil
}

// Run starts the pipeline and blocks in the control loop until Shutdown.
// Stages start downstream first so nothing is produced into a consumer
// that is not yet draining.
func (m *SpectrometerManager) Run() error {
	if !m.initialized {
		return fmt.Errorf("manager not initialized")
	}
	for i := len(m.stages) - 1; i >= 0; i-- {
		m.stages[i].Start()
	}
	go func() {
		if err := m.server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[server] %v", err)
		}
	}()

	for !m.stop.Load() {
		m.tick()
		time.Sleep(m.cfg.TickInterval)
	}

	if m.state != StateIdle {
		m.processCommand(stopCommand)
	}
	for _, s := range m.stages {
		s.Stop()
		time.Sleep(m.cfg.DrainPause)
		s.Join()
		log.Printf("[manager] stage %s stopped", s.Name())
	}
	if err := m.digitizer.Close(); err != nil {
		log.Printf("[manager] close digitizer: %v", err)
	}
	return m.server.Close()
}

// Shutdown asks the control loop to wind the pipeline down. Safe from any
// goroutine.
func (m *SpectrometerManager) Shutdown() { m.stop.Store(true) }

// Submit queues a command as if a client had sent it.
func (m *SpectrometerManager) Submit(command string) { m.server.Submit(command) }

// tick runs one control loop iteration: drain at most one command, then
// let the clock drive pending starts and timed stops.
func (m *SpectrometerManager) tick() {
	if cmd, ok := m.commands.PopCommand(); ok {
		m.processCommand(cmd)
	}

	switch m.state {
	case StatePending:
		switch m.timeStateWRTNow(m.endTime) {
		case timeError:
			return
		case timeBefore, timePending:
			// The whole window slid past while we waited.
			log.Printf("[manager] recording window ended before start, back to idle")
			m.state = StateIdle
			return
		}
		switch m.timeStateWRTNow(m.startTime) {
		case timeBefore, timePending:
			log.Printf("[manager] scheduled start reached, recording until %d", m.endTime)
			m.acquisition.Acquire()
			m.state = StateRecordingUntilTime
		}
	case StateRecordingUntilTime:
		switch m.timeStateWRTNow(m.endTime) {
		case timeBefore, timePending:
			m.processCommand(stopCommand)
		}
	}
}

func (m *SpectrometerManager) processCommand(command string) {
	tokens := tokenize(command)
	if tokens == nil {
		log.Printf("[manager] dropping malformed command %q", command)
		return
	}
	verb := lookupCommand(tokens)
	m.metrics.observeCommand(verb)

	switch verb {
	case cmdRecordOn:
		if m.state != StateIdle {
			log.Printf("[manager] record=on ignored in state %s", m.state)
			return
		}
		m.experiment, m.sourceName, m.scanName = tokens[2], tokens[3], tokens[4]
		if err := m.configureSessions(); err != nil {
			log.Printf("[manager] configure session: %v", err)
			return
		}
		m.acquisition.Acquire()
		m.state = StateRecordingUntilOff
		log.Printf("[manager] recording until off: %s/%s/%s", m.experiment, m.sourceName, m.scanName)
	case cmdRecordOff:
		if m.state == StateRecordingUntilOff || m.state == StateRecordingUntilTime {
			m.acquisition.StopAfterNextBuffer()
		}
		if m.state != StateIdle {
			log.Printf("[manager] recording stopped")
			m.state = StateIdle
		}
	case cmdRecordSet:
		if m.state != StateIdle {
			log.Printf("[manager] record=set ignored in state %s", m.state)
			return
		}
		start, err := parseStartTime(tokens[5], m.clock())
		if err != nil {
			log.Printf("[manager] dropping command: %v", err)
			return
		}
		duration, err := parseDurationSeconds(tokens[6])
		if err != nil {
			log.Printf("[manager] dropping command: %v", err)
			return
		}
		m.experiment, m.sourceName, m.scanName = tokens[2], tokens[3], tokens[4]
		if err := m.configureSessions(); err != nil {
			log.Printf("[manager] configure session: %v", err)
			return
		}
		m.startTime = start
		m.endTime = start + duration
		if m.timeStateWRTNow(m.endTime) != timeAfter {
			log.Printf("[manager] recording window already past, staying idle")
			return
		}
		switch m.timeStateWRTNow(m.startTime) {
		case timeBefore, timePending:
			m.acquisition.Acquire()
			m.state = StateRecordingUntilTime
			log.Printf("[manager] recording until %d", m.endTime)
		case timeAfter:
			m.state = StatePending
			log.Printf("[manager] recording pending, start %d end %d", m.startTime, m.endTime)
		}
	default:
		log.Printf("[manager] dropping unknown command %q", command)
	}
}

func (m *SpectrometerManager) configureSessions() error {
	for _, s := range m.sessions {
		if err := s.Configure(m.experiment, m.sourceName, m.scanName); err != nil {
			return err
		}
	}
	return nil
}

// timeStateWRTNow classifies then against the current clock: more than a
// second in the past, within the last second up to and including now, or
// still to come. The one second band keeps a target from slipping between
// ticks unnoticed.
func (m *SpectrometerManager) timeStateWRTNow(then uint64) timeState {
	now := m.clock().Unix()
	if now <= 0 || then == 0 {
		return timeError
	}
	t := int64(then)
	switch {
	case t < now-1:
		return timeBefore
	case t <= now:
		return timePending
	default:
		return timeAfter
	}
}
