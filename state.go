package main

import "time"

// RecordingState gates acquisition start and stop. All transitions happen
// on the manager's control goroutine.
type RecordingState int

const (
	StateIdle RecordingState = iota
	StatePending
	StateRecordingUntilOff
	StateRecordingUntilTime
)

func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRecordingUntilOff:
		return "recording-until-off"
	case StateRecordingUntilTime:
		return "recording-until-time"
	}
	return "invalid"
}

// timeState classifies a target epoch second against the current clock.
// The one second pending band absorbs control-loop scheduling jitter.
type timeState int

const (
	timeError   timeState = iota - 1 // clock read invalid, take no action
	timeBefore                       // more than one second in the past
	timePending                      // within the last second, including now
	timeAfter                        // strictly in the future
)

// Config collects every knob the daemon exposes on the command line.
type Config struct {
	Port       int
	DataDir    string
	DevicePath string
	Sim        bool

	SampleRate float64
	FFTSize    int
	NAverages  int

	SwitchingFrequency float64 // noise diode switching, Hz (0 disables)
	BlankingPeriod     float64 // seconds blanked around each diode transition

	DigitizerPoolSize    int
	SpectrometerPoolSize int
	NDigitizerThreads    int
	NSpectrometerThreads int
	PinWorkers           bool

	Sideband     byte
	Polarization byte

	TickInterval time.Duration
	DrainPause   time.Duration
	IdleBackoff  time.Duration
}

// DefaultConfig mirrors the sizing the daemon has been run with on real
// hardware, scaled to fit an unremarkable host.
func DefaultConfig() Config {
	return Config{
		Port:                 8080,
		DataDir:              "data",
		DevicePath:           "/dev/xdma0_c2h_0",
		SampleRate:           250e6,
		FFTSize:              8192,
		NAverages:            64,
		SwitchingFrequency:   80.0,
		BlankingPeriod:       20.0 / 250e6,
		DigitizerPoolSize:    32,
		SpectrometerPoolSize: 16,
		NDigitizerThreads:    2,
		NSpectrometerThreads: 3,
		Sideband:             'U',
		Polarization:         'X',
		TickInterval:         time.Second,
		DrainPause:           500 * time.Millisecond,
		IdleBackoff:          100 * time.Microsecond,
	}
}
