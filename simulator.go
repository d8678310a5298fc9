package main

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimDigitizer synthesizes dithered sine samples so the full pipeline can
// run without capture hardware. Selected with --sim.
type SimDigitizer struct {
	sampleRate float64
	toneFreq   float64
	throttle   bool

	mu      sync.Mutex
	phase   float64
	running bool
}

// NewSimDigitizer generates a tone at 1/50th of the sample rate. With
// throttle set it paces output at roughly the real sample rate; tests turn
// that off.
func NewSimDigitizer(sampleRate float64, throttle bool) *SimDigitizer {
	return &SimDigitizer{sampleRate: sampleRate, toneFreq: sampleRate / 50.0, throttle: throttle}
}

func (s *SimDigitizer) Initialize() error { return nil }

func (s *SimDigitizer) Start() error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *SimDigitizer) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *SimDigitizer) SamplingFrequency() float64 { return s.sampleRate }

func (s *SimDigitizer) Close() error { return nil }

// AcquireUntil fills buf with a dithered cosine in offset binary.
//
// The dither matters even at 12 bits: without +/- half a bit of noise,
// quantization spurs show up in the averaged spectra.
func (s *SimDigitizer) AcquireUntil(buf []Sample) (int, error) {
	const (
		amplitude = 2040.0 // just under 12-bit full scale, leaves dither headroom
		offset    = 2048.0
	)
	phaseStep := 2.0 * math.Pi * s.toneFreq / s.sampleRate

	s.mu.Lock()
	phase := s.phase
	for i := range buf {
		dither := rand.Float64() - 0.5
		val := offset + amplitude*math.Cos(phase) + dither
		if val > 4095 {
			val = 4095
		}
		if val < 0 {
			val = 0
		}
		buf[i] = Sample(val)
		phase += phaseStep
		if phase > 2.0*math.Pi {
			phase -= 2.0 * math.Pi
		}
	}
	s.phase = phase
	s.mu.Unlock()

	if s.throttle {
		time.Sleep(time.Duration(float64(len(buf)) / s.sampleRate * float64(time.Second)))
	}
	return len(buf), nil
}
