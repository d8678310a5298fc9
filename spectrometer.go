package main

import (
	"log"
	"sync"
	"time"

	"github.com/spectrod/pkg/bufferpool"
)

// PowerAccumulation sums raw sample power over one noise diode half-cycle.
// Sum and SumSquared are over per-sample power, Count is the number of
// samples accumulated, StartSample is the index of the first one relative
// to the start of the acquisition.
type PowerAccumulation struct {
	Sum         float64
	SumSquared  float64
	Count       uint64
	StartSample uint64
}

// SpectrometerResult is one averaged spectrum plus the noise diode power
// accumulations covering the same span of raw samples.
type SpectrometerResult struct {
	AcquisitionStartSecond uint64
	LeadingSampleIndex     uint64
	SampleRate             float64
	NAverages              int
	SpectrumLength         int
	Spectrum               []float64
	OnAccumulations        []PowerAccumulation
	OffAccumulations       []PowerAccumulation
}

// SpectralKernel turns one raw sample buffer into one SpectrometerResult.
// Kernels are stateless across buffers so a stage can run several workers
// against the same kernel.
type SpectralKernel interface {
	SpectrumLength() int
	Averages() int
	Process(samples []Sample, out *SpectrometerResult) error
}

// spectrometerStage consumes raw buffers in order from the source pool,
// runs the kernel, and steals a sink slot for the result. The source slot
// is always released before the sink reservation so the stage never holds
// locks in two pools at once.
type spectrometerStage struct {
	source *bufferpool.Pool[Sample]
	sink   *bufferpool.Pool[SpectrometerResult]
	kernel SpectralKernel

	consumer bufferpool.Consumer
	wait     bufferpool.ConsumerWait[Sample]
	steal    bufferpool.ProducerSteal[SpectrometerResult]

	scratch     sync.Pool
	idleBackoff time.Duration
}

func newSpectrometerStage(source *bufferpool.Pool[Sample], sink *bufferpool.Pool[SpectrometerResult], kernel SpectralKernel, idle time.Duration) *spectrometerStage {
	s := &spectrometerStage{
		source:      source,
		sink:        sink,
		kernel:      kernel,
		wait:        bufferpool.ConsumerWait[Sample]{Attempts: 100},
		idleBackoff: idle,
	}
	s.scratch.New = func() interface{} {
		return &SpectrometerResult{Spectrum: make([]float64, kernel.SpectrumLength())}
	}
	source.Register(&s.consumer)
	return s
}

func (s *spectrometerStage) WorkPresent() bool {
	return s.source.Pending(s.consumer.ID()) != 0
}

func (s *spectrometerStage) Idle() { time.Sleep(s.idleBackoff) }

func (s *spectrometerStage) ExecuteTask() {
	code, src := s.wait.Reserve(s.source, &s.consumer)
	if code == bufferpool.ReserveOverwritten {
		log.Printf("[spectrometer] fell behind digitizer, raw buffers lost")
		return
	}
	if code != bufferpool.ReserveSuccess {
		return
	}
	if src.Metadata().ValidLength == 0 {
		// Empty commit from a producer stop edge, nothing to compute.
		s.wait.Release(s.source, &s.consumer, src)
		return
	}

	res := s.scratch.Get().(*SpectrometerResult)
	meta := src.Metadata()
	res.AcquisitionStartSecond = meta.AcquisitionStartSecond
	res.LeadingSampleIndex = meta.LeadingSampleIndex
	res.SampleRate = meta.SampleRate
	err := s.kernel.Process(src.Data()[:meta.ValidLength], res)
	s.wait.Release(s.source, &s.consumer, src)
	if err != nil {
		log.Printf("[spectrometer] process buffer at sample %d: %v", res.LeadingSampleIndex, err)
		s.scratch.Put(res)
		return
	}

	code, dst := s.steal.Reserve(s.sink)
	if code != bufferpool.ReserveSuccess || dst == nil {
		s.scratch.Put(res)
		return
	}
	copyResult(res, dst)
	s.steal.Release(s.sink, dst)
	s.scratch.Put(res)
}

// copyResult deep-copies one kernel result into a sink slot, reusing the
// slot's slices where capacity allows.
func copyResult(res *SpectrometerResult, dst *bufferpool.Slot[SpectrometerResult]) {
	out := &dst.Data()[0]
	out.AcquisitionStartSecond = res.AcquisitionStartSecond
	out.LeadingSampleIndex = res.LeadingSampleIndex
	out.SampleRate = res.SampleRate
	out.NAverages = res.NAverages
	out.SpectrumLength = res.SpectrumLength
	out.Spectrum = append(out.Spectrum[:0], res.Spectrum...)
	out.OnAccumulations = append(out.OnAccumulations[:0], res.OnAccumulations...)
	out.OffAccumulations = append(out.OffAccumulations[:0], res.OffAccumulations...)

	meta := dst.Metadata()
	meta.AcquisitionStartSecond = res.AcquisitionStartSecond
	meta.LeadingSampleIndex = res.LeadingSampleIndex
	meta.SampleRate = res.SampleRate
	meta.ValidLength = 1
}
