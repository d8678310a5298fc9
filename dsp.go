package main

import (
	"fmt"
	"math"
	"math/cmplx"
)

// PowerKernel averages windowed power spectra over consecutive FFT frames
// of a raw buffer and accumulates total power per noise diode half-cycle.
// A kernel is read-only after construction and safe for concurrent workers.
type PowerKernel struct {
	fftSize  int
	averages int

	window    []float64
	windowSum float64

	sampleRate         float64
	switchingFrequency float64
	blankingSamples    uint64
	halfCycleSamples   uint64
}

// NewPowerKernel builds a kernel for power-of-two fftSize. averages caps
// the number of frames folded into one spectrum; shorter buffers fold
// fewer. switchingFrequency of zero disables diode bookkeeping.
func NewPowerKernel(fftSize, averages int, sampleRate, switchingFrequency, blankingPeriod float64) (*PowerKernel, error) {
	if fftSize < 2 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d is not a power of two", fftSize)
	}
	if averages < 1 {
		return nil, fmt.Errorf("invalid average count %d", averages)
	}
	k := &PowerKernel{
		fftSize:            fftSize,
		averages:           averages,
		sampleRate:         sampleRate,
		switchingFrequency: switchingFrequency,
	}
	// Blackman window
	k.window = make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		k.window[i] = 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)) +
			0.08*math.Cos(4*math.Pi*float64(i)/float64(fftSize-1))
		k.windowSum += k.window[i]
	}
	if switchingFrequency > 0 {
		k.halfCycleSamples = uint64(sampleRate / (2.0 * switchingFrequency))
		if k.halfCycleSamples == 0 {
			return nil, fmt.Errorf("switching frequency %g too fast for sample rate %g", switchingFrequency, sampleRate)
		}
		k.blankingSamples = uint64(blankingPeriod * sampleRate)
	}
	return k, nil
}

func (k *PowerKernel) SpectrumLength() int { return k.fftSize/2 + 1 }

func (k *PowerKernel) Averages() int { return k.averages }

// Process folds up to Averages() frames of samples into one averaged
// power spectrum and fills the diode accumulations for the whole buffer.
// The result's provenance fields are the caller's job.
func (k *PowerKernel) Process(samples []Sample, out *SpectrometerResult) error {
	if len(samples) < k.fftSize {
		return fmt.Errorf("buffer of %d samples shorter than one %d-point frame", len(samples), k.fftSize)
	}
	frames := len(samples) / k.fftSize
	if frames > k.averages {
		frames = k.averages
	}

	// Remove the converter's offset-binary midpoint before anything else;
	// without this the DC bin swamps its neighbors through window leakage.
	mean := 0.0
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	nBins := k.SpectrumLength()
	if cap(out.Spectrum) < nBins {
		out.Spectrum = make([]float64, nBins)
	}
	out.Spectrum = out.Spectrum[:nBins]
	for i := range out.Spectrum {
		out.Spectrum[i] = 0
	}

	input := make([]complex128, k.fftSize)
	output := make([]complex128, k.fftSize)
	for f := 0; f < frames; f++ {
		frame := samples[f*k.fftSize : (f+1)*k.fftSize]
		for i, s := range frame {
			input[i] = complex((float64(s)-mean)*k.window[i], 0)
		}
		fft(output, input)
		for i := 0; i < nBins; i++ {
			re, im := real(output[i]), imag(output[i])
			out.Spectrum[i] += re*re + im*im
		}
	}
	norm := float64(frames) * k.windowSum * k.windowSum
	for i := range out.Spectrum {
		out.Spectrum[i] /= norm
	}
	out.NAverages = frames
	out.SpectrumLength = nBins

	k.accumulate(samples, mean, out)
	return nil
}

// accumulate sums per-sample power into one PowerAccumulation per diode
// half-cycle touching the buffer. Samples inside the blanking band around
// a diode transition are skipped. The diode phase is derived from the
// absolute sample index so it stays coherent across buffers.
func (k *PowerKernel) accumulate(samples []Sample, mean float64, out *SpectrometerResult) {
	out.OnAccumulations = out.OnAccumulations[:0]
	out.OffAccumulations = out.OffAccumulations[:0]

	if k.switchingFrequency <= 0 {
		acc := PowerAccumulation{StartSample: out.LeadingSampleIndex}
		for _, s := range samples {
			v := float64(s) - mean
			p := v * v
			acc.Sum += p
			acc.SumSquared += p * p
			acc.Count++
		}
		out.OnAccumulations = append(out.OnAccumulations, acc)
		return
	}

	var acc PowerAccumulation
	accHalf := uint64(math.MaxUint64)
	accOn := false
	flush := func() {
		if acc.Count == 0 {
			return
		}
		if accOn {
			out.OnAccumulations = append(out.OnAccumulations, acc)
		} else {
			out.OffAccumulations = append(out.OffAccumulations, acc)
		}
		acc = PowerAccumulation{}
	}

	base := out.LeadingSampleIndex
	for i, s := range samples {
		abs := base + uint64(i)
		half := abs / k.halfCycleSamples
		phase := abs % k.halfCycleSamples
		if phase < k.blankingSamples {
			continue
		}
		if half != accHalf {
			flush()
			accHalf = half
			accOn = half%2 == 0
			acc.StartSample = abs
		}
		v := float64(s) - mean
		p := v * v
		acc.Sum += p
		acc.SumSquared += p * p
		acc.Count++
	}
	flush()
}

// fft computes an iterative radix-2 Cooley-Tukey FFT of src into dst.
// Both slices must have the same power-of-two length.
func fft(dst, src []complex128) {
	n := len(src)
	if n <= 1 {
		copy(dst, src)
		return
	}

	// Bit-reversal permutation
	bits := 0
	for temp := n; temp > 1; temp >>= 1 {
		bits++
	}
	for i := 0; i < n; i++ {
		j := 0
		for k := 0; k < bits; k++ {
			if i&(1<<k) != 0 {
				j |= 1 << (bits - 1 - k)
			}
		}
		dst[j] = src[i]
	}

	for size := 2; size <= n; size *= 2 {
		halfSize := size / 2
		tableStep := n / size
		for i := 0; i < n; i += size {
			k := 0
			for j := i; j < i+halfSize; j++ {
				angle := -2 * math.Pi * float64(k) / float64(n)
				w := cmplx.Exp(complex(0, angle))

				t := dst[j+halfSize] * w
				dst[j+halfSize] = dst[j] - t
				dst[j] = dst[j] + t
				k += tableStep
			}
		}
	}
}
