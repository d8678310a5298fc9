package main

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toneSamples(n, fftSize, bin int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		phase := 2 * math.Pi * float64(bin) * float64(i) / float64(fftSize)
		samples[i] = Sample(2048 + 1000*math.Cos(phase))
	}
	return samples
}

func TestFFTImpulseIsFlat(t *testing.T) {
	src := make([]complex128, 8)
	dst := make([]complex128, 8)
	src[0] = 1

	fft(dst, src)

	for i, v := range dst {
		assert.InDelta(t, 1.0, cmplx.Abs(v), 1e-9, "bin %d", i)
	}
}

func TestFFTSingleToneLandsInOneBin(t *testing.T) {
	const n = 64
	src := make([]complex128, n)
	dst := make([]complex128, n)
	for i := range src {
		src[i] = complex(math.Cos(2*math.Pi*5*float64(i)/n), 0)
	}

	fft(dst, src)

	assert.InDelta(t, float64(n)/2, cmplx.Abs(dst[5]), 1e-6)
	assert.InDelta(t, 0, cmplx.Abs(dst[9]), 1e-6)
}

func TestPowerKernelRejectsBadGeometry(t *testing.T) {
	_, err := NewPowerKernel(1000, 4, 1e6, 0, 0)
	assert.Error(t, err, "fft size not a power of two")
	_, err = NewPowerKernel(256, 0, 1e6, 0, 0)
	assert.Error(t, err, "zero averages")
	_, err = NewPowerKernel(256, 4, 100.0, 1e6, 0)
	assert.Error(t, err, "switching faster than sampling")
}

func TestPowerKernelPeakBin(t *testing.T) {
	const fftSize, bin = 256, 32
	k, err := NewPowerKernel(fftSize, 4, 1e6, 0, 0)
	require.NoError(t, err)

	var res SpectrometerResult
	require.NoError(t, k.Process(toneSamples(4*fftSize, fftSize, bin), &res))

	require.Len(t, res.Spectrum, fftSize/2+1)
	assert.Equal(t, 4, res.NAverages)

	peak := 1
	for i := 2; i < len(res.Spectrum); i++ {
		if res.Spectrum[i] > res.Spectrum[peak] {
			peak = i
		}
	}
	assert.InDelta(t, bin, peak, 1, "tone should land in its bin")
	assert.Greater(t, res.Spectrum[peak], 100*res.Spectrum[peak+8], "peak should tower over the noise floor")
}

func TestPowerKernelShortBuffer(t *testing.T) {
	k, err := NewPowerKernel(256, 4, 1e6, 0, 0)
	require.NoError(t, err)

	var res SpectrometerResult
	assert.Error(t, k.Process(make([]Sample, 100), &res))
}

func TestPowerKernelFoldsOnlyWholeFrames(t *testing.T) {
	k, err := NewPowerKernel(256, 8, 1e6, 0, 0)
	require.NoError(t, err)

	var res SpectrometerResult
	require.NoError(t, k.Process(toneSamples(2*256+100, 256, 10), &res))
	assert.Equal(t, 2, res.NAverages)
}

func TestAccumulationsAlternateOnOff(t *testing.T) {
	// 64 samples per half cycle: sampleRate 1024, switching 8 Hz.
	k, err := NewPowerKernel(256, 2, 1024, 8, 0)
	require.NoError(t, err)

	var res SpectrometerResult
	res.LeadingSampleIndex = 0
	require.NoError(t, k.Process(toneSamples(512, 256, 32), &res))

	require.Len(t, res.OnAccumulations, 4)
	require.Len(t, res.OffAccumulations, 4)
	for i, acc := range res.OnAccumulations {
		assert.Equal(t, uint64(64), acc.Count)
		assert.Equal(t, uint64(i*128), acc.StartSample)
		assert.Greater(t, acc.Sum, 0.0)
	}
	for i, acc := range res.OffAccumulations {
		assert.Equal(t, uint64(64), acc.Count)
		assert.Equal(t, uint64(64+i*128), acc.StartSample)
	}
}

func TestAccumulationsBlankTransitions(t *testing.T) {
	// 8 samples blanked at the head of each 64 sample half cycle.
	k, err := NewPowerKernel(256, 2, 1024, 8, 8.0/1024)
	require.NoError(t, err)

	var res SpectrometerResult
	require.NoError(t, k.Process(toneSamples(512, 256, 32), &res))

	require.NotEmpty(t, res.OnAccumulations)
	for _, acc := range res.OnAccumulations {
		assert.Equal(t, uint64(56), acc.Count)
	}
	assert.Equal(t, uint64(8), res.OnAccumulations[0].StartSample)
}

func TestAccumulationPhaseFollowsAbsoluteIndex(t *testing.T) {
	k, err := NewPowerKernel(256, 2, 1024, 8, 0)
	require.NoError(t, err)

	// A buffer starting mid-stream lands mid half-cycle.
	var res SpectrometerResult
	res.LeadingSampleIndex = 96
	require.NoError(t, k.Process(toneSamples(256, 256, 32), &res))

	require.NotEmpty(t, res.OffAccumulations)
	first := res.OffAccumulations[0]
	assert.Equal(t, uint64(96), first.StartSample)
	assert.Equal(t, uint64(32), first.Count, "only the tail of the interrupted half cycle")
}

func TestSwitchingDisabledSingleAccumulation(t *testing.T) {
	k, err := NewPowerKernel(256, 2, 1024, 0, 0)
	require.NoError(t, err)

	var res SpectrometerResult
	require.NoError(t, k.Process(toneSamples(512, 256, 32), &res))

	require.Len(t, res.OnAccumulations, 1)
	assert.Empty(t, res.OffAccumulations)
	assert.Equal(t, uint64(512), res.OnAccumulations[0].Count)
}
