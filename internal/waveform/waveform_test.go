package waveform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/helvox/internal/audio"
)

func assertInRange(t *testing.T, values []float64) {
	t.Helper()
	for i, v := range values {
		assert.GreaterOrEqual(t, v, -1.0, "index %d", i)
		assert.LessOrEqual(t, v, 1.0, "index %d", i)
	}
}

func TestSummarize_NilIsFlat(t *testing.T) {
	out := Summarize(nil, 100)
	require.Len(t, out, 100)
	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestSummarize_AlwaysNumPoints(t *testing.T) {
	lengths := []int{0, 1, 3, 49, 50, 99, 100, 101, 48000}
	for _, n := range lengths {
		samples := make(audio.Buffer, n)
		for i := range samples {
			samples[i] = float32(i%7-3) / 10
		}
		for _, points := range []int{1, 2, 7, 100, 101} {
			out := Summarize(samples, points)
			assert.Len(t, out, points, "len=%d points=%d", n, points)
			assertInRange(t, out)
		}
	}
}

func TestSummarize_NonPositivePoints(t *testing.T) {
	assert.Empty(t, Summarize(audio.Buffer{1, 2}, 0))
	assert.Empty(t, Summarize(audio.Buffer{1, 2}, -5))
}

func TestSummarize_MaxMinPairs(t *testing.T) {
	samples := audio.Buffer{0.1, -0.2, 0.4, -0.1, 0.2, -0.4, 0.3, 0.0}
	out := Summarize(samples, 4)

	// segments [0.1 -0.2 0.4 -0.1] and [0.2 -0.4 0.3 0.0], normalized by 0.4
	assert.InDeltaSlice(t, []float64{1, -0.5, 0.75, -1}, out, 1e-6)
}

func TestSummarize_AllZeroNotNormalized(t *testing.T) {
	out := Summarize(make(audio.Buffer, 1000), 10)
	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestSummarize_ShortInputPadded(t *testing.T) {
	out := Summarize(audio.Buffer{0.5, -0.25}, 10)
	assert.InDeltaSlice(t, []float64{1, -0.5, 0, 0, 0, 0, 0, 0, 0, 0}, out, 1e-9)
}

func TestSummarize_OddPointsLastSlotZero(t *testing.T) {
	samples := make(audio.Buffer, 300)
	for i := range samples {
		samples[i] = 0.5
	}
	out := Summarize(samples, 5)
	require.Len(t, out, 5)
	assert.InDeltaSlice(t, []float64{1, 1, 1, 1, 0}, out, 1e-9)
}

func TestSummarize_NaNIgnored(t *testing.T) {
	nan := float32(math.NaN())
	samples := audio.Buffer{0.2, nan, -0.4, 0.1, nan, nan, nan, nan}
	out := Summarize(samples, 4)

	assertInRange(t, out)
	// first segment normalized by 0.4; second segment holds only NaN
	assert.InDeltaSlice(t, []float64{0.5, -1, 0, 0}, out, 1e-6)

	raw := Summarize(audio.Buffer{nan, 0.5}, 100)
	assert.Equal(t, 0.0, raw[0])
	assert.Equal(t, 1.0, raw[1])
}
