// Package waveform reduces a take to a fixed-size min/max envelope for display.
package waveform

import (
	"math"

	"github.com/audiolibrelab/helvox/internal/audio"
)

// DefaultPoints is the envelope size used by the recorder.
const DefaultPoints = 100

// Summarize returns exactly numPoints values in [-1, 1]. Samples are
// normalized by their peak and split into numPoints/2 segments, each
// contributing its maximum followed by its minimum. Inputs shorter than the
// number of segments are returned sample by sample, zero padded. A nil
// buffer yields all zeros; callers treat that as "no take". NaN samples are
// ignored and show as 0.
func Summarize(samples audio.Buffer, numPoints int) []float64 {
	if numPoints <= 0 {
		return []float64{}
	}
	out := make([]float64, numPoints)
	if len(samples) == 0 {
		return out
	}

	var peak float64
	for _, s := range samples {
		if !isNaN(s) {
			peak = math.Max(peak, math.Abs(float64(s)))
		}
	}
	norm := func(s float32) float64 {
		if isNaN(s) {
			return 0
		}
		v := float64(s)
		if peak > 0 && !math.IsInf(peak, 1) {
			v /= peak
		}
		return math.Max(-1, math.Min(1, v))
	}

	segments := numPoints / 2
	if segments == 0 || len(samples) < segments {
		for i := 0; i < len(samples) && i < numPoints; i++ {
			out[i] = norm(samples[i])
		}
		return out
	}

	per := len(samples) / segments
	for i := 0; i < segments; i++ {
		hi, lo, ok := extremes(samples[i*per : (i+1)*per])
		if !ok {
			continue
		}
		out[2*i] = norm(hi)
		out[2*i+1] = norm(lo)
	}
	return out
}

// extremes returns the maximum and minimum of seg, skipping NaN. ok is false
// when seg holds no number.
func extremes(seg []float32) (hi, lo float32, ok bool) {
	for _, s := range seg {
		if isNaN(s) {
			continue
		}
		if !ok {
			hi, lo, ok = s, s, true
			continue
		}
		hi = max(hi, s)
		lo = min(lo, s)
	}
	return hi, lo, ok
}

func isNaN(s float32) bool {
	return s != s
}
