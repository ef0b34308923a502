package audio

import "time"

// DefaultSampleRate is the capture rate used when none is configured.
const DefaultSampleRate = 48000

// Buffer is a mono sequence of normalized samples in [-1, 1].
type Buffer []float32

// Concat joins frames in order into a single buffer. It returns nil when the
// frames hold no samples.
func Concat(frames [][]float32) Buffer {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	if total == 0 {
		return nil
	}

	out := make(Buffer, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Duration returns the playing time of b at sampleRate.
func (b Buffer) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b)) / float64(sampleRate) * float64(time.Second))
}

// Seconds returns the playing time of b at sampleRate in seconds.
func (b Buffer) Seconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(b)) / float64(sampleRate)
}

// PCM16Scale maps full scale between normalized samples and 16-bit PCM in
// both directions.
const PCM16Scale = 32767

// ToPCM16 converts normalized samples to 16-bit PCM by scaling with
// PCM16Scale and truncating toward zero. Out-of-range input is clamped first.
func ToPCM16(b []float32) []int16 {
	out := make([]int16, len(b))
	for i, s := range b {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * PCM16Scale)
	}
	return out
}

// FromPCM16 converts 16-bit PCM to normalized samples. -32768 maps to -1.
func FromPCM16(pcm []int16) Buffer {
	out := make(Buffer, len(pcm))
	for i, s := range pcm {
		out[i] = max(-1, float32(s)/PCM16Scale)
	}
	return out
}
