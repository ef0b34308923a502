// Package trim removes leading and trailing silence from a finished take.
//
// A take is cut into fixed-size frames which are classified as voiced or
// unvoiced. The result keeps everything from the first voiced frame to the
// end of the last one, widened by a padding on both sides. Sample values are
// never altered: the result is a sub-slice of the input.
package trim

import (
	"fmt"
	"slices"

	"github.com/audiolibrelab/helvox/internal/audio"
)

// Classifier decides whether a 16-bit PCM frame contains speech.
type Classifier interface {
	IsSpeech(frame []int16, sampleRate int) (bool, error)
}

// Options configures a trim pass.
type Options struct {
	SampleRate     int
	Aggressiveness int     // 0..3, higher drops more non-speech
	FrameMs        int     // 10, 20 or 30
	Padding        float64 // seconds kept around the voiced region
}

// DefaultOptions matches the recorder defaults.
func DefaultOptions() Options {
	return Options{
		SampleRate:     audio.DefaultSampleRate,
		Aggressiveness: 2,
		FrameMs:        30,
		Padding:        0.1,
	}
}

var (
	validRates   = []int{8000, 16000, 32000, 48000}
	validFrameMs = []int{10, 20, 30}
)

func (o Options) Validate() error {
	if !slices.Contains(validRates, o.SampleRate) {
		return fmt.Errorf("invalid sample rate %d, must be one of %v", o.SampleRate, validRates)
	}
	if !slices.Contains(validFrameMs, o.FrameMs) {
		return fmt.Errorf("invalid frame duration %dms, must be one of %v", o.FrameMs, validFrameMs)
	}
	if o.Aggressiveness < 0 || o.Aggressiveness > 3 {
		return fmt.Errorf("aggressiveness must be between 0 and 3, got %d", o.Aggressiveness)
	}
	if o.Padding < 0 {
		return fmt.Errorf("padding cannot be negative")
	}
	return nil
}

// FrameSize is the number of samples per classified frame.
func (o Options) FrameSize() int {
	return o.SampleRate * o.FrameMs / 1000
}

// Region is the half-open sample range [Start, End) kept by a trim.
type Region struct {
	Start  int
	End    int
	Voiced bool // false when no frame was classified as speech
}

// Len returns the number of samples in the region.
func (r Region) Len() int {
	return r.End - r.Start
}

// Detect classifies samples and returns the padded voiced region. When no
// frame is voiced the region covers the whole input.
func Detect(samples audio.Buffer, opts Options, vad Classifier) (Region, error) {
	whole := Region{Start: 0, End: len(samples)}
	if err := opts.Validate(); err != nil {
		return whole, err
	}
	if vad == nil {
		return whole, fmt.Errorf("no voice classifier configured")
	}

	pcm := audio.ToPCM16(samples)
	frameSize := opts.FrameSize()
	numFrames := len(pcm) / frameSize // a trailing partial frame is ignored

	first, last := -1, -1
	for i := 0; i < numFrames; i++ {
		frame := pcm[i*frameSize : (i+1)*frameSize]
		speech, err := vad.IsSpeech(frame, opts.SampleRate)
		if err != nil {
			return whole, fmt.Errorf("classify frame %d: %w", i, err)
		}
		if speech {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	if first < 0 {
		return whole, nil
	}

	pad := int(opts.Padding * float64(opts.SampleRate))
	return Region{
		Start:  max(0, first*frameSize-pad),
		End:    min(len(samples), (last+1)*frameSize+pad),
		Voiced: true,
	}, nil
}

// TrimWith returns the voiced part of samples using vad. If nothing is
// voiced, samples is returned unchanged.
func TrimWith(samples audio.Buffer, opts Options, vad Classifier) (audio.Buffer, error) {
	region, err := Detect(samples, opts, vad)
	if err != nil {
		return nil, err
	}
	return samples[region.Start:region.End], nil
}

// Trim is TrimWith using the WebRTC voice activity detector.
func Trim(samples audio.Buffer, opts Options) (audio.Buffer, error) {
	vad, err := NewWebRTCClassifier(opts.Aggressiveness)
	if err != nil {
		return nil, err
	}
	return TrimWith(samples, opts, vad)
}

// NewClassifier returns the classifier named kind ("webrtc" or "energy").
func NewClassifier(kind string, aggressiveness int) (Classifier, error) {
	switch kind {
	case "", "webrtc":
		return NewWebRTCClassifier(aggressiveness)
	case "energy":
		return NewEnergyClassifier(aggressiveness), nil
	default:
		return nil, fmt.Errorf("unknown voice classifier %q", kind)
	}
}
