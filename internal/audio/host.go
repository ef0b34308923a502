package audio

import "errors"

var (
	// ErrDevice reports an enumeration, open or stream failure.
	ErrDevice = errors.New("audio device error")

	// ErrState reports a call that violates the capture state machine,
	// e.g. starting a second recording.
	ErrState = errors.New("invalid capture state")

	// ErrNoDevice is returned when no input device is selected or the
	// selected one is not connected.
	ErrNoDevice = errors.New("no input device selected")
)

// DeviceInfo describes an audio device as reported by the host.
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefaultInput    bool    `json:"is_default_input"`
}

// StreamConfig holds the parameters used to open a stream.
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int // 0 lets the host choose
}

// DefaultStreamConfig returns mono capture at DefaultSampleRate.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate: DefaultSampleRate,
		Channels:   1,
	}
}

// Stream is an open device stream driven by host callbacks.
type Stream interface {
	Start() error
	// Stop halts the stream and returns only once no further callback
	// will be delivered.
	Stop() error
	Close() error
}

// Host is the audio facility: device enumeration plus callback streams.
// Callbacks run on a host-owned goroutine and the frame slice is only valid
// for the duration of the call.
type Host interface {
	Devices() ([]DeviceInfo, error)
	OpenInput(device DeviceInfo, cfg StreamConfig, onFrame func(frame []float32)) (Stream, error)
	OpenOutput(cfg StreamConfig, fill func(out []float32)) (Stream, error)
}
