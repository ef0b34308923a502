package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost implements Host on top of PortAudio.
type PortAudioHost struct{}

// NewPortAudioHost initializes PortAudio. Call Terminate when done.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDevice, err)
	}
	return &PortAudioHost{}, nil
}

// Terminate releases PortAudio.
func (h *PortAudioHost) Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Devices lists every device PortAudio knows about.
func (h *PortAudioHost) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultInputName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputName = def.Name
	}

	out := make([]DeviceInfo, 0, len(devices))
	for i, dev := range devices {
		info := DeviceInfo{
			Index:             i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    dev.Name == defaultInputName,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// OpenInput opens a callback input stream on device. PortAudio's Stop waits
// for pending buffers to be processed, which gives Stream.Stop its barrier.
func (h *PortAudioHost) OpenInput(device DeviceInfo, cfg StreamConfig, onFrame func(frame []float32)) (Stream, error) {
	dev, err := h.findInputDevice(device.Name)
	if err != nil {
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onFrame(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return stream, nil
}

// OpenOutput opens a callback stream on the default output device.
func (h *PortAudioHost) OpenOutput(cfg StreamConfig, fill func(out []float32)) (Stream, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("no default output device: %w", err)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		fill(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	return stream, nil
}

// findInputDevice re-resolves a device by name so a stale index from an
// earlier enumeration is never used.
func (h *PortAudioHost) findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}
