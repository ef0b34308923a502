// Package audiotest provides an in-memory audio host for tests.
package audiotest

import (
	"errors"
	"sync"

	"github.com/audiolibrelab/helvox/internal/audio"
)

// FakeHost is an audio.Host whose streams are fed by the test.
type FakeHost struct {
	mu         sync.Mutex
	devices    []audio.DeviceInfo
	devicesErr error
	openErrs   map[string]error
	inputs     []*FakeStream
	outputs    []*FakeStream
}

// NewFakeHost returns a host that reports devices.
func NewFakeHost(devices ...audio.DeviceInfo) *FakeHost {
	return &FakeHost{
		devices:  devices,
		openErrs: make(map[string]error),
	}
}

// Mic is a convenience constructor for a mono input device.
func Mic(index int, name string) audio.DeviceInfo {
	return audio.DeviceInfo{Index: index, Name: name, MaxInputChannels: 1, DefaultSampleRate: 48000}
}

// Speaker is a convenience constructor for an output-only device.
func Speaker(index int, name string) audio.DeviceInfo {
	return audio.DeviceInfo{Index: index, Name: name, MaxOutputChannels: 2, DefaultSampleRate: 48000}
}

// FailDevices makes Devices return err.
func (h *FakeHost) FailDevices(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devicesErr = err
}

// FailOpen makes OpenInput on the named device return err.
func (h *FakeHost) FailOpen(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErrs[name] = err
}

func (h *FakeHost) Devices() ([]audio.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.devicesErr != nil {
		return nil, h.devicesErr
	}
	out := make([]audio.DeviceInfo, len(h.devices))
	copy(out, h.devices)
	return out, nil
}

func (h *FakeHost) OpenInput(device audio.DeviceInfo, cfg audio.StreamConfig, onFrame func([]float32)) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.openErrs[device.Name]; err != nil {
		return nil, err
	}
	s := &FakeStream{Device: device, Config: cfg, onFrame: onFrame}
	h.inputs = append(h.inputs, s)
	return s, nil
}

func (h *FakeHost) OpenOutput(cfg audio.StreamConfig, fill func([]float32)) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &FakeStream{Output: true, Config: cfg, fill: fill}
	h.outputs = append(h.outputs, s)
	return s, nil
}

// Inputs returns every input stream opened so far.
func (h *FakeHost) Inputs() []*FakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*FakeStream(nil), h.inputs...)
}

// Outputs returns every output stream opened so far.
func (h *FakeHost) Outputs() []*FakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*FakeStream(nil), h.outputs...)
}

// Running returns the input streams currently delivering callbacks.
func (h *FakeHost) Running() []*FakeStream {
	var out []*FakeStream
	for _, s := range h.Inputs() {
		if s.Running() {
			out = append(out, s)
		}
	}
	return out
}

// Deliver sends frame to every running input stream and reports how many
// streams received it.
func (h *FakeHost) Deliver(frame []float32) int {
	n := 0
	for _, s := range h.Running() {
		if s.Deliver(frame) {
			n++
		}
	}
	return n
}

var errClosed = errors.New("stream closed")

// FakeStream delivers callbacks under its own lock, so Stop waits for an
// in-flight callback to return.
type FakeStream struct {
	Device audio.DeviceInfo
	Config audio.StreamConfig
	Output bool

	mu      sync.Mutex
	running bool
	closed  bool
	onFrame func([]float32)
	fill    func([]float32)
}

func (s *FakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.running = true
	return nil
}

func (s *FakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.closed = true
	return nil
}

func (s *FakeStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deliver invokes the input callback with frame if the stream is running.
func (s *FakeStream) Deliver(frame []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.onFrame == nil {
		return false
	}
	s.onFrame(frame)
	return true
}

// Pull asks an output stream for n samples.
func (s *FakeStream) Pull(n int) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.fill == nil {
		return nil, false
	}
	out := make([]float32, n)
	s.fill(out)
	return out, true
}
