package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// StreamState is the lifecycle state of one capture slot.
type StreamState string

const (
	StateClosed   StreamState = "CLOSED"
	StateStarting StreamState = "STARTING"
	StateOpen     StreamState = "OPEN"
	StateFailed   StreamState = "FAILED" // closed after an open or stream error
)

// slot tracks one stream. live is cleared once the stream has been stopped so
// a callback delivered after Stop can never touch engine state.
type slot struct {
	state  StreamState
	device DeviceInfo
	stream Stream
	live   *atomic.Bool
	acc    *accumulator
	err    error
}

// accumulator collects record frames in delivery order.
type accumulator struct {
	mu     sync.Mutex
	frames [][]float32
}

func (a *accumulator) add(frame []float32) {
	a.mu.Lock()
	a.frames = append(a.frames, frame)
	a.mu.Unlock()
}

func (a *accumulator) take() [][]float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	frames := a.frames
	a.frames = nil
	return frames
}

// Capture owns the monitor and record streams of one recorder. Monitoring
// and recording are never open at the same time: starting a recording
// suspends the monitor and stopping it resumes the monitor on the same device.
type Capture struct {
	host Host
	cfg  StreamConfig

	mu      sync.Mutex
	monitor slot
	record  slot

	// float64 bits of the last level written by the open stream
	level atomic.Uint64
}

// NewCapture creates a capture engine on host. Zero fields in cfg fall back
// to DefaultStreamConfig.
func NewCapture(host Host, cfg StreamConfig) *Capture {
	def := DefaultStreamConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}

	c := &Capture{
		host:    host,
		cfg:     cfg,
		monitor: slot{state: StateClosed},
		record:  slot{state: StateClosed},
	}
	c.setLevel(SilenceFloorDB)
	return c
}

// Config returns the stream parameters used for both slots.
func (c *Capture) Config() StreamConfig {
	return c.cfg
}

// Level returns the most recent level in dBFS, or SilenceFloorDB when no
// stream is open.
func (c *Capture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

func (c *Capture) setLevel(db float64) {
	c.level.Store(math.Float64bits(db))
}

// MonitorState reports the monitor slot state and its last error.
func (c *Capture) MonitorState() (StreamState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor.state, c.monitor.err
}

// RecordState reports the record slot state and its last error.
func (c *Capture) RecordState() (StreamState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.state, c.record.err
}

// IsRecording reports whether the record stream is open.
func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.state == StateOpen
}

// StartMonitoring opens a level-only stream on device. It is a no-op while a
// recording is open; the monitor resumes when the recording stops.
func (c *Capture) StartMonitoring(device DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startMonitoringLocked(device)
}

func (c *Capture) startMonitoringLocked(device DeviceInfo) error {
	if c.record.state == StateOpen || c.record.state == StateStarting {
		slog.Debug("Monitoring deferred while recording", "device", device.Name)
		return nil
	}

	if c.monitor.state == StateOpen {
		if c.monitor.device.Name == device.Name {
			return nil
		}
		c.closeMonitorLocked()
	}

	c.monitor = slot{state: StateStarting, device: device}

	live := new(atomic.Bool)
	live.Store(true)
	stream, err := c.openLocked(device, func(frame []float32) {
		if !live.Load() {
			return
		}
		c.setLevel(LevelDB(frame))
	})
	if err != nil {
		c.monitor.state = StateFailed
		c.monitor.err = err
		c.setLevel(SilenceFloorDB)
		slog.Warn("Failed to start monitoring", "device", device.Name, "error", err)
		return err
	}

	c.monitor.stream = stream
	c.monitor.live = live
	c.monitor.state = StateOpen
	slog.Debug("Monitoring started", "device", device.Name)
	return nil
}

// StopMonitoring closes the monitor stream and resets the level. Calling it
// while already closed is a no-op.
func (c *Capture) StopMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeMonitorLocked()
	if c.record.state != StateOpen {
		c.setLevel(SilenceFloorDB)
	}
}

func (c *Capture) closeMonitorLocked() {
	if c.monitor.stream != nil {
		if err := c.monitor.stream.Stop(); err != nil {
			slog.Warn("Error stopping monitor stream", "device", c.monitor.device.Name, "error", err)
		}
		c.monitor.live.Store(false)
		if err := c.monitor.stream.Close(); err != nil {
			slog.Warn("Error closing monitor stream", "device", c.monitor.device.Name, "error", err)
		}
		slog.Debug("Monitoring stopped", "device", c.monitor.device.Name)
	}
	c.monitor = slot{state: StateClosed}
}

// StartRecording opens the record stream on device after suspending the
// monitor. Only one recording may be open at a time.
func (c *Capture) StartRecording(device DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record.state == StateOpen || c.record.state == StateStarting {
		return fmt.Errorf("%w: recording already in progress on %q", ErrState, c.record.device.Name)
	}

	c.closeMonitorLocked()

	acc := &accumulator{}
	live := new(atomic.Bool)
	live.Store(true)

	c.record = slot{state: StateStarting, device: device}
	stream, err := c.openLocked(device, func(frame []float32) {
		if !live.Load() {
			return
		}
		// the host reuses its buffer between callbacks
		owned := make([]float32, len(frame))
		copy(owned, frame)
		acc.add(owned)
		c.setLevel(LevelDB(owned))
	})
	if err != nil {
		c.record.state = StateFailed
		c.record.err = err
		slog.Error("Failed to start recording", "device", device.Name, "error", err)
		if mErr := c.startMonitoringLocked(device); mErr != nil {
			slog.Debug("Monitor not resumed after failed recording", "error", mErr)
		}
		return err
	}

	c.record.stream = stream
	c.record.live = live
	c.record.acc = acc
	c.record.state = StateOpen
	slog.Info("Recording started", "device", device.Name, "sample_rate", c.cfg.SampleRate)
	return nil
}

// StopRecording closes the record stream, waits for the host to deliver its
// last callback and returns the take. The buffer is nil when no frame was
// captured. Monitoring resumes on the recording device afterwards.
func (c *Capture) StopRecording() (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record.state != StateOpen {
		return nil, fmt.Errorf("%w: no recording in progress", ErrState)
	}

	device := c.record.device
	if err := c.record.stream.Stop(); err != nil {
		slog.Warn("Error stopping record stream", "device", device.Name, "error", err)
	}
	c.record.live.Store(false)
	if err := c.record.stream.Close(); err != nil {
		slog.Warn("Error closing record stream", "device", device.Name, "error", err)
	}

	take := Concat(c.record.acc.take())
	c.record = slot{state: StateClosed}
	c.setLevel(SilenceFloorDB)

	slog.Info("Recording stopped", "device", device.Name, "samples", len(take),
		"seconds", take.Seconds(c.cfg.SampleRate))

	if err := c.startMonitoringLocked(device); err != nil {
		slog.Warn("Could not resume monitoring after recording", "device", device.Name, "error", err)
	}
	return take, nil
}

// Close stops every open stream. A recording in progress is discarded.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeMonitorLocked()
	if c.record.stream != nil {
		if err := c.record.stream.Stop(); err != nil {
			slog.Warn("Error stopping record stream", "error", err)
		}
		c.record.live.Store(false)
		if err := c.record.stream.Close(); err != nil {
			slog.Warn("Error closing record stream", "error", err)
		}
	}
	c.record = slot{state: StateClosed}
	c.setLevel(SilenceFloorDB)
}

func (c *Capture) openLocked(device DeviceInfo, onFrame func([]float32)) (Stream, error) {
	if c.host == nil {
		return nil, fmt.Errorf("%w: no audio host available", ErrDevice)
	}
	if device.Name == "" {
		return nil, ErrNoDevice
	}

	stream, err := c.host.OpenInput(device, c.cfg, onFrame)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrDevice, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start %q: %v", ErrDevice, device.Name, err)
	}
	return stream, nil
}
