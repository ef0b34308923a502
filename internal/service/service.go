package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/audiolibrelab/helvox/internal/audio"
	"github.com/audiolibrelab/helvox/internal/config"
	"github.com/audiolibrelab/helvox/internal/dataset"
	"github.com/audiolibrelab/helvox/internal/play"
	"github.com/audiolibrelab/helvox/internal/session"
	"github.com/audiolibrelab/helvox/internal/trim"
	"github.com/audiolibrelab/helvox/internal/waveform"
)

var (
	// ErrNoTake is returned when an operation needs a stopped take and none is held.
	ErrNoTake = errors.New("no take recorded")
	// ErrEmptyTake is returned by StopRecording when no audio was captured.
	ErrEmptyTake = errors.New("recording captured no audio")
	// ErrNoEntry is returned when no entry is being recorded.
	ErrNoEntry = errors.New("no entry selected")
	// ErrAudioRefTaken is returned when a take file name belongs to another completed entry.
	ErrAudioRefTaken = errors.New("audio file name already in use")
)

// Service is the recorder facade used by the command line.
type Service interface {
	// Device operations
	RefreshDevices() []string
	Devices() []audio.DeviceInfo
	SelectedDevice() (audio.DeviceInfo, error)

	// Monitoring operations
	StartMonitoring() error
	StopMonitoring()
	RestartMonitoring() error
	Level() float64

	// Recording operations
	StartRecording() error
	StopRecording() (*Take, error)
	DiscardTake()
	CurrentTake() *Take
	GetRecordingStatus() RecordingStatus

	// Playback operations
	PlayTake(trimmed bool) error
	PlayEntry(id string) error
	AudioPath(id string) (string, error)
	StopPlayback()
	IsPlaying() bool
	WaitPlayback(ctx context.Context) error

	// Session operations
	LoadSession() error
	Next() (dataset.Entry, error)
	Current() (dataset.Entry, bool)
	Skip() error
	SaveTake() (dataset.Entry, error)
	Entry(id string) (dataset.Entry, error)
	Progress() session.Progress

	// Configuration operations
	GetConfig() *config.Config
	ApplySettings(settings config.Settings) error
	SaveConfig() error

	GetLastError() string
	Close() error
}

// RecordingStatus represents the current capture state
type RecordingStatus string

const (
	StatusStandby    RecordingStatus = "STANDBY"
	StatusMonitoring RecordingStatus = "MONITORING"
	StatusRecording  RecordingStatus = "RECORDING"
	StatusError      RecordingStatus = "ERROR"
)

// Take is a stopped recording with its trimmed counterpart and previews.
type Take struct {
	ID              string       `json:"id"`
	SampleRate      int          `json:"sample_rate"`
	Raw             audio.Buffer `json:"-"`
	Trimmed         audio.Buffer `json:"-"`
	RawDuration     float64      `json:"raw_duration_s"`
	TrimmedDuration float64      `json:"trimmed_duration_s"`
	RawWaveform     []float64    `json:"raw_waveform"`
	TrimmedWaveform []float64    `json:"trimmed_waveform"`
	Voiced          bool         `json:"voiced"`
}

// HelvoxService is the main service implementation
type HelvoxService struct {
	cfg        *config.Config
	configFile string

	devices *audio.Directory
	capture *audio.Capture
	player  *play.Player
	session *session.Session

	mu      sync.Mutex
	current *dataset.Entry
	take    *Take

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a recorder service on host. The session is not loaded until
// LoadSession is called.
func New(cfg *config.Config, configFile string, host audio.Host) Service {
	streamCfg := streamConfig(cfg)
	s := &HelvoxService{
		cfg:        cfg,
		configFile: configFile,
		devices:    audio.NewDirectory(host),
		capture:    audio.NewCapture(host, streamCfg),
		player:     play.New(host, streamCfg),
		session:    session.New(),
	}
	s.devices.Refresh()
	return s
}

func streamConfig(cfg *config.Config) audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	}
}

// RefreshDevices re-enumerates the input devices and returns their names.
func (s *HelvoxService) RefreshDevices() []string {
	s.devices.Refresh()
	return s.devices.Names()
}

// Devices returns the input devices found by the last refresh, sorted by name.
func (s *HelvoxService) Devices() []audio.DeviceInfo {
	byName := s.devices.Devices()
	out := make([]audio.DeviceInfo, 0, len(byName))
	for _, name := range s.devices.Names() {
		out = append(out, byName[name])
	}
	return out
}

// SelectedDevice resolves the configured device name against the directory.
func (s *HelvoxService) SelectedDevice() (audio.DeviceInfo, error) {
	name := s.cfg.Settings.SelectedDevice
	if name == "" {
		return audio.DeviceInfo{}, audio.ErrNoDevice
	}
	device, ok := s.devices.Lookup(name)
	if !ok {
		return audio.DeviceInfo{}, fmt.Errorf("%w: %q is not connected", audio.ErrNoDevice, name)
	}
	return device, nil
}

// StartMonitoring opens the level meter on the selected device.
func (s *HelvoxService) StartMonitoring() error {
	device, err := s.SelectedDevice()
	if err != nil {
		s.setLastError(err.Error())
		return err
	}
	if err := s.capture.StartMonitoring(device); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start monitoring: %v", err))
		return err
	}
	return nil
}

// StopMonitoring closes the level meter.
func (s *HelvoxService) StopMonitoring() {
	s.capture.StopMonitoring()
}

// RestartMonitoring re-opens the level meter, e.g. after a device change.
func (s *HelvoxService) RestartMonitoring() error {
	s.capture.StopMonitoring()
	return s.StartMonitoring()
}

// Level returns the current input level in dBFS.
func (s *HelvoxService) Level() float64 {
	return s.capture.Level()
}

// StartRecording starts a take for the current entry on the selected device.
// A held take that was not saved is discarded.
func (s *HelvoxService) StartRecording() error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()

	device, err := s.SelectedDevice()
	if err != nil {
		s.setLastError(err.Error())
		return err
	}

	s.player.Stop()
	if err := s.capture.StartRecording(device); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	s.mu.Lock()
	s.take = nil
	s.mu.Unlock()
	return nil
}

// StopRecording ends the take, trims it and keeps both versions until the
// next recording, SaveTake or DiscardTake.
func (s *HelvoxService) StopRecording() (*Take, error) {
	raw, err := s.capture.StopRecording()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyTake
	}

	take := s.buildTake(raw)

	s.mu.Lock()
	if s.current != nil {
		take.ID = s.current.ID
	}
	s.take = take
	s.mu.Unlock()

	slog.Info("Take ready", "id", take.ID, "raw_s", take.RawDuration, "trimmed_s", take.TrimmedDuration, "voiced", take.Voiced)
	return take, nil
}

func (s *HelvoxService) buildTake(raw audio.Buffer) *Take {
	rate := s.capture.Config().SampleRate
	opts := trim.Options{
		SampleRate:     rate,
		Aggressiveness: s.cfg.Audio.TrimAggressiveness,
		FrameMs:        s.cfg.Audio.TrimFrameMs,
		Padding:        s.cfg.Audio.TrimPaddingS,
	}

	trimmed := raw
	voiced := false
	vad, err := trim.NewClassifier(s.cfg.Audio.VAD, opts.Aggressiveness)
	if err == nil {
		var region trim.Region
		region, err = trim.Detect(raw, opts, vad)
		if err == nil {
			trimmed = raw[region.Start:region.End]
			voiced = region.Voiced
		}
	}
	if err != nil {
		slog.Warn("Trim failed, keeping the full take", "error", err)
		s.setLastError(fmt.Sprintf("Trim failed: %v", err))
	}

	points := s.cfg.Audio.WaveformPoints
	if points <= 0 {
		points = waveform.DefaultPoints
	}
	return &Take{
		SampleRate:      rate,
		Raw:             raw,
		Trimmed:         trimmed,
		RawDuration:     raw.Seconds(rate),
		TrimmedDuration: trimmed.Seconds(rate),
		RawWaveform:     waveform.Summarize(raw, points),
		TrimmedWaveform: waveform.Summarize(trimmed, points),
		Voiced:          voiced,
	}
}

// DiscardTake drops the held take.
func (s *HelvoxService) DiscardTake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.take = nil
}

// CurrentTake returns the held take, or nil.
func (s *HelvoxService) CurrentTake() *Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take
}

// GetRecordingStatus returns the current capture state
func (s *HelvoxService) GetRecordingStatus() RecordingStatus {
	if s.capture.IsRecording() {
		return StatusRecording
	}
	state, _ := s.capture.MonitorState()
	switch state {
	case audio.StateOpen, audio.StateStarting:
		return StatusMonitoring
	case audio.StateFailed:
		return StatusError
	}
	if recState, _ := s.capture.RecordState(); recState == audio.StateFailed {
		return StatusError
	}
	return StatusStandby
}

// PlayTake previews the held take, trimmed or in full.
func (s *HelvoxService) PlayTake(trimmed bool) error {
	take := s.CurrentTake()
	if take == nil {
		return ErrNoTake
	}
	samples := take.Raw
	if trimmed {
		samples = take.Trimmed
	}
	if err := s.player.Play(samples, take.SampleRate); err != nil {
		s.setLastError(fmt.Sprintf("Playback failed: %v", err))
		return err
	}
	return nil
}

// PlayEntry plays the saved audio of a completed entry.
func (s *HelvoxService) PlayEntry(id string) error {
	path, err := s.AudioPath(id)
	if err != nil {
		return err
	}
	return s.player.PlayFile(path)
}

// AudioPath returns the take file of a completed entry.
func (s *HelvoxService) AudioPath(id string) (string, error) {
	entry, err := s.session.Entry(id)
	if err != nil {
		return "", err
	}
	if entry.AudioRef == "" {
		return "", fmt.Errorf("entry %s has no recording", id)
	}
	return filepath.Join(s.cfg.Settings.AudioDir(), entry.AudioRef), nil
}

// StopPlayback ends any preview.
func (s *HelvoxService) StopPlayback() {
	s.player.Stop()
}

// IsPlaying reports whether a preview is in progress.
func (s *HelvoxService) IsPlaying() bool {
	return s.player.IsPlaying()
}

// WaitPlayback blocks until the preview finishes or ctx is done.
func (s *HelvoxService) WaitPlayback(ctx context.Context) error {
	return s.player.Wait(ctx)
}

// LoadSession (re)loads the speaker's progress from disk.
func (s *HelvoxService) LoadSession() error {
	if err := s.session.Load(s.cfg.Settings); err != nil {
		s.setLastError(fmt.Sprintf("Failed to load session: %v", err))
		return err
	}
	s.mu.Lock()
	s.current = nil
	s.take = nil
	s.mu.Unlock()
	return nil
}

// Next selects the next open entry for recording.
func (s *HelvoxService) Next() (dataset.Entry, error) {
	id, err := s.session.NextPending()
	if err != nil {
		return dataset.Entry{}, err
	}
	entry, err := s.session.Entry(id)
	if err != nil {
		return dataset.Entry{}, err
	}

	s.mu.Lock()
	s.current = &entry
	s.take = nil
	s.mu.Unlock()
	return entry, nil
}

// Current returns the entry being recorded.
func (s *HelvoxService) Current() (dataset.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return dataset.Entry{}, false
	}
	return *s.current, true
}

// Skip records the current entry in the skip log and drops its take.
func (s *HelvoxService) Skip() error {
	entry, ok := s.Current()
	if !ok {
		return ErrNoEntry
	}
	if err := s.session.MarkSkipped(entry.ID); err != nil {
		s.setLastError(fmt.Sprintf("Failed to skip %s: %v", entry.ID, err))
		return err
	}

	s.mu.Lock()
	s.current = nil
	s.take = nil
	s.mu.Unlock()
	return nil
}

// SaveTake writes the trimmed take of the current entry and records it as
// completed. The audio file is written before the output dataset.
func (s *HelvoxService) SaveTake() (dataset.Entry, error) {
	s.mu.Lock()
	current, take := s.current, s.take
	s.mu.Unlock()

	if current == nil {
		return dataset.Entry{}, ErrNoEntry
	}
	if take == nil {
		return dataset.Entry{}, ErrNoTake
	}

	settings := s.cfg.Settings
	audioRef := TakeFileName(current.ID)
	if owner, taken := s.session.AudioRefOwner(audioRef, current.ID); taken {
		err := fmt.Errorf("%w: %s is already used by entry %s", ErrAudioRefTaken, audioRef, owner)
		s.setLastError(err.Error())
		return dataset.Entry{}, err
	}
	path := filepath.Join(settings.AudioDir(), audioRef)
	if err := audio.WriteWAV(path, take.Trimmed, take.SampleRate); err != nil {
		s.setLastError(fmt.Sprintf("Failed to write take: %v", err))
		return dataset.Entry{}, err
	}

	if err := s.session.MarkDone(current.ID, current.TargetText, settings.SpeakerDialect, audioRef, take.TrimmedDuration); err != nil {
		s.setLastError(fmt.Sprintf("Failed to save %s: %v", current.ID, err))
		return dataset.Entry{}, err
	}

	s.mu.Lock()
	s.current = nil
	s.take = nil
	s.mu.Unlock()

	slog.Info("Take saved", "id", current.ID, "file", path, "duration_s", take.TrimmedDuration)
	return s.session.Entry(current.ID)
}

// Entry returns the completed or input record for id.
func (s *HelvoxService) Entry(id string) (dataset.Entry, error) {
	return s.session.Entry(id)
}

// Progress returns the session counts.
func (s *HelvoxService) Progress() session.Progress {
	return s.session.Progress()
}

// GetConfig returns the current configuration
func (s *HelvoxService) GetConfig() *config.Config {
	return s.cfg
}

// ApplySettings switches to new settings, reloads the session and restarts
// the level meter when the device changed. It is rejected while recording;
// on failure the previous settings stay active.
func (s *HelvoxService) ApplySettings(settings config.Settings) error {
	if s.capture.IsRecording() {
		return fmt.Errorf("%w: cannot change settings while recording", audio.ErrState)
	}

	next := *s.cfg
	next.Settings = settings
	if err := next.Validate(); err != nil {
		return err
	}

	previous := *s.cfg
	*s.cfg = next
	if err := s.LoadSession(); err != nil {
		*s.cfg = previous
		return err
	}

	if previous.Settings.SelectedDevice != settings.SelectedDevice {
		slog.Info("Input device changed", "from", previous.Settings.SelectedDevice, "to", settings.SelectedDevice)
		if err := s.RestartMonitoring(); err != nil {
			slog.Warn("Monitoring not restarted", "error", err)
		}
	}
	return nil
}

// SaveConfig persists the configuration to the settings file.
func (s *HelvoxService) SaveConfig() error {
	return s.cfg.Save(s.configFile)
}

// Close stops playback and capture and releases the session.
func (s *HelvoxService) Close() error {
	s.player.Stop()
	s.capture.Close()
	return s.session.Close()
}

// Helper functions

// TakeFileName maps an entry id to its audio file name. Letters, digits,
// '-', '_' and non-leading '.' are kept; every other rune is percent-encoded
// byte by byte, so distinct ids never share a file name.
func TakeFileName(id string) string {
	var result strings.Builder
	for i, r := range id {
		keep := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || (r == '.' && i > 0)
		if keep {
			result.WriteRune(r)
			continue
		}
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], r)
		for _, b := range buf[:n] {
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String() + audio.TakeExtension
}

// GetLastError returns the last error message
func (s *HelvoxService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *HelvoxService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
	slog.Debug("Service error recorded", "error", err)
}

func (s *HelvoxService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
