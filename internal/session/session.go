// Package session tracks which dataset entries of a speaker are still open,
// completed or skipped, reconciled from the input file, the output file and
// the skip log on every load.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/audiolibrelab/helvox/internal/config"
	"github.com/audiolibrelab/helvox/internal/dataset"
)

// LockFileName is created in the speaker directory while a session holds it.
const LockFileName = ".helvox.lock"

var (
	// ErrEmptySession is returned by NextPending once every entry is done or skipped.
	ErrEmptySession = errors.New("no open entries remaining")
	// ErrUnknownID is returned for ids that are not part of the input dataset.
	ErrUnknownID = errors.New("unknown entry id")
	// ErrNotLoaded is returned by operations called before Load.
	ErrNotLoaded = errors.New("session not loaded")
	// ErrLocked is returned when another process records into the speaker directory.
	ErrLocked = errors.New("speaker directory is in use")
)

// State of a Session.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoaded        State = "LOADED"
)

// Progress summarizes a loaded session.
type Progress struct {
	Total         int     `json:"total" yaml:"total"`
	Open          int     `json:"open" yaml:"open"`
	Completed     int     `json:"completed" yaml:"completed"`
	Skipped       int     `json:"skipped" yaml:"skipped"`
	TotalDuration float64 `json:"total_duration_s" yaml:"total_duration_s"`
}

// Session is the in-memory index of one speaker's recording progress.
// It is safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	state    State
	settings config.Settings
	lock     *flock.Flock

	input       []dataset.Entry
	inputIndex  map[string]int
	output      []dataset.Entry
	outputIndex map[string]int
	skipped     map[string]struct{}
	open        []string
	total       float64
}

// New returns an uninitialized session.
func New() *Session {
	return &Session{state: StateUninitialized}
}

// State reports whether the session has been loaded.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the settings of the last successful load.
func (s *Session) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Load rebuilds the session from the files named by settings. Missing files
// count as empty. On any error the previous state is kept.
func (s *Session) Load(settings config.Settings) error {
	slog.Debug("Session.Load called", "speaker", settings.SpeakerID, "dialect", settings.SpeakerDialect, "input", settings.InputFile)

	if err := config.ValidateSpeakerID(settings.SpeakerID); err != nil {
		return err
	}

	var input []dataset.Entry
	if settings.InputFile != "" {
		entries, err := dataset.ReadInput(settings.InputFile, settings.SpeakerDialect)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load input dataset: %w", err)
		}
		input = entries
	}

	output, err := dataset.ReadOutput(settings.OutputFile())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load output dataset: %w", err)
	}

	skippedIDs, err := dataset.ReadSkipLog(settings.SkipLogFile())
	if err != nil {
		return fmt.Errorf("load skip log: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLocked(settings.SpeakerDir())
	if err != nil {
		return err
	}
	if s.lock != nil && s.lock != lock {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Failed to release speaker lock", "path", s.lock.Path(), "error", err)
		}
	}

	s.lock = lock
	s.settings = settings
	s.input = input
	s.inputIndex = indexByID(input)
	s.output = output
	s.outputIndex = indexByID(output)
	s.skipped = make(map[string]struct{}, len(skippedIDs))
	for _, id := range skippedIDs {
		s.skipped[id] = struct{}{}
	}
	s.rebuildOpenLocked()
	s.total = totalDuration(output)
	s.state = StateLoaded

	slog.Info("Session loaded",
		"speaker", settings.SpeakerID,
		"input", len(input),
		"completed", len(output),
		"skipped", len(s.skipped),
		"open", len(s.open))
	return nil
}

// acquireLocked returns the lock for speakerDir, reusing the held one when the
// directory is unchanged.
func (s *Session) acquireLocked(speakerDir string) (*flock.Flock, error) {
	path := filepath.Join(speakerDir, LockFileName)
	if s.lock != nil && s.lock.Path() == path && s.lock.Locked() {
		return s.lock, nil
	}

	if err := os.MkdirAll(speakerDir, 0755); err != nil {
		return nil, fmt.Errorf("create speaker directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock speaker directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, speakerDir)
	}
	return lock, nil
}

func (s *Session) rebuildOpenLocked() {
	s.open = s.open[:0]
	seen := make(map[string]struct{}, len(s.input))
	for _, e := range s.input {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		if _, done := s.outputIndex[e.ID]; done {
			continue
		}
		if _, skipped := s.skipped[e.ID]; skipped {
			continue
		}
		s.open = append(s.open, e.ID)
	}
}

// NextPending removes and returns the first open id in input order.
func (s *Session) NextPending() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoaded {
		return "", ErrNotLoaded
	}
	if len(s.open) == 0 {
		return "", ErrEmptySession
	}
	id := s.open[0]
	s.open = s.open[1:]
	return id, nil
}

// Entry returns the completed record for id, else its input record.
func (s *Session) Entry(id string) (dataset.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoaded {
		return dataset.Entry{}, ErrNotLoaded
	}
	if i, ok := s.outputIndex[id]; ok {
		return s.output[i], nil
	}
	if i, ok := s.inputIndex[id]; ok {
		return s.input[i], nil
	}
	return dataset.Entry{}, fmt.Errorf("%w: %s", ErrUnknownID, id)
}

// IsSkipped reports whether id is in the skip log.
func (s *Session) IsSkipped(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.skipped[id]
	return ok
}

// MarkSkipped records id in the skip log. Skipping an id twice appends once.
func (s *Session) MarkSkipped(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoaded {
		return ErrNotLoaded
	}
	if _, ok := s.inputIndex[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if _, ok := s.skipped[id]; ok {
		return nil
	}

	if err := dataset.AppendSkip(s.settings.SkipLogFile(), id); err != nil {
		return err
	}
	s.skipped[id] = struct{}{}
	s.removeOpenLocked(id)
	slog.Debug("Entry skipped", "id", id)
	return nil
}

// MarkDone stores the completed record for id and rewrites the output file.
// A record already present for id is replaced in place. When the file cannot
// be written the in-memory state is left unchanged and the error returned.
func (s *Session) MarkDone(id, targetText, dialect, audioRef string, durationS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoaded {
		return ErrNotLoaded
	}
	i, ok := s.inputIndex[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}

	d := durationS
	entry := dataset.Entry{
		ID:         id,
		SourceText: s.input[i].SourceText,
		TargetText: targetText,
		Dialect:    dialect,
		AudioRef:   audioRef,
		DurationS:  &d,
	}

	next := make([]dataset.Entry, len(s.output), len(s.output)+1)
	copy(next, s.output)
	if j, exists := s.outputIndex[id]; exists {
		next[j] = entry
	} else {
		next = append(next, entry)
	}

	if err := dataset.Write(s.settings.OutputFile(), next); err != nil {
		return fmt.Errorf("write output dataset: %w", err)
	}

	s.output = next
	s.outputIndex = indexByID(next)
	s.total = totalDuration(next)
	s.removeOpenLocked(id)
	slog.Debug("Entry completed", "id", id, "duration_s", durationS, "audio_ref", audioRef)
	return nil
}

func (s *Session) removeOpenLocked(id string) {
	for i, open := range s.open {
		if open == id {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}

// AudioRefOwner returns the id of a completed record other than id whose
// audio_ref names the same file as ref. Names are compared case-insensitively.
func (s *Session) AudioRefOwner(ref, id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.output {
		if e.ID != id && e.AudioRef != "" && strings.EqualFold(e.AudioRef, ref) {
			return e.ID, true
		}
	}
	return "", false
}

// OpenIDs returns the ids still to be served, in input order.
func (s *Session) OpenIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.open...)
}

// TotalDuration is the sum of duration_s over the completed records.
func (s *Session) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Progress returns counts over the input entries and the recorded duration.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Progress{
		Total:         len(s.inputIndex),
		Open:          len(s.open),
		TotalDuration: s.total,
	}
	for id := range s.inputIndex {
		if _, done := s.outputIndex[id]; done {
			p.Completed++
		} else if _, skipped := s.skipped[id]; skipped {
			p.Skipped++
		}
	}
	return p
}

// Close releases the speaker directory. The session must be loaded again
// before further use.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateUninitialized
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}

func indexByID(entries []dataset.Entry) map[string]int {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, dup := index[e.ID]; !dup {
			index[e.ID] = i
		}
	}
	return index
}

func totalDuration(entries []dataset.Entry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Duration()
	}
	return total
}
