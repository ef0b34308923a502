// Package play previews recorded takes.
package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/helvox/internal/audio"
)

// ErrNothingToPlay is returned for an empty buffer.
var ErrNothingToPlay = errors.New("nothing to play")

// Player plays one buffer at a time on the host's default output device.
// Starting a new playback stops the current one.
type Player struct {
	host audio.Host
	cfg  audio.StreamConfig

	mu      sync.Mutex
	current *playback
}

// New creates a player that opens output streams on host with cfg.
// The channel count is forced to mono.
func New(host audio.Host, cfg audio.StreamConfig) *Player {
	cfg.Channels = 1
	return &Player{host: host, cfg: cfg}
}

// Play starts playing samples at sampleRate and returns immediately.
// A sampleRate of 0 uses the player's configured rate.
func (p *Player) Play(samples audio.Buffer, sampleRate int) error {
	if len(samples) == 0 {
		return ErrNothingToPlay
	}
	p.Stop()

	cfg := p.cfg
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}

	pb := &playback{samples: samples, done: make(chan struct{})}
	stream, err := p.host.OpenOutput(cfg, pb.fill)
	if err != nil {
		return fmt.Errorf("%w: open output: %v", audio.ErrDevice, err)
	}
	pb.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start output: %v", audio.ErrDevice, err)
	}

	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	slog.Debug("Playback started", "samples", len(samples), "sample_rate", cfg.SampleRate)

	go func() {
		<-pb.done
		pb.close()
	}()
	return nil
}

// PlayFile plays a WAV take from disk.
func (p *Player) PlayFile(path string) error {
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		return err
	}
	return p.Play(samples, rate)
}

// IsPlaying reports whether a playback is still in progress.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()
	if pb == nil {
		return false
	}
	select {
	case <-pb.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current playback finishes or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	select {
	case <-pb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the current playback, if any, and releases its stream.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()

	if pb != nil {
		pb.finish()
		pb.close()
	}
}

type playback struct {
	stream  audio.Stream
	samples audio.Buffer
	pos     int // touched only from the output callback

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (pb *playback) fill(out []float32) {
	n := 0
	if pb.pos < len(pb.samples) {
		n = copy(out, pb.samples[pb.pos:])
		pb.pos += n
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if pb.pos >= len(pb.samples) {
		pb.finish()
	}
}

func (pb *playback) finish() {
	pb.doneOnce.Do(func() { close(pb.done) })
}

func (pb *playback) close() {
	pb.closeOnce.Do(func() {
		if err := pb.stream.Stop(); err != nil {
			slog.Warn("Failed to stop output stream", "error", err)
		}
		if err := pb.stream.Close(); err != nil {
			slog.Warn("Failed to close output stream", "error", err)
		}
	})
}
