package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/helvox/internal/audio"
	"github.com/audiolibrelab/helvox/internal/dataset"
	"github.com/audiolibrelab/helvox/internal/service"
	"github.com/audiolibrelab/helvox/internal/session"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the open entries of the input dataset",
	Long: `Walk through the entries that are neither completed nor skipped, in input order.

For each entry press Enter to start recording and Enter again to stop. The take
is trimmed and can then be kept, retried, previewed or skipped. Kept takes are
written to <output_folder>/<speaker_id>/audio and appended to output.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("Record command started", "speaker", cfg.Settings.SpeakerID, "dialect", cfg.Settings.SpeakerDialect)

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.LoadSession(); err != nil {
			return err
		}

		// Handle interruption
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := &recordLoop{
			svc:   svc,
			lines: readLines(os.Stdin),
			out:   os.Stdout,
			tty:   isTerminal(os.Stdout),
		}
		return r.run(ctx)
	},
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// readLines forwards input lines until r is exhausted.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}

var errQuit = errors.New("quit")

type recordLoop struct {
	svc   service.Service
	lines <-chan string
	out   io.Writer
	tty   bool
}

func (r *recordLoop) run(ctx context.Context) error {
	if err := r.svc.StartMonitoring(); err != nil {
		fmt.Fprintf(r.out, "Input device unavailable: %v\n", err)
	}
	defer r.svc.StopMonitoring()

	r.printProgress()

	for {
		entry, err := r.svc.Next()
		if errors.Is(err, session.ErrEmptySession) {
			fmt.Fprintln(r.out, "All entries are recorded or skipped.")
			return nil
		}
		if err != nil {
			return err
		}

		err = r.recordEntry(ctx, entry)
		if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(r.out)
			r.printProgress()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *recordLoop) recordEntry(ctx context.Context, entry dataset.Entry) error {
	fmt.Fprintf(r.out, "\n[%s] %s\n", entry.ID, entry.SourceText)
	if entry.TargetText != "" {
		fmt.Fprintf(r.out, "      %s\n", entry.TargetText)
	}

	for {
		answer, err := r.ask(ctx, "[Enter] record  [s]kip  [q]uit: ")
		if err != nil {
			return err
		}
		switch answer {
		case "":
		case "s":
			return r.skip()
		case "q":
			return errQuit
		default:
			continue
		}

		take, err := r.take(ctx)
		if errors.Is(err, service.ErrEmptyTake) {
			fmt.Fprintln(r.out, "Nothing was captured, try again.")
			continue
		}
		if err != nil {
			return err
		}

		done, err := r.review(ctx, take)
		if err != nil || done {
			return err
		}
	}
}

// take records until the user presses Enter.
func (r *recordLoop) take(ctx context.Context) (*service.Take, error) {
	if err := r.svc.StartRecording(); err != nil {
		return nil, err
	}

	meterDone := make(chan struct{})
	meterStopped := make(chan struct{})
	go func() {
		defer close(meterStopped)
		r.meter(meterDone)
	}()

	_, err := r.ask(ctx, "")
	close(meterDone)
	<-meterStopped

	take, stopErr := r.svc.StopRecording()
	if err != nil {
		return nil, err
	}
	return take, stopErr
}

// meter shows the input level while recording, on terminals only.
func (r *recordLoop) meter(done <-chan struct{}) {
	if !r.tty {
		fmt.Fprintln(r.out, "Recording... press Enter to stop.")
		<-done
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		fmt.Fprintf(r.out, "\r● REC %s %6.1f dBFS  (Enter to stop) ", levelBar(r.svc.Level(), 30), r.svc.Level())
		select {
		case <-done:
			fmt.Fprint(r.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// review shows the take and handles keep/retry/preview. It reports true once
// the entry is finished.
func (r *recordLoop) review(ctx context.Context, take *service.Take) (bool, error) {
	fmt.Fprintf(r.out, "Take: %.2fs, trimmed %.2fs\n", take.RawDuration, take.TrimmedDuration)
	fmt.Fprintf(r.out, "  full    %s\n", sparkline(take.RawWaveform))
	fmt.Fprintf(r.out, "  trimmed %s\n", sparkline(take.TrimmedWaveform))
	if !take.Voiced {
		fmt.Fprintln(r.out, "  no speech detected, the full take would be kept")
	}

	for {
		answer, err := r.ask(ctx, "[k]eep  [r]etry  [p]lay trimmed  [f]ull  [s]kip  [q]uit: ")
		if err != nil {
			return false, err
		}
		switch answer {
		case "k", "":
			r.svc.StopPlayback()
			saved, err := r.svc.SaveTake()
			if err != nil {
				return false, fmt.Errorf("failed to save take: %w", err)
			}
			fmt.Fprintf(r.out, "Saved %s (%.2fs)\n", saved.AudioRef, saved.Duration())
			return true, nil
		case "r":
			r.svc.StopPlayback()
			r.svc.DiscardTake()
			return false, nil
		case "p", "f":
			if err := r.svc.PlayTake(answer == "p"); err != nil {
				fmt.Fprintf(r.out, "Playback failed: %v\n", err)
			}
		case "s":
			r.svc.StopPlayback()
			return true, r.skip()
		case "q":
			r.svc.StopPlayback()
			return false, errQuit
		}
	}
}

func (r *recordLoop) skip() error {
	entry, _ := r.svc.Current()
	if err := r.svc.Skip(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Skipped %s\n", entry.ID)
	return nil
}

func (r *recordLoop) ask(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(r.out, prompt)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			return "", errQuit
		}
		return strings.ToLower(line), nil
	}
}

func (r *recordLoop) printProgress() {
	p := r.svc.Progress()
	fmt.Fprintf(r.out, "%d of %d entries recorded, %d skipped, %d open, %s recorded\n",
		p.Completed, p.Total, p.Skipped, p.Open, formatSeconds(p.TotalDuration))
}

// levelBar renders a dBFS level as a bar of width cells over the meter range.
func levelBar(db float64, width int) string {
	frac := (db - audio.SilenceFloorDB) / -audio.SilenceFloorDB
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * float64(width)))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// sparkline renders waveform (max, min) pairs as one glyph per pair.
func sparkline(points []float64) string {
	var b strings.Builder
	for i := 0; i+1 < len(points); i += 2 {
		amp := math.Max(math.Abs(points[i]), math.Abs(points[i+1]))
		idx := int(amp * float64(len(sparkLevels)-1))
		idx = max(0, min(len(sparkLevels)-1, idx))
		b.WriteRune(sparkLevels[idx])
	}
	return b.String()
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}
