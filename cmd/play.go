package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/audiolibrelab/helvox/internal/play"

	"github.com/spf13/cobra"
)

var playExternal bool

var playCmd = &cobra.Command{
	Use:   "play [entry-id]",
	Short: "Play the saved take of a completed entry",
	Long: `Play the trimmed take stored for a completed entry on the default output device.
With --external the file is handed to the first of vlc, mpv, ffplay or aplay found on PATH.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.LoadSession(); err != nil {
			return err
		}

		path, err := svc.AudioPath(id)
		if err != nil {
			return err
		}
		fmt.Printf("Playing: %s\n", path)

		if playExternal {
			return play.PlayExternal(path)
		}

		if err := svc.PlayEntry(id); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := svc.WaitPlayback(ctx); err != nil {
			svc.StopPlayback()
			return nil
		}

		fmt.Println("Playback completed")
		return nil
	},
}

func init() {
	playCmd.Flags().BoolVar(&playExternal, "external", false, "use an external command-line player")
}
