package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/helvox/internal/audio"
	"github.com/audiolibrelab/helvox/internal/config"
	"github.com/audiolibrelab/helvox/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "helvox",
	Short: "Speech dataset recorder for Swiss German dialects",
	Long: `Helvox records spoken Swiss German renditions of Standard German prompts.

It walks through an input dataset entry by entry, records each prompt from the
selected microphone, trims leading and trailing silence and stores the take
together with an output dataset that can be resumed at any time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		// Commands that never touch the settings file
		if cmd.Name() == "path" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "file", cfgFile, "speaker", cfg.Settings.SpeakerID, "dialect", cfg.Settings.SpeakerDialect)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.config/helvox/settings.ini)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(trimCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// newService opens the audio host and builds the recorder service. The
// returned cleanup closes both.
func newService() (service.Service, func(), error) {
	host, err := audio.NewPortAudioHost()
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(cfg, cfgFile, host)
	cleanup := func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Failed to close session", "error", err)
		}
		if err := host.Terminate(); err != nil {
			slog.Warn("Failed to terminate audio host", "error", err)
		}
	}
	return svc, cleanup, nil
}
