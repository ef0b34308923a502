package cmd

import (
	"fmt"
	"strconv"

	"github.com/audiolibrelab/helvox/internal/session"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recording progress for the configured speaker",
	Long:  `Load the input dataset, output dataset and skip log of the configured speaker and print how many entries are completed, skipped and still open.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := session.New()
		if err := s.Load(cfg.Settings); err != nil {
			return err
		}
		defer s.Close()

		fmt.Print(renderStatus(cfg.Settings.SpeakerID, cfg.Settings.SpeakerDialect, s.Progress()))

		if open := s.OpenIDs(); len(open) > 0 {
			fmt.Printf("Next entry: %s\n", open[0])
		}

		// Display file paths
		fmt.Printf("\noutput_file: %s\n", cfg.Settings.OutputFile())
		fmt.Printf("skip_log: %s\n", cfg.Settings.SkipLogFile())
		fmt.Printf("audio_dir: %s\n", cfg.Settings.AudioDir())
		return nil
	},
}

func renderStatus(speaker, dialect string, p session.Progress) string {
	rows := [][]string{
		{"Speaker", speaker},
		{"Dialect", dialect},
		{"Entries", strconv.Itoa(p.Total)},
		{"Completed", strconv.Itoa(p.Completed)},
		{"Skipped", strconv.Itoa(p.Skipped)},
		{"Open", strconv.Itoa(p.Open)},
		{"Recorded", formatSeconds(p.TotalDuration)},
	}
	return renderTable([]string{"", ""}, rows, []columnAlignment{alignLeft, alignRight}) + "\n"
}
