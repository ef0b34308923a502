package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/helvox/internal/audio"
	"github.com/audiolibrelab/helvox/internal/trim"

	"github.com/spf13/cobra"
)

var (
	trimAggressiveness int
	trimFrameMs        int
	trimPadding        float64
	trimVAD            string
)

var trimCmd = &cobra.Command{
	Use:   "trim <input.wav> [output.wav]",
	Short: "Trim leading and trailing silence from a WAV file",
	Long: `Apply the recorder's silence trimmer to an existing WAV file. Without an output
path the result is written next to the input as <name>_trimmed.wav. Unset flags
fall back to the [audio] section of the settings file.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		output := trimmedPath(input)
		if len(args) == 2 {
			output = args[1]
		}

		opts := trim.Options{
			Aggressiveness: cfg.Audio.TrimAggressiveness,
			FrameMs:        cfg.Audio.TrimFrameMs,
			Padding:        cfg.Audio.TrimPaddingS,
		}
		kind := cfg.Audio.VAD
		if cmd.Flags().Changed("aggressiveness") {
			opts.Aggressiveness = trimAggressiveness
		}
		if cmd.Flags().Changed("frame-ms") {
			opts.FrameMs = trimFrameMs
		}
		if cmd.Flags().Changed("padding") {
			opts.Padding = trimPadding
		}
		if cmd.Flags().Changed("vad") {
			kind = trimVAD
		}

		samples, rate, err := audio.ReadWAV(input)
		if err != nil {
			return err
		}
		opts.SampleRate = rate

		vad, err := trim.NewClassifier(kind, opts.Aggressiveness)
		if err != nil {
			return err
		}
		region, err := trim.Detect(samples, opts, vad)
		if err != nil {
			return fmt.Errorf("failed to trim %s: %w", input, err)
		}
		if !region.Voiced {
			fmt.Println("No speech detected, writing the input unchanged.")
		}

		trimmed := samples[region.Start:region.End]
		if err := audio.WriteWAV(output, trimmed, rate); err != nil {
			return err
		}

		fmt.Printf("%s: %.2fs -> %.2fs (samples %d..%d)\n", output,
			samples.Seconds(rate), trimmed.Seconds(rate), region.Start, region.End)
		return nil
	},
}

func trimmedPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_trimmed" + audio.TakeExtension
}

func init() {
	trimCmd.Flags().IntVarP(&trimAggressiveness, "aggressiveness", "a", 2, "VAD aggressiveness 0..3")
	trimCmd.Flags().IntVar(&trimFrameMs, "frame-ms", 30, "VAD frame duration: 10, 20 or 30")
	trimCmd.Flags().Float64Var(&trimPadding, "padding", 0.1, "seconds kept around the voiced region")
	trimCmd.Flags().StringVar(&trimVAD, "vad", "webrtc", "voice classifier: webrtc or energy")
}
