package cmd

import (
	"fmt"
	"strconv"

	"github.com/audiolibrelab/helvox/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available input devices",
	Long:  `List every audio device with at least one input channel. The name column is the value to use for selected_device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := audio.NewPortAudioHost()
		if err != nil {
			return err
		}
		defer host.Terminate()

		dir := audio.NewDirectory(host)
		dir.Refresh()
		fmt.Print(renderDevices(dir, cfg.Settings.SelectedDevice))
		return nil
	},
}

func renderDevices(dir *audio.Directory, selected string) string {
	names := dir.Names()
	if len(names) == 0 {
		return "No input devices found.\n"
	}

	devices := dir.Devices()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		dev := devices[name]
		mark := ""
		if name == selected {
			mark = "*"
		} else if dev.IsDefaultInput {
			mark = "default"
		}
		rows = append(rows, []string{
			strconv.Itoa(dev.Index),
			name,
			dev.HostAPI,
			strconv.Itoa(dev.MaxInputChannels),
			fmt.Sprintf("%.0f", dev.DefaultSampleRate),
			mark,
		})
	}

	out := renderTable(
		[]string{"#", "Name", "Host API", "Inputs", "Rate", ""},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	) + "\n"

	if selected != "" {
		if _, ok := dir.Lookup(selected); !ok {
			out += fmt.Sprintf("Selected device %q is not connected.\n", selected)
		}
	}
	return out
}
