package play

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// externalPlayers lists command-line players in order of preference.
var externalPlayers = []string{"vlc", "mpv", "ffplay", "aplay"}

// PlayExternal plays a take file with the first command-line player found on
// PATH and waits for it to exit.
func PlayExternal(audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd := externalCommand(player, audioFile)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func externalCommand(player, audioFile string) *exec.Cmd {
	switch player {
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", "--intf", "dummy", audioFile)
	case "mpv":
		return exec.Command("mpv", "--no-video", audioFile)
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", audioFile)
	default:
		return exec.Command(player, audioFile)
	}
}

func findAudioPlayer() (string, error) {
	for _, player := range externalPlayers {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(externalPlayers, ", "))
}
