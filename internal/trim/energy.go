package trim

import "github.com/audiolibrelab/helvox/internal/audio"

// energyThresholdsDB maps aggressiveness to the frame level, in dBFS, at or
// above which a frame counts as speech.
var energyThresholdsDB = [4]float64{-50, -45, -40, -35}

// EnergyClassifier is a pure-Go classifier based on frame RMS level. It keeps
// no state between frames.
type EnergyClassifier struct {
	ThresholdDB float64
}

// NewEnergyClassifier returns a classifier for aggressiveness 0..3; values
// outside that range are clamped.
func NewEnergyClassifier(aggressiveness int) *EnergyClassifier {
	aggressiveness = max(0, min(3, aggressiveness))
	return &EnergyClassifier{ThresholdDB: energyThresholdsDB[aggressiveness]}
}

func (e *EnergyClassifier) IsSpeech(frame []int16, _ int) (bool, error) {
	return audio.LevelDB(audio.FromPCM16(frame)) >= e.ThresholdDB, nil
}
