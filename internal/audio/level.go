package audio

import "math"

// SilenceFloorDB is the lowest level the meter reports.
const SilenceFloorDB = -60.0

// LevelDB returns the RMS level of frame in dBFS, clamped to [-60, 0].
// An empty frame yields exactly SilenceFloorDB.
func LevelDB(frame []float32) float64 {
	if len(frame) == 0 {
		return SilenceFloorDB
	}

	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms <= 0 || math.IsNaN(rms) {
		return SilenceFloorDB
	}

	db := 20 * math.Log10(rms)
	return math.Max(SilenceFloorDB, math.Min(0, db))
}
