package audio

import (
	"math"
	"os"
)

const (
	// subsampleThreshold is the sample count above which level computation
	// switches to stride-based subsampling to bound its cost.
	subsampleThreshold = 1000

	// subsampleStride selects every Nth sample when subsampling.
	subsampleStride = 100

	// levelGain scales the normalized RMS so quiet room audio still
	// registers on the 0-100 scale.
	levelGain = 5.0
)

// Level computes a normalized loudness value (0-100) from PCM-16 samples.
// The value is monotonic in the RMS amplitude of the input and saturates at
// 100. Inputs larger than subsampleThreshold are subsampled with a fixed
// stride, so the result is deterministic for a given input. Empty input
// yields 0.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	stride := 1
	if len(samples) > subsampleThreshold {
		stride = subsampleStride
	}

	var sumSquares float64
	count := 0
	for i := 0; i < len(samples); i += stride {
		s := float64(samples[i])
		sumSquares += s * s
		count++
	}

	rms := math.Sqrt(sumSquares / float64(count))

	level := rms / 32768.0 * 100.0 * levelGain
	if level > 100 {
		level = 100
	}

	return math.Round(level*100) / 100
}

// LevelFromWAV recomputes the loudness of an encoded WAV clip.
// Malformed input yields 0 rather than an error.
func LevelFromWAV(data []byte) float64 {
	samples, _, _, err := DecodeWAV(data)
	if err != nil {
		return 0
	}

	return Level(samples)
}

// LevelFromFile recomputes the loudness of a stored clip file.
// An unreadable or corrupt file yields 0 rather than an error.
func LevelFromFile(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	return LevelFromWAV(data)
}
