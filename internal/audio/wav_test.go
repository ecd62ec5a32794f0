package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// Generate test audio samples (440Hz sine wave for 0.1 seconds at 16kHz)
	sampleRate := 16000
	duration := 0.1
	frequency := 440.0 // 440Hz (A4 note)

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		// Generate sine wave
		ts := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		sample := amplitude * math.Sin(2*math.Pi*frequency*ts)
		samples[i] = int16(sample)
	}

	// Encode to WAV
	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Check that we got some data
	if len(wavData) == 0 {
		t.Fatal("WAV data is empty")
	}

	// WAV header should be 44 bytes
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	// Validate WAV format
	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	// Check WAV info
	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Errorf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, info.Duration)
	}
}

func TestEncodeWAVStereo(t *testing.T) {
	// Two channels of interleaved samples
	samples := []int16{100, -100, 200, -200, 300, -300, 400, -400}
	sampleRate := 16000

	wavData, err := EncodeWAV(samples, sampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}

	if info.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", info.Channels)
	}

	// 8 samples interleaved over 2 channels is 4 frames
	expectedDuration := 4.0 / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.0001 {
		t.Errorf("Expected duration %.6f, got %.6f", expectedDuration, info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	// Create test samples
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 16000

	// Encode to WAV
	wavData, err := EncodeWAV(originalSamples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Decode back to samples
	decodedSamples, decodedSampleRate, decodedChannels, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	// Check sample rate and channels
	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if decodedChannels != 1 {
		t.Errorf("Expected 1 channel, got %d", decodedChannels)
	}

	// Check samples match
	if len(decodedSamples) != len(originalSamples) {
		t.Errorf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if i >= len(decodedSamples) {
			break
		}
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	// Test with empty samples
	_, err := EncodeWAV([]int16{}, 16000, 1)
	if err == nil {
		t.Error("Expected error for empty samples")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	// Test with invalid sample rate
	samples := []int16{100, 200, 300}
	_, err := EncodeWAV(samples, 0, 1)
	if err == nil {
		t.Error("Expected error for zero sample rate")
	}

	_, err = EncodeWAV(samples, -1000, 1)
	if err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestEncodeWAVInvalidChannels(t *testing.T) {
	samples := []int16{100, 200, 300}
	_, err := EncodeWAV(samples, 16000, 0)
	if err == nil {
		t.Error("Expected error for zero channel count")
	}
}

func TestValidateWAV(t *testing.T) {
	// Test with too short data
	err := ValidateWAV([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for too short WAV data")
	}

	// Test with invalid header
	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	err = ValidateWAV(invalidWAV)
	if err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestGetWAVDuration(t *testing.T) {
	// Create 1 second of audio at 16kHz
	sampleRate := 16000
	samples := make([]int16, sampleRate) // 1 second
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	expectedDuration := 1.0 // 1 second
	if math.Abs(duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, duration)
	}
}

func TestReadWAVFile(t *testing.T) {
	samples := []int16{10, 20, 30, 40}
	wavData, err := EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	decoded, rate, channels, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}

	if rate != 16000 || channels != 1 || len(decoded) != len(samples) {
		t.Errorf("Unexpected decode result: rate=%d channels=%d samples=%d", rate, channels, len(decoded))
	}

	// Missing file should error
	if _, _, _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
