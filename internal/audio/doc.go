// Package audio handles PCM audio encoding and level measurement.
// It implements WAV encoding/decoding for 16-bit linear PCM clips and a
// normalized RMS loudness meter used for live reporting and for recomputing
// loudness from stored clip files.
package audio
