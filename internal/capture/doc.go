// Package capture implements the continuous recording loop. It reads PCM
// blocks from a Source, accumulates them into fixed-duration WAV clips and
// writes each clip into the store under a recording marker so downstream
// consumers never observe a partial file. Per-block levels and completed
// clips are reported through the Observer interface.
package capture
