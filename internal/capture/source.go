package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// SourceConfig contains capture device configuration
type SourceConfig struct {
	Device     string // ALSA device name; "" uses the default
	SampleRate int
	Channels   int
	BlockSize  int // samples per ReadBlock, per channel
}

// ArecordSource captures PCM audio by running arecord and reading signed
// 16-bit little-endian samples from its stdout. Keeping the device behind a
// child process avoids cgo and matches how the rest of the system treats
// audio: a stream of raw sample blocks.
type ArecordSource struct {
	config SourceConfig

	cmd    *exec.Cmd
	stdout io.ReadCloser
	raw    []byte

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

// NewArecordSource creates a capture source backed by arecord
func NewArecordSource(config SourceConfig) (*ArecordSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", config.Channels)
	}

	if config.BlockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", config.BlockSize)
	}

	return &ArecordSource{
		config: config,
		raw:    make([]byte, config.BlockSize*config.Channels*2),
	}, nil
}

// start launches the arecord child process on first use
func (a *ArecordSource) start() error {
	a.startOnce.Do(func() {
		args := []string{
			"-t", "raw",
			"-f", "S16_LE",
			"-r", strconv.Itoa(a.config.SampleRate),
			"-c", strconv.Itoa(a.config.Channels),
			"-q",
		}
		if a.config.Device != "" {
			args = append(args, "-D", a.config.Device)
		}

		cmd := exec.Command("arecord", args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			a.startErr = fmt.Errorf("failed to open arecord stdout: %w", err)
			return
		}

		if err := cmd.Start(); err != nil {
			a.startErr = fmt.Errorf("failed to start arecord: %w", err)
			return
		}

		a.cmd = cmd
		a.stdout = stdout
	})

	return a.startErr
}

// ReadBlock reads one full block of samples from the device
func (a *ArecordSource) ReadBlock(ctx context.Context) ([]int16, error) {
	if err := a.start(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type readResult struct {
		n   int
		err error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		n, err := io.ReadFull(a.stdout, a.raw)
		resultCh <- readResult{n, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read from capture device: %w", result.err)
		}
	}

	samples := make([]int16, len(a.raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(a.raw[i*2:]))
	}

	return samples, nil
}

// Close terminates the arecord process
func (a *ArecordSource) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.cmd == nil {
			return
		}

		if killErr := a.cmd.Process.Kill(); killErr != nil {
			err = killErr
		}
		a.cmd.Wait()
	})

	return err
}
