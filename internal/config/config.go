package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent modes select the upload personality once at startup.
const (
	ModeHomeMic = "homemic"
	ModeSleep   = "sleep"
)

// Config represents the complete agent configuration
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Storage   StorageConfig   `yaml:"storage"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig identifies this agent instance and selects its mode
type AgentConfig struct {
	Mode     string `yaml:"mode"`      // "homemic" or "sleep"
	DeviceID string `yaml:"device_id"` // sent with every upload
	Name     string `yaml:"name"`      // homemic registration name
	Location string `yaml:"location"`  // homemic registration location
	DataDir  string `yaml:"data_dir"`  // node state file location
}

// ServerConfig contains remote collector configuration
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// AudioConfig contains audio capture parameters
type AudioConfig struct {
	Device       string `yaml:"device"` // ALSA device name; empty uses the default
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	BitDepth     int    `yaml:"bit_depth"`
	BlockSize    int    `yaml:"block_size"`    // samples per capture block
	ClipDuration int    `yaml:"clip_duration"` // seconds per clip
}

// StorageConfig contains the local clip queue configuration
type StorageConfig struct {
	Dir             string `yaml:"dir"`
	PollInterval    int    `yaml:"poll_interval"`    // seconds between upload scans
	ReclaimInterval int    `yaml:"reclaim_interval"` // seconds between reclamation passes
	RetentionDays   int    `yaml:"retention_days"`   // keep uploaded clips this long; 0 deletes immediately
}

// HeartbeatConfig contains homemic-mode heartbeat configuration
type HeartbeatConfig struct {
	Interval int `yaml:"interval"` // seconds
}

// HTTPConfig contains the local status API server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no config file is
// present, matching a single-microphone bedroom deployment.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Agent: AgentConfig{
			Mode:     ModeSleep,
			DeviceID: "bedroom-pi",
			Name:     "Living Room",
			Location: "Living Room",
			DataDir:  filepath.Join(home, ".homemic"),
		},
		Server: ServerConfig{
			BaseURL: "http://192.168.1.100:3001",
			Timeout: 30,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			Channels:     1,
			BitDepth:     16,
			BlockSize:    1024,
			ClipDuration: 60,
		},
		Storage: StorageConfig{
			Dir:             filepath.Join(home, ".homemic", "clips"),
			PollInterval:    5,
			ReclaimInterval: 60,
			RetentionDays:   0,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8089,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. A missing file yields the
// defaults; a present but invalid file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("default config validation failed: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Heartbeat.Validate(); err != nil {
		return fmt.Errorf("heartbeat config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates agent configuration
func (a *AgentConfig) Validate() error {
	if a.Mode != ModeHomeMic && a.Mode != ModeSleep {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModeHomeMic, ModeSleep, a.Mode)
	}

	if a.DeviceID == "" {
		return fmt.Errorf("device_id cannot be empty")
	}

	if a.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.BlockSize < 64 {
		return fmt.Errorf("block_size must be at least 64 samples, got %d", a.BlockSize)
	}

	if a.ClipDuration < 1 {
		return fmt.Errorf("clip_duration must be at least 1 second, got %d", a.ClipDuration)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if s.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second, got %d", s.PollInterval)
	}

	if s.ReclaimInterval < s.PollInterval {
		return fmt.Errorf("reclaim_interval (%d) must be at least poll_interval (%d)",
			s.ReclaimInterval, s.PollInterval)
	}

	if s.RetentionDays < 0 {
		return fmt.Errorf("retention_days cannot be negative, got %d", s.RetentionDays)
	}

	return nil
}

// Validate validates heartbeat configuration
func (h *HeartbeatConfig) Validate() error {
	if h.Interval < 1 {
		return fmt.Errorf("interval must be at least 1 second, got %d", h.Interval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeout returns the collector request timeout as a time.Duration
func (s *ServerConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetClipDuration returns the clip duration as a time.Duration
func (a *AudioConfig) GetClipDuration() time.Duration {
	return time.Duration(a.ClipDuration) * time.Second
}

// GetPollInterval returns the upload poll interval as a time.Duration
func (s *StorageConfig) GetPollInterval() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// GetReclaimInterval returns the reclamation interval as a time.Duration
func (s *StorageConfig) GetReclaimInterval() time.Duration {
	return time.Duration(s.ReclaimInterval) * time.Second
}

// GetRetention returns the uploaded-clip retention window as a time.Duration
func (s *StorageConfig) GetRetention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// GetInterval returns the heartbeat interval as a time.Duration
func (h *HeartbeatConfig) GetInterval() time.Duration {
	return time.Duration(h.Interval) * time.Second
}
