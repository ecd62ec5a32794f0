package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/templegit9/sleep-system/internal/agent"
	"github.com/templegit9/sleep-system/internal/capture"
	"github.com/templegit9/sleep-system/internal/config"
	"github.com/templegit9/sleep-system/internal/metrics"
	"github.com/templegit9/sleep-system/internal/server"
)

const defaultConfigPath = "configs/config.yaml"

var (
	flagConfig   string
	flagMode     string
	flagServer   string
	flagDeviceID string
	flagName     string
	flagLocation string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "HomeMic node agent",
		Long: `Continuously records audio on an edge node, stores it as local WAV
clips and uploads them to a collector. Runs in one of two modes:
homemic (registered transcription node) or sleep (session-tracked
sleep recording).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.Flags().StringVarP(&flagMode, "mode", "m", "", "Agent mode: homemic or sleep (overrides config)")
	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "", "Collector base URL (overrides config)")
	rootCmd.Flags().StringVar(&flagDeviceID, "device-id", "", "Device identifier (overrides config)")
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "Node name for registration (overrides config)")
	rootCmd.Flags().StringVarP(&flagLocation, "location", "l", "", "Node location for registration (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Agent starting",
		slog.String("config_path", flagConfig),
		slog.String("mode", cfg.Agent.Mode),
		slog.String("server", cfg.Server.BaseURL),
		slog.String("storage", cfg.Storage.Dir),
		slog.Int("clip_duration", cfg.Audio.ClipDuration),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	source, err := capture.NewArecordSource(capture.SourceConfig{
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BlockSize:  cfg.Audio.BlockSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}

	a, err := agent.New(cfg, source, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, a, appMetrics)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// Run until a signal arrives or the capture source fails
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	runErr := a.Run(ctx)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		logger.Error("Agent exited with error", slog.String("error", runErr.Error()))
		return runErr
	}

	logger.Info("Agent stopped")
	return nil
}

// loadConfig reads the config file and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flagMode != "" {
		cfg.Agent.Mode = flagMode
	}
	if flagServer != "" {
		cfg.Server.BaseURL = flagServer
	}
	if flagDeviceID != "" {
		cfg.Agent.DeviceID = flagDeviceID
	}
	if flagName != "" {
		cfg.Agent.Name = flagName
	}
	if flagLocation != "" {
		cfg.Agent.Location = flagLocation
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	return cfg, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
