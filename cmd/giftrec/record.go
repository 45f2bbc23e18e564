package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/recorder"
	"github.com/SkynetNext/gift-recorder/internal/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	configPath string
	logLevel   string
	noCapture  bool
}

// runRecord validates the arguments before anything touches the network
func runRecord(cmd *cobra.Command, opts *runOptions, room, rawMinutes string) error {
	minutes, err := strconv.Atoi(rawMinutes)
	if err != nil {
		return fmt.Errorf("minutes must be an integer, got %q", rawMinutes)
	}
	if minutes < 1 {
		fmt.Fprintln(cmd.OutOrStdout(), "Recording time must be at least one minute")
		return nil
	}

	// Initialize logger (flag, then environment variable, then default)
	logLevel := opts.logLevel
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		logLevel = "info"
	}
	if err := logger.Init(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.noCapture {
		cfg.Capture.Enabled = false
	}

	// Initialize tracing (optional, config endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)
	endpoint := cfg.Tracing.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint != "" {
		if err := tracing.Init("gift-recorder", version, endpoint); err != nil {
			logger.L.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			logger.L.Info("Tracing initialized", zap.String("endpoint", endpoint))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.L.Info("Gift recorder starting",
		zap.String("version", version),
		zap.String("git_commit", gitCommit),
		zap.String("room", room),
		zap.Int("minutes", minutes),
	)

	rec := recorder.New(cfg, room, time.Duration(minutes)*time.Minute)
	res, runErr := rec.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("Error during tracing shutdown", zap.Error(err))
	}

	if res != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d gift events to %s\n", res.Events, res.SheetPath)
		if res.VideoPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Video: %s\n", res.VideoPath)
		}
	}
	return runErr
}
