package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pulsecast/backend/internal/config"
	"github.com/pulsecast/backend/internal/metrics"
	"github.com/pulsecast/backend/internal/telemetry"
	"github.com/pulsecast/backend/internal/ws"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rootDir string

	cmd := &cobra.Command{
		Use:   "pulsecast",
		Short: "Serve static files and broadcast to websocket sessions",
		Long:  "pulsecast " + version + ": serves a directory over HTTP and broadcasts to websocket sessions on /websocket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// run logs its own failures.
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			var dir *string
			if cmd.Flags().Changed("dir") {
				dir = &rootDir
			}
			return run(cmd.Context(), dir)
		},
	}
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)
	cmd.Flags().StringVarP(&rootDir, "dir", "d", config.DefaultRootDir, "directory to serve")

	return cmd
}

// loadConfig reads the optional config file and applies the --dir override
// when the flag was given.
func loadConfig(dir *string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if dir != nil {
		cfg.Server.RootDir = *dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, dir *string) error {
	cfg, err := loadConfig(dir)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	_, shutdownTracing, err := telemetry.Setup(cfg.Tracing.Exporter, os.Stdout, version)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	server := ws.NewServer(cfg, logger, m)
	ln, err := server.Listen()
	if err != nil {
		logger.Error("cannot listen", "addr", cfg.ListenAddr(), "error", err)
		return err
	}

	logger.Info("starting server", "version", version, "addr", cfg.ListenAddr(), "root", cfg.Server.RootDir)

	if cfg.Metrics.Addr != "" {
		ms := metrics.NewServer(cfg.Metrics.Addr, reg)
		defer ms.Close()
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.Serve(ctx, ln); err != nil {
		logger.Error("server error", "error", err)
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
