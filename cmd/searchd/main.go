// Command searchd runs the enterprise knowledge search backend: it
// loads a YAML config, wires every component (internal/app), and serves
// the HTTP API until terminated.
//
// Usage:
//
//	searchd --config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/corpussearch/internal/app"
	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	config.LoadEnvFiles()

	cfg, _, err := config.LoadConfigFile(context.Background(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "searchd: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logger)

	installID, err := telemetry.InstallID(cfg.DataDir)
	if err != nil {
		slog.Warn("searchd: failed to read/create install id", "error", err)
	} else {
		slog.Info("searchd starting", "install_id", installID, "data_dir", cfg.DataDir)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("searchd: failed to construct application", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		slog.Error("searchd: exited with error", "error", err)
		os.Exit(1)
	}
}

func initLogger(cfg config.LoggerConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	output := os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "searchd: failed to open log file %s: %v\n", cfg.File, err)
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	slog.SetDefault(slog.New(handler))
}
