package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/simulation"
	"github.com/pthm-cable/plasma/tracing"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	steps := flag.Int("steps", 0, "Number of steps (0 = use config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config, then time-based)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and snapshots")
	resume := flag.String("resume", "", "Snapshot file to resume from")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *steps > 0 {
		cfg.Run.Steps = *steps
	}
	if *outputDir != "" {
		cfg.Diagnostics.OutputDir = *outputDir
	}

	// Finish the current step, then exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	sim, err := simulation.New(ctx, cfg, simulation.Options{
		Seed:   *seed,
		Resume: *resume,
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to set up simulation", "error", err)
		os.Exit(1)
	}
	defer sim.Close()

	if err := sim.Run(ctx); err != nil {
		slog.Error("simulation failed", "step", sim.Iteration(), "error", err)
		sim.Close()
		os.Exit(1)
	}
}
