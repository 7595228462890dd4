package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"mangrove/simulator"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	cfg := simulator.SimConfig{
		NumUsers:         25,
		NumPosts:         10,
		SimulationTime:   5 * time.Minute,
		CommentFrequency: 6.0,
		VoteFrequency:    20.0,
		DisconnectRate:   0.02,
		EngineURL:        "http://localhost:8080",
	}
	if engineURL := os.Getenv("ENGINE_URL"); engineURL != "" {
		cfg.EngineURL = engineURL
	}

	logger.Info("starting simulation",
		"engine", cfg.EngineURL,
		"users", cfg.NumUsers,
		"posts", cfg.NumPosts,
		"duration", cfg.SimulationTime,
	)

	sim := simulator.New(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SimulationTime)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	metrics := sim.GetMetrics()
	logger.Info("simulation completed",
		"users", metrics.TotalUsers,
		"posts", metrics.TotalPosts,
		"comments", metrics.TotalComments,
		"votes", metrics.TotalVotes,
		"events_applied", metrics.EventsApplied,
		"errors", metrics.ErrorCount,
	)
}
