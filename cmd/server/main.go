// Package main is the entry point for the quiz API server.
//
// Configuration comes from the environment (and a .env file when present);
// see internal/config for the full list of variables.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/quizapp/internal/config"
	"github.com/sakif/quizapp/internal/logger"
	"github.com/sakif/quizapp/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet: the level and format come from cfg
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	srv, err := server.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM
	if err := srv.Start(); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
