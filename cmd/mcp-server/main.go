package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/apresai/voiceover/internal/bootstrap"
	"github.com/apresai/voiceover/internal/config"
	"github.com/apresai/voiceover/internal/mcpserver"
	"github.com/apresai/voiceover/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.InitLogger("info", observability.FormatAuto).Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.InitLogger(cfg.Log.Level, cfg.Log.Format)

	logger.Info("Voiceover MCP Server starting...", "transport", cfg.Server.Transport)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := observability.InitTracer(ctx, "voiceover-mcp", version)
	if err != nil {
		logger.Warn("Failed to init tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Tracer shutdown error", "error", err)
			}
		}()
	}

	app, err := bootstrap.New(ctx, cfg, bootstrap.ModeSynthesis, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpserver.New(mcpserver.Config{
		Name:      "voiceover",
		Version:   version,
		Transport: cfg.Server.Transport,
		Port:      cfg.Server.Port,
		AuthToken: app.Config.Server.AuthToken,
	}, app.Jobs, logger)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
