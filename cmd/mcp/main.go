package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/docdesk/internal/adapters/mcp"
	"github.com/kirillkom/docdesk/internal/bootstrap"
	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/observability/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mcp_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// stdout carries the protocol.
	logger := logging.New(os.Stderr, logging.Options{Service: "mcp", Level: cfg.LogLevel})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleMCP, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	srv, err := mcpadapter.New(mcpadapter.Dependencies{
		Library:   app.LibraryUC,
		Searcher:  app.SearchUC,
		Assistant: app.AssistantUC,
		Logger:    logger,
	}, cfg.MCPOwnerID)
	if err != nil {
		return err
	}
	return srv.ServeStdio()
}
