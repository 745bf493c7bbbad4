package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/docdesk/internal/adapters/http"
	"github.com/kirillkom/docdesk/internal/bootstrap"
	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/observability/logging"
	"github.com/kirillkom/docdesk/internal/observability/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleAPI, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	deps := httpadapter.Dependencies{
		Ingestor:  app.IngestUC,
		Library:   app.LibraryUC,
		Searcher:  app.SearchUC,
		Assistant: app.AssistantUC,
		Identity:  app.Identity,
		Limiter:   app.Limiter,
		Metrics:   httpMetrics,
		Logger:    logger,
	}
	if app.LocalBlobs != nil {
		deps.Blobs = app.LocalBlobs
	}
	apiHandler, err := httpadapter.NewRouter(cfg, deps).Handler()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler(httpMetrics.Gatherer(), app.WorkerMetrics.Gatherer()))
	root.Handle("/", httpMetrics.Middleware("api", apiHandler))

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}
	server := &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.OllamaTimeout + 60*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api_listening", "addr", listener.Addr().String(), "embedded_worker", app.EmbeddedWorker())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if app.EmbeddedWorker() {
		group.Go(func() error {
			return app.RunWorker(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		logger.Info("api_stopped")
		return nil
	})
	return group.Wait()
}
