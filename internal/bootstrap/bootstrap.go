package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/core/ports"
	"github.com/kirillkom/docdesk/internal/core/usecase"
	"github.com/kirillkom/docdesk/internal/infrastructure/chunking"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
	"github.com/kirillkom/docdesk/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docdesk/internal/observability/metrics"
)

// Role selects which parts of the graph a binary needs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
	RoleMCP    Role = "mcp"
)

const (
	chatPassageSize    = 1200
	chatPassageOverlap = 150
)

type App struct {
	Config config.Config
	Role   Role
	Logger *slog.Logger

	Repo       ports.DocumentRepository
	Blobs      ports.BlobStore
	LocalBlobs *localfs.Storage
	Scheduler  ports.Scheduler
	Engine     ports.AnalysisEngine

	IngestUC    ports.DocumentIngestor
	ProcessUC   ports.DocumentProcessor
	LibraryUC   ports.DocumentLibrary
	SearchUC    ports.DocumentSearcher
	AssistantUC ports.DocumentAssistant

	Identity ports.IdentityVerifier
	Limiter  ports.RateLimiter

	WorkerMetrics *metrics.WorkerMetrics

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, role Role, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:        cfg,
		Role:          role,
		Logger:        logger,
		WorkerMetrics: metrics.NewWorkerMetrics(string(role)),
	}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
		Logger:              a.Logger,
		OnStateChange:       a.WorkerMetrics.ObserveBreakerState,
	})

	repo, err := a.newRepository(ctx)
	if err != nil {
		return err
	}
	blobs, err := a.newBlobStore(ctx)
	if err != nil {
		return err
	}
	scheduler, err := a.newScheduler(ctx, executor)
	if err != nil {
		return err
	}
	extractor, err := newExtractor(cfg, blobs)
	if err != nil {
		return err
	}
	engine, err := a.newEngine(ctx, executor)
	if err != nil {
		return err
	}

	a.Repo = repo
	a.Blobs = blobs
	a.Scheduler = scheduler
	a.Engine = engine

	a.IngestUC = usecase.NewIngestDocumentUseCase(repo, blobs, scheduler, usecase.IngestOptions{
		UploadTTL:    cfg.UploadURLTTL,
		ProcessDelay: cfg.ProcessDelay,
		Logger:       a.Logger,
	})
	a.ProcessUC = usecase.NewProcessDocumentUseCase(repo, extractor, engine, usecase.ProcessOptions{
		AppendOnly: cfg.AnalysisAppendOnly,
		Logger:     a.Logger,
		Observer:   a.WorkerMetrics,
	})
	a.LibraryUC = usecase.NewLibraryUseCase(repo, blobs, scheduler, cfg.DownloadURLTTL)
	a.SearchUC = usecase.NewSearchUseCase(repo)
	a.AssistantUC = usecase.NewAssistantUseCase(repo, engine, chunking.NewSplitter(chatPassageSize, chatPassageOverlap))

	if a.Role == RoleAPI {
		identity, err := a.newIdentity(ctx)
		if err != nil {
			return err
		}
		limiter, err := a.newLimiter(ctx)
		if err != nil {
			return err
		}
		a.Identity = identity
		a.Limiter = limiter
	}
	return nil
}

// EmbeddedWorker reports whether document processing runs inside this
// process instead of a separate worker.
func (a *App) EmbeddedWorker() bool {
	return a.Config.SchedulerBackend == schedulerInProc
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("bootstrap_close_failed", "error", err)
	}
}

func unknownBackend(kind, value string) error {
	return fmt.Errorf("unknown %s backend %q", kind, value)
}
