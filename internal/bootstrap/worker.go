package bootstrap

import (
	"context"
	"time"
)

// RunWorker consumes document triggers until ctx is done. Each document gets
// its own ProcessTimeout budget.
func (a *App) RunWorker(ctx context.Context) error {
	a.Logger.Info("worker_started",
		"scheduler", a.Config.SchedulerBackend,
		"extractor", a.Config.ExtractorBackend,
		"analysis", a.Config.AnalysisBackend,
	)
	return a.Scheduler.SubscribeDocumentUploaded(ctx, a.handleDocument)
}

func (a *App) handleDocument(ctx context.Context, documentID string) error {
	timeout := a.Config.ProcessTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.WorkerMetrics.StartDocument()
	defer a.WorkerMetrics.FinishDocument()

	if err := a.ProcessUC.ProcessByID(jobCtx, documentID); err != nil {
		a.Logger.Error("document_processing_failed", "document_id", documentID, "error", err)
		return err
	}
	return nil
}
