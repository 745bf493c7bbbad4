package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

type ProcessOptions struct {
	// AppendOnly keeps earlier analysis records when a document is processed again.
	AppendOnly bool
	Logger     *slog.Logger
	Observer   ports.ProcessingObserver
}

type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.ContentExtractor
	engine    ports.AnalysisEngine
	opts      ProcessOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.ContentExtractor,
	engine ports.AnalysisEngine,
	opts ProcessOptions,
) *ProcessDocumentUseCase {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:      repo,
		extractor: extractor,
		engine:    engine,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessByID runs extraction and the document analyses for one trigger.
// Extraction failures end in the failed state and analysis failures leave the
// document extracted; neither is returned. An error means nothing could be
// recorded and the trigger should be delivered again.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	started := time.Now()
	outcome, err := uc.process(ctx, documentID)
	if uc.opts.Observer != nil {
		uc.opts.Observer.ObserveProcessing(documentID, outcome, time.Since(started))
	}
	return err
}

func (uc *ProcessDocumentUseCase) process(ctx context.Context, documentID string) (ports.ProcessingOutcome, error) {
	log := uc.logger.With("document_id", documentID)

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			log.Info("document_missing_skip_processing")
			return ports.OutcomeMissing, nil
		}
		return ports.OutcomeError, fmt.Errorf("fetch document by id: %w", err)
	}
	if state := doc.State(); state != domain.StateUploaded {
		log.Warn("document_processed_again", "state", state)
	}

	if !doc.FileType.Supported() {
		log.Warn("document_unsupported_type", "file_type", doc.FileType)
		return ports.OutcomeUnsupported, nil
	}

	text, err := uc.extractText(ctx, doc)
	if err != nil {
		log.Warn("document_extraction_failed", "error", err)
		if saveErr := uc.repo.SaveExtraction(ctx, doc.ID, domain.ExtractionFailedContent, false); saveErr != nil {
			return uc.persistFailure(log, err, saveErr)
		}
		return ports.OutcomeFailed, nil
	}
	if err := uc.repo.SaveExtraction(ctx, doc.ID, text, true); err != nil {
		return uc.persistFailure(log, nil, err)
	}

	analysis, records, err := uc.analyze(ctx, doc, text)
	if err != nil {
		log.Error("document_analysis_stalled", "error", err)
		return ports.OutcomeStalled, nil
	}
	if err := uc.repo.CompleteAnalysis(ctx, doc.ID, analysis, records, !uc.opts.AppendOnly); err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			log.Info("document_deleted_during_processing")
			return ports.OutcomeMissing, nil
		}
		log.Error("document_analysis_persist_failed", "error", err)
		return ports.OutcomeStalled, nil
	}

	log.Info("document_processed", "owner_id", doc.OwnerID, "records", len(records))
	return ports.OutcomeComplete, nil
}

func (uc *ProcessDocumentUseCase) persistFailure(log *slog.Logger, cause, saveErr error) (ports.ProcessingOutcome, error) {
	if domain.IsKind(saveErr, domain.ErrNotFound) {
		log.Info("document_deleted_during_processing")
		return ports.OutcomeMissing, nil
	}
	if cause != nil {
		return ports.OutcomeError, fmt.Errorf("%w; save extraction: %v", cause, saveErr)
	}
	return ports.OutcomeError, fmt.Errorf("save extraction: %w", saveErr)
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (string, error) {
	text, err := uc.extractor.Extract(ctx, doc.StorageKey, doc.FileType)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" || text == domain.ExtractionFailedContent {
		return "", domain.WrapError(domain.ErrExtractionFailed, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

func (uc *ProcessDocumentUseCase) analyze(
	ctx context.Context,
	doc *domain.Document,
	text string,
) (domain.DocumentAnalysis, []domain.AnalysisRecord, error) {
	kinds := domain.DocumentAnalysisKinds
	results := make([]domain.AnalysisResult, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := uc.engine.Analyze(gctx, kind, text)
			if err != nil {
				return domain.WrapError(domain.ErrAnalysisFailed, "analyze "+string(kind), err)
			}
			res.Kind = kind
			res.Confidence = domain.ClampConfidence(res.Confidence)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.DocumentAnalysis{}, nil, err
	}

	createdAt := uc.now()
	var analysis domain.DocumentAnalysis
	records := make([]domain.AnalysisRecord, 0, len(results))
	for _, res := range results {
		records = append(records, domain.AnalysisRecord{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Kind:       res.Kind,
			Result:     res.Text,
			Confidence: res.Confidence,
			CreatedAt:  createdAt,
		})
		switch res.Kind {
		case domain.KindSummary:
			analysis.Summary = strings.TrimSpace(res.Text)
		case domain.KindClassification:
			analysis.Classification = strings.TrimSpace(res.Text)
		case domain.KindKeywords:
			analysis.Keywords = domain.SplitKeywords(res.Text)
		}
	}
	if err := requireAnalysisFields(analysis); err != nil {
		return domain.DocumentAnalysis{}, nil, err
	}
	return analysis, records, nil
}

// requireAnalysisFields rejects replies that are blank once trimmed or split.
func requireAnalysisFields(analysis domain.DocumentAnalysis) error {
	var missing string
	switch {
	case analysis.Summary == "":
		missing = string(domain.KindSummary)
	case analysis.Classification == "":
		missing = string(domain.KindClassification)
	case len(analysis.Keywords) == 0:
		missing = string(domain.KindKeywords)
	default:
		return nil
	}
	return domain.WrapError(domain.ErrAnalysisFailed, "analyze "+missing, errors.New("empty result"))
}
