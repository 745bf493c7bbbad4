package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

const defaultDownloadTTL = 10 * time.Minute

type LibraryUseCase struct {
	repo        ports.DocumentRepository
	blobs       ports.BlobStore
	scheduler   ports.Scheduler
	downloadTTL time.Duration
}

func NewLibraryUseCase(
	repo ports.DocumentRepository,
	blobs ports.BlobStore,
	scheduler ports.Scheduler,
	downloadTTL time.Duration,
) *LibraryUseCase {
	if downloadTTL <= 0 {
		downloadTTL = defaultDownloadTTL
	}
	return &LibraryUseCase{
		repo:        repo,
		blobs:       blobs,
		scheduler:   scheduler,
		downloadTTL: downloadTTL,
	}
}

func (uc *LibraryUseCase) List(ctx context.Context, ownerID string, opts domain.ListOptions) (*domain.DocumentPage, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	opts = opts.Normalize()
	docs, err := uc.repo.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	page := &domain.DocumentPage{Documents: docs}
	if page.Documents == nil {
		page.Documents = []domain.Document{}
	}
	if len(docs) == opts.Limit {
		page.NextOffset = opts.Offset + opts.Limit
	}
	return page, nil
}

func (uc *LibraryUseCase) Get(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	return loadOwned(ctx, uc.repo, "get document", ownerID, documentID)
}

func (uc *LibraryUseCase) Analyses(ctx context.Context, ownerID, documentID string) ([]domain.AnalysisRecord, error) {
	doc, err := loadOwned(ctx, uc.repo, "list analyses", ownerID, documentID)
	if err != nil {
		return nil, err
	}
	records, err := uc.repo.ListAnalyses(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	if records == nil {
		records = []domain.AnalysisRecord{}
	}
	return records, nil
}

func (uc *LibraryUseCase) DownloadURL(ctx context.Context, ownerID, documentID string) (string, error) {
	doc, err := loadOwned(ctx, uc.repo, "download document", ownerID, documentID)
	if err != nil {
		return "", err
	}
	url, err := uc.blobs.DownloadURL(ctx, doc.StorageKey, uc.downloadTTL)
	if err != nil {
		return "", domain.WrapError(domain.ErrStorage, "download url", err)
	}
	return url, nil
}

// Delete removes the document, its analysis records and its blob. The blob is
// removed inside the repository transaction so a storage failure leaves the
// document intact.
func (uc *LibraryUseCase) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := loadOwned(ctx, uc.repo, "delete document", ownerID, documentID)
	if err != nil {
		return err
	}
	err = uc.repo.Delete(ctx, doc.ID, func(ctx context.Context, locked *domain.Document) error {
		if locked.OwnerID != ownerID {
			return domain.NotFoundOrForbidden("delete document", documentID)
		}
		if err := uc.blobs.Delete(ctx, locked.StorageKey); err != nil {
			return domain.WrapError(domain.ErrStorage, "delete blob", err)
		}
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return domain.NotFoundOrForbidden("delete document", documentID)
		}
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Reprocess schedules another processing run for a document that failed
// extraction, stalled in analysis or never got its trigger.
func (uc *LibraryUseCase) Reprocess(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	doc, err := loadOwned(ctx, uc.repo, "reprocess document", ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State() == domain.StateComplete {
		return nil, domain.WrapError(domain.ErrInvalidState, "reprocess document", fmt.Errorf("state=%s", doc.State()))
	}
	if err := uc.scheduler.PublishDocumentUploaded(ctx, doc.ID, 0); err != nil {
		return nil, fmt.Errorf("schedule document processing: %w", err)
	}
	return doc, nil
}

// loadOwned reports missing and foreign documents with the same error.
func loadOwned(ctx context.Context, repo ports.DocumentRepository, op, ownerID, documentID string) (*domain.Document, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.NotFoundOrForbidden(op, documentID)
	}
	doc, err := repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.NotFoundOrForbidden(op, documentID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if doc.OwnerID != ownerID {
		return nil, domain.NotFoundOrForbidden(op, documentID)
	}
	return doc, nil
}
