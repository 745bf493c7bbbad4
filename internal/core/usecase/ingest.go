package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

const defaultUploadTTL = 15 * time.Minute

type IngestOptions struct {
	UploadTTL    time.Duration
	ProcessDelay time.Duration
	Logger       *slog.Logger
}

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	blobs     ports.BlobStore
	scheduler ports.Scheduler
	opts      IngestOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	blobs ports.BlobStore,
	scheduler ports.Scheduler,
	opts IngestOptions,
) *IngestDocumentUseCase {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = defaultUploadTTL
	}
	if opts.ProcessDelay < 0 {
		opts.ProcessDelay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:      repo,
		blobs:     blobs,
		scheduler: scheduler,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestDocumentUseCase) RequestUpload(
	ctx context.Context,
	ownerID string,
	req domain.UploadRequest,
) (*domain.UploadTicket, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	fileType, err := validateUpload(req.FileName, string(req.FileType), req.FileSize)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s_%s", ownerPrefix(ownerID), uuid.NewString(), sanitizeFilename(req.FileName))
	ticket, err := uc.blobs.PresignUpload(ctx, key, fileType, req.FileSize, uc.opts.UploadTTL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "presign upload", err)
	}
	return ticket, nil
}

func (uc *IngestDocumentUseCase) CreateDocument(
	ctx context.Context,
	ownerID string,
	in domain.NewDocumentInput,
) (*domain.Document, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	fileType, err := validateUpload(in.FileName, string(in.FileType), in.FileSize)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.StorageKey)
	if !strings.HasPrefix(key, ownerPrefix(ownerID)+"/") || path.Clean(key) != key {
		return nil, domain.NotFoundOrForbidden("create document", key)
	}

	if existing, err := uc.repo.GetByStorageKey(ctx, key); err == nil {
		return uc.resumeExisting(ctx, existing, ownerID, in.FileName, fileType)
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup storage key: %w", err)
	}

	size, err := uc.blobs.Stat(ctx, key)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "stat uploaded blob", err)
	}
	if size > domain.MaxFileSize {
		return nil, domain.WrapError(domain.ErrFileTooLarge, "create document", fmt.Errorf("stored size=%d", size))
	}
	if size > 0 {
		in.FileSize = size
	}

	doc := &domain.Document{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		FileName:   strings.TrimSpace(in.FileName),
		FileType:   fileType,
		FileSize:   in.FileSize,
		StorageKey: key,
		UploadedAt: uc.now(),
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		if domain.IsKind(err, domain.ErrInvalidState) {
			// Lost a race with a concurrent create for the same blob.
			if existing, getErr := uc.repo.GetByStorageKey(ctx, key); getErr == nil {
				return uc.resumeExisting(ctx, existing, ownerID, in.FileName, fileType)
			}
		}
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.scheduler.PublishDocumentUploaded(ctx, doc.ID, uc.opts.ProcessDelay); err != nil {
		uc.rollbackCreate(ctx, doc, err)
		return nil, markTemporary("schedule document processing", err)
	}
	return doc, nil
}

// resumeExisting answers a repeated create for an already registered blob.
// The same upload returns the stored document and re-triggers processing if
// it never started; a different name or type for the blob is a conflict.
func (uc *IngestDocumentUseCase) resumeExisting(
	ctx context.Context,
	existing *domain.Document,
	ownerID, fileName string,
	fileType domain.FileType,
) (*domain.Document, error) {
	if existing.OwnerID != ownerID {
		return nil, domain.NotFoundOrForbidden("create document", existing.StorageKey)
	}
	if existing.FileName != strings.TrimSpace(fileName) || existing.FileType != fileType {
		return nil, domain.WrapError(domain.ErrInvalidState, "create document",
			fmt.Errorf("storage key already registered to document %s", existing.ID))
	}
	if existing.State() == domain.StateUploaded {
		if err := uc.scheduler.PublishDocumentUploaded(ctx, existing.ID, uc.opts.ProcessDelay); err != nil {
			return nil, markTemporary("schedule document processing", err)
		}
	}
	return existing, nil
}

// rollbackCreate removes a record whose trigger could not be published, so a
// retried create starts clean. The blob stays for that retry.
func (uc *IngestDocumentUseCase) rollbackCreate(ctx context.Context, doc *domain.Document, cause error) {
	log := uc.logger.With("document_id", doc.ID)
	if err := uc.repo.Delete(context.WithoutCancel(ctx), doc.ID, nil); err != nil {
		log.Error("document_schedule_rollback_failed", "error", err, "schedule_error", cause)
		return
	}
	log.Warn("document_schedule_failed", "error", cause)
}

func markTemporary(op string, err error) error {
	if domain.IsKind(err, domain.ErrTemporary) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrTemporary, op, err)
}

func validateUpload(fileName, rawType string, size int64) (domain.FileType, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("file_name is required"))
	}
	fileType, err := domain.ParseFileType(rawType)
	if err != nil {
		return "", err
	}
	if size <= 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate upload", fmt.Errorf("file_size=%d", size))
	}
	if size > domain.MaxFileSize {
		return "", domain.WrapError(domain.ErrFileTooLarge, "validate upload", fmt.Errorf("file_size=%d max=%d", size, domain.MaxFileSize))
	}
	return fileType, nil
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.WrapError(domain.ErrUnauthenticated, "resolve caller", errors.New("missing owner id"))
	}
	return nil
}

// ownerPrefix namespaces blob keys per owner without exposing the raw id.
func ownerPrefix(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:8])
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
