package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// DocumentRepository persists documents and their analysis records.
type DocumentRepository interface {
	// Create returns ErrInvalidState when the storage key already belongs to
	// another document.
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByStorageKey(ctx context.Context, key string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Document, error)
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error)
	// SaveExtraction records the extraction outcome. It returns ErrNotFound
	// when the document no longer exists.
	SaveExtraction(ctx context.Context, id, content string, processing bool) error
	// CompleteAnalysis writes the document analysis fields and the records in
	// one transaction. With replace set, earlier records of the same kinds are
	// removed first.
	CompleteAnalysis(ctx context.Context, id string, analysis domain.DocumentAnalysis, records []domain.AnalysisRecord, replace bool) error
	ListAnalyses(ctx context.Context, documentID string) ([]domain.AnalysisRecord, error)
	// Delete removes the document and its records. beforeCommit runs inside the
	// transaction; an error from it rolls everything back.
	Delete(ctx context.Context, id string, beforeCommit func(context.Context, *domain.Document) error) error
}

// BlobStore holds raw document bytes.
type BlobStore interface {
	PresignUpload(ctx context.Context, key string, fileType domain.FileType, size int64, ttl time.Duration) (*domain.UploadTicket, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Scheduler is the at-least-once trigger for document processing.
type Scheduler interface {
	PublishDocumentUploaded(ctx context.Context, documentID string, delay time.Duration) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// ContentExtractor turns a stored blob into text.
type ContentExtractor interface {
	Extract(ctx context.Context, storageKey string, fileType domain.FileType) (string, error)
}

// TextChunker cuts long text into passages in document order.
type TextChunker interface {
	Split(text string) []string
}

// AnalysisEngine runs one analysis kind over text.
type AnalysisEngine interface {
	Analyze(ctx context.Context, kind domain.AnalysisKind, text string) (domain.AnalysisResult, error)
}

// ProcessingOutcome names how one processing run ended.
type ProcessingOutcome string

const (
	OutcomeComplete    ProcessingOutcome = "complete"
	OutcomeFailed      ProcessingOutcome = "failed"
	OutcomeStalled     ProcessingOutcome = "stalled"
	OutcomeUnsupported ProcessingOutcome = "unsupported"
	OutcomeMissing     ProcessingOutcome = "missing"
	OutcomeError       ProcessingOutcome = "error"
)

// ProcessingObserver receives terminal outcomes of processing runs.
type ProcessingObserver interface {
	ObserveProcessing(documentID string, outcome ProcessingOutcome, duration time.Duration)
}

// IdentityVerifier resolves a bearer token to the caller's owner id. Invalid
// tokens yield domain.ErrUnauthenticated.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RateLimiter decides whether one more request for key is allowed now.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
