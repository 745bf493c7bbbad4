package ports

import (
	"context"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the two-step upload flow.
type DocumentIngestor interface {
	RequestUpload(ctx context.Context, ownerID string, req domain.UploadRequest) (*domain.UploadTicket, error)
	CreateDocument(ctx context.Context, ownerID string, in domain.NewDocumentInput) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentLibrary is the owner-scoped read/mutation surface over documents.
type DocumentLibrary interface {
	List(ctx context.Context, ownerID string, opts domain.ListOptions) (*domain.DocumentPage, error)
	Get(ctx context.Context, ownerID, documentID string) (*domain.Document, error)
	Analyses(ctx context.Context, ownerID, documentID string) ([]domain.AnalysisRecord, error)
	DownloadURL(ctx context.Context, ownerID, documentID string) (string, error)
	Delete(ctx context.Context, ownerID, documentID string) error
	Reprocess(ctx context.Context, ownerID, documentID string) (*domain.Document, error)
}

// DocumentSearcher runs content and filename searches.
type DocumentSearcher interface {
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error)
}

// DocumentAssistant answers questions about documents and compares them.
type DocumentAssistant interface {
	Chat(ctx context.Context, ownerID, documentID, question string) (*domain.ChatAnswer, error)
	Compare(ctx context.Context, ownerID, firstID, secondID string) (*domain.Comparison, error)
}
