package domain

import (
	"fmt"
	"strings"
	"time"
)

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
)

// MaxFileSize caps a single upload at 10 MiB.
const MaxFileSize int64 = 10 << 20

// ExtractionFailedContent is written to Document.Content when extraction fails.
const ExtractionFailedContent = "Error: Unable to extract content from file"

// ParseFileType accepts only the pdf/docx allow-list, case-insensitively.
func ParseFileType(raw string) (FileType, error) {
	switch FileType(strings.ToLower(strings.TrimSpace(raw))) {
	case FileTypePDF:
		return FileTypePDF, nil
	case FileTypeDOCX:
		return FileTypeDOCX, nil
	default:
		return "", WrapError(ErrUnsupportedFileType, "parse file type", fmt.Errorf("type=%q", raw))
	}
}

func (t FileType) Supported() bool {
	return t == FileTypePDF || t == FileTypeDOCX
}

func (t FileType) ContentType() string {
	switch t {
	case FileTypePDF:
		return "application/pdf"
	case FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

type DocumentState string

const (
	StateUploaded  DocumentState = "uploaded"
	StateExtracted DocumentState = "extracted"
	StateComplete  DocumentState = "complete"
	StateFailed    DocumentState = "failed"
)

type Document struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	FileName   string            `json:"file_name"`
	FileType   FileType          `json:"file_type"`
	FileSize   int64             `json:"file_size"`
	StorageKey string            `json:"storage_key"`
	Content    string            `json:"content"`
	Processing bool              `json:"processing"`
	Analysis   *DocumentAnalysis `json:"analysis,omitempty"`
	UploadedAt time.Time         `json:"uploaded_at"`
}

// DocumentAnalysis mirrors the summary, classification and keywords analysis
// kinds onto the document. It is written as one unit or not at all.
type DocumentAnalysis struct {
	Summary        string   `json:"summary"`
	Classification string   `json:"classification"`
	Keywords       []string `json:"keywords"`
}

// State derives the processing state from the persisted fields.
func (d *Document) State() DocumentState {
	switch {
	case d.Processing && d.Analysis != nil:
		return StateComplete
	case d.Processing:
		return StateExtracted
	case d.Content == ExtractionFailedContent:
		return StateFailed
	default:
		return StateUploaded
	}
}

// HasContent reports whether extraction produced usable text.
func (d *Document) HasContent() bool {
	return d.Processing && d.Content != "" && d.Content != ExtractionFailedContent
}

func (d *Document) Ref() DocumentRef {
	return DocumentRef{ID: d.ID, FileName: d.FileName, FileType: d.FileType}
}

type DocumentRef struct {
	ID       string   `json:"id"`
	FileName string   `json:"file_name"`
	FileType FileType `json:"file_type"`
}

// NewDocumentInput is what a client reports once its blob upload finished.
type NewDocumentInput struct {
	StorageKey string   `json:"storage_key"`
	FileName   string   `json:"file_name"`
	FileType   FileType `json:"file_type"`
	FileSize   int64    `json:"file_size"`
}

type DocumentPage struct {
	Documents  []Document `json:"documents"`
	NextOffset int        `json:"next_offset,omitempty"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 50
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize clamps the page window to [1, MaxPageSize] with a non-negative offset.
func (o ListOptions) Normalize() ListOptions {
	out := o
	if out.Limit <= 0 {
		out.Limit = DefaultPageSize
	}
	if out.Limit > MaxPageSize {
		out.Limit = MaxPageSize
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}
