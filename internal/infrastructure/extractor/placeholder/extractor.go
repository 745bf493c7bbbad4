// Package placeholder confirms a blob is readable and returns fixed text per
// file type instead of parsing it.
package placeholder

import (
	"context"
	"fmt"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
	"github.com/kirillkom/docdesk/internal/infrastructure/extractor"
)

const (
	PDFText  = "PDF content extracted from file. This is a placeholder for actual PDF parsing."
	DOCXText = "DOCX content extracted from file. This is a placeholder for actual DOCX parsing."
)

type Extractor struct {
	blobs ports.BlobStore
}

func NewExtractor(blobs ports.BlobStore) *Extractor {
	return &Extractor{blobs: blobs}
}

func (e *Extractor) Extract(ctx context.Context, storageKey string, fileType domain.FileType) (string, error) {
	if !fileType.Supported() {
		return "", domain.WrapError(domain.ErrUnsupportedFileType, "extract content", fmt.Errorf("type=%q", fileType))
	}
	if _, err := extractor.ReadBlob(ctx, e.blobs, storageKey); err != nil {
		return "", err
	}
	if fileType == domain.FileTypePDF {
		return PDFText, nil
	}
	return DOCXText, nil
}
