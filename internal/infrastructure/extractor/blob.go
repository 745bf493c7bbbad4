// Package extractor reads stored blobs for the content extractors.
package extractor

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

// ReadBlob loads a stored document, refusing anything above MaxFileSize.
func ReadBlob(ctx context.Context, blobs ports.BlobStore, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := blobs.Open(ctx, key)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBlobFetch, "open source document", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, domain.MaxFileSize+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrBlobFetch, "read source document", err)
	}
	if int64(len(raw)) > domain.MaxFileSize {
		return nil, domain.WrapError(domain.ErrFileTooLarge, "read source document", fmt.Errorf("key=%s", key))
	}
	return raw, nil
}
