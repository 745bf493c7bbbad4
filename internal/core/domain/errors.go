package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrNotFound            = errors.New("document not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrBlobFetch           = errors.New("blob fetch failed")
	ErrAnalysisFailed      = errors.New("analysis failed")
	ErrStorage             = errors.New("storage error")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("invalid document state")
	ErrTemporary           = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// NotFoundOrForbidden is returned for both missing documents and documents
// owned by someone else, so callers cannot learn whether an id exists.
func NotFoundOrForbidden(operation, documentID string) error {
	return fmt.Errorf("%s: %w: id=%s", operation, ErrNotFound, documentID)
}
