package domain

import (
	"fmt"
	"strings"
	"time"
)

type SearchMode string

const (
	SearchByContent  SearchMode = "content"
	SearchByFilename SearchMode = "filename"
)

// MaxSearchResults bounds every search response.
const MaxSearchResults = 20

func ParseSearchMode(raw string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SearchByContent:
		return SearchByContent, nil
	case SearchByFilename:
		return SearchByFilename, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse search mode", fmt.Errorf("mode=%q", raw))
	}
}

type SearchQuery struct {
	OwnerID  string
	Text     string
	Mode     SearchMode
	FileType FileType
	Limit    int
}

type UploadRequest struct {
	FileName string   `json:"file_name"`
	FileType FileType `json:"file_type"`
	FileSize int64    `json:"file_size"`
}

// UploadTicket is the one-time handle a client uses to push bytes straight
// to blob storage.
type UploadTicket struct {
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	StorageKey string            `json:"storage_key"`
	ExpiresAt  time.Time         `json:"expires_at"`
}
