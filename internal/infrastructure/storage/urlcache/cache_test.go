package urlcache

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type countingStore struct {
	signed  int
	deleted int
}

func (s *countingStore) PresignUpload(context.Context, string, domain.FileType, int64, time.Duration) (*domain.UploadTicket, error) {
	return &domain.UploadTicket{}, nil
}

func (s *countingStore) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.signed++
	return fmt.Sprintf("https://blobs/%s?sig=%d", key, s.signed), nil
}

func (s *countingStore) Open(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (s *countingStore) Stat(context.Context, string) (int64, error) { return 0, nil }

func (s *countingStore) Delete(context.Context, string) error {
	s.deleted++
	return nil
}

func TestDownloadURLIsCachedUntilDelete(t *testing.T) {
	inner := &countingStore{}
	store := Wrap(inner, 8, time.Hour)
	ctx := context.Background()

	first, _ := store.DownloadURL(ctx, "owner/a.pdf", time.Hour)
	second, _ := store.DownloadURL(ctx, "owner/a.pdf", time.Hour)
	if first != second || inner.signed != 1 {
		t.Fatalf("expected cached url, signed=%d", inner.signed)
	}

	if err := store.Delete(ctx, "owner/a.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	third, _ := store.DownloadURL(ctx, "owner/a.pdf", time.Hour)
	if third == first || inner.signed != 2 || inner.deleted != 1 {
		t.Fatalf("expected eviction after delete, signed=%d deleted=%d", inner.signed, inner.deleted)
	}
}
