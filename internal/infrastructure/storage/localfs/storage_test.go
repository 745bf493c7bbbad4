package localfs

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), "http://localhost:8080", "secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func tokenFrom(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Query().Get("token")
}

func TestUploadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	ticket, err := s.PresignUpload(ctx, "owner/id_a.pdf", domain.FileTypePDF, 5, time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload() error = %v", err)
	}
	if !strings.HasPrefix(ticket.UploadURL, "http://localhost:8080/v1/blobs/owner/id_a.pdf?token=") {
		t.Fatalf("unexpected upload url %q", ticket.UploadURL)
	}
	limit, err := s.Verify(tokenFrom(t, ticket.UploadURL), "owner/id_a.pdf", OpUpload)
	if err != nil || limit != 5 {
		t.Fatalf("Verify() = %d, %v", limit, err)
	}
	if _, err := s.Verify(tokenFrom(t, ticket.UploadURL), "owner/id_a.pdf", OpDownload); !domain.IsKind(err, domain.ErrUnauthenticated) {
		t.Fatalf("upload token must not grant download, got %v", err)
	}

	if _, err := s.Save(ctx, "owner/id_a.pdf", strings.NewReader("hello"), limit); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	size, err := s.Stat(ctx, "owner/id_a.pdf")
	if err != nil || size != 5 {
		t.Fatalf("Stat() = %d, %v", size, err)
	}
	rc, err := s.Open(ctx, "owner/id_a.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}

	if err := s.Delete(ctx, "owner/id_a.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "owner/id_a.pdf"); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
	if _, err := s.Stat(ctx, "owner/id_a.pdf"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveRejectsOversizedBody(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Save(context.Background(), "owner/big.pdf", strings.NewReader("0123456789"), 4)
	if !domain.IsKind(err, domain.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := s.Stat(context.Background(), "owner/big.pdf"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("oversized body must not be stored, got %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStorage(t)

	for _, key := range []string{"../etc/passwd", "owner/../../x", "", "/abs"} {
		if _, err := s.Stat(context.Background(), key); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Stat(%q) error = %v", key, err)
		}
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := newTestStorage(t)
	raw, err := s.DownloadURL(context.Background(), "owner/a.pdf", time.Minute)
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	if _, err := s.Verify(tokenFrom(t, raw), "owner/a.pdf", OpDownload); !domain.IsKind(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}
