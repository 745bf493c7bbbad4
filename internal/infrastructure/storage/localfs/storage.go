package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

const (
	OpUpload   = "put"
	OpDownload = "get"
)

// Storage keeps blobs on the local filesystem and hands out signed URLs that
// the API serves under /v1/blobs/.
type Storage struct {
	basePath  string
	publicURL string
	secret    []byte
	now       func() time.Time
}

type blobClaims struct {
	Op      string `json:"op"`
	MaxSize int64  `json:"max,omitempty"`
	jwt.RegisteredClaims
}

func New(basePath, publicURL, secret string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if secret == "" {
		return nil, errors.New("local storage signing secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
		secret:    []byte(secret),
		now:       time.Now,
	}, nil
}

func (s *Storage) PresignUpload(
	_ context.Context,
	key string,
	fileType domain.FileType,
	size int64,
	ttl time.Duration,
) (*domain.UploadTicket, error) {
	token, expires, err := s.sign(key, OpUpload, size, ttl)
	if err != nil {
		return nil, err
	}
	return &domain.UploadTicket{
		UploadURL:  s.blobURL(key, token),
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": fileType.ContentType()},
		StorageKey: key,
		ExpiresAt:  expires,
	}, nil
}

func (s *Storage) DownloadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	token, _, err := s.sign(key, OpDownload, 0, ttl)
	if err != nil {
		return "", err
	}
	return s.blobURL(key, token), nil
}

// Verify checks a blob token for the key and operation and returns the size
// limit it grants for uploads.
func (s *Storage) Verify(token, key, op string) (int64, error) {
	claims := &blobClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return 0, domain.WrapError(domain.ErrUnauthenticated, "verify blob token", fmt.Errorf("invalid token: %v", err))
	}
	if claims.Subject != key || claims.Op != op {
		return 0, domain.WrapError(domain.ErrUnauthenticated, "verify blob token", errors.New("token does not match request"))
	}
	return claims.MaxSize, nil
}

// Save writes at most limit bytes to key. Oversized bodies are rejected and
// nothing is left on disk.
func (s *Storage) Save(_ context.Context, key string, data io.Reader, limit int64) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(data, limit+1))
	closeErr := tmp.Close()
	if err != nil {
		return 0, fmt.Errorf("write file: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close file: %w", closeErr)
	}
	if written > limit {
		return 0, domain.WrapError(domain.ErrFileTooLarge, "save blob", fmt.Errorf("limit=%d", limit))
	}
	if written == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "save blob", errors.New("empty body"))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("commit file: %w", err)
	}
	return written, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open blob", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Stat(_ context.Context, key string) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, domain.WrapError(domain.ErrNotFound, "stat blob", err)
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *Storage) sign(key, op string, maxSize int64, ttl time.Duration) (string, time.Time, error) {
	if _, err := s.resolve(key); err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	expires := now.Add(ttl).UTC()
	claims := blobClaims{
		Op:      op,
		MaxSize: maxSize,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign blob token: %w", err)
	}
	return token, expires, nil
}

func (s *Storage) blobURL(key, token string) string {
	return s.publicURL + "/v1/blobs/" + key + "?token=" + url.QueryEscape(token)
}

func (s *Storage) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean != "/"+key {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve blob key", fmt.Errorf("key=%q", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}
