package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store is a blob store backed by a MinIO (or any S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	return &Store{client: mc, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := s.client.BucketExists(ctx, s.bucket)
		if xerr != nil || !exists {
			return fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return nil
}

func (s *Store) PresignUpload(
	ctx context.Context,
	key string,
	fileType domain.FileType,
	_ int64,
	ttl time.Duration,
) (*domain.UploadTicket, error) {
	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("minio presign put key=%s: %w", key, err)
	}
	return &domain.UploadTicket{
		UploadURL:  presigned.String(),
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": fileType.ContentType()},
		StorageKey: key,
		ExpiresAt:  time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("minio presign get key=%s: %w", key, err)
	}
	return presigned.String(), nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapMissing("minio get object", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, wrapMissing("minio get object", key, err)
	}
	return obj, nil
}

func (s *Store) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, wrapMissing("minio stat object", key, err)
	}
	return info.Size, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio remove object key=%s: %w", key, err)
	}
	return nil
}

func wrapMissing(op, key string, err error) error {
	wrapped := fmt.Errorf("%s key=%s: %w", op, key, err)
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return domain.WrapError(domain.ErrNotFound, op, wrapped)
	}
	return wrapped
}
