package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store keeps document blobs in an S3 bucket. Clients upload through
// presigned PUT URLs.
type Store struct {
	client  objectAPI
	presign presignAPI
	bucket  string
	prefix  string
}

type Options struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string
	// PathStyle is needed for S3-compatible endpoints such as localstack.
	PathStyle bool
}

func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return newStore(client, s3.NewPresignClient(client), opts.Bucket, opts.Prefix), nil
}

func newStore(client objectAPI, presign presignAPI, bucket, prefix string) *Store {
	return &Store{
		client:  client,
		presign: presign,
		bucket:  bucket,
		prefix:  normalizePrefix(prefix),
	}
}

func (s *Store) PresignUpload(
	ctx context.Context,
	key string,
	fileType domain.FileType,
	size int64,
	ttl time.Duration,
) (*domain.UploadTicket, error) {
	objectKey := applyPrefix(s.prefix, key)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		ContentType:   aws.String(fileType.ContentType()),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("s3 presign put bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}

	headers := map[string]string{}
	for name, values := range req.SignedHeader {
		if strings.EqualFold(name, "host") || len(values) == 0 {
			continue
		}
		headers[http.CanonicalHeaderKey(name)] = values[0]
	}
	return &domain.UploadTicket{
		UploadURL:  req.URL,
		Method:     req.Method,
		Headers:    headers,
		StorageKey: key,
		ExpiresAt:  time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	objectKey := applyPrefix(s.prefix, key)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign get bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return req.URL, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, wrapMissing(fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err), err)
	}
	return out.Body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (int64, error) {
	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return 0, wrapMissing(fmt.Errorf("s3 head object bucket=%s key=%s: %w", s.bucket, objectKey, err), err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Delete is idempotent: S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey := applyPrefix(s.prefix, key)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

func wrapMissing(wrapped, cause error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(cause, &noKey) || errors.As(cause, &notFound) {
		return domain.WrapError(domain.ErrNotFound, "s3 object", wrapped)
	}
	return wrapped
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}
