// Package urlcache memoizes presigned download URLs so repeated downloads of
// the same document do not re-sign on every request.
package urlcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/docdesk/internal/core/ports"
)

type BlobStore struct {
	ports.BlobStore
	urls *expirable.LRU[string, string]
}

// Wrap caches DownloadURL results for half of the requested TTL, so a cached
// URL always has at least that much validity left. Delete evicts.
func Wrap(inner ports.BlobStore, size int, ttl time.Duration) *BlobStore {
	if size <= 0 {
		size = 1024
	}
	return &BlobStore{
		BlobStore: inner,
		urls:      expirable.NewLRU[string, string](size, nil, ttl/2),
	}
}

func (b *BlobStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if cached, ok := b.urls.Get(key); ok {
		return cached, nil
	}
	url, err := b.BlobStore.DownloadURL(ctx, key, ttl)
	if err != nil {
		return "", err
	}
	b.urls.Add(key, url)
	return url, nil
}

func (b *BlobStore) Delete(ctx context.Context, key string) error {
	b.urls.Remove(key)
	return b.BlobStore.Delete(ctx, key)
}
