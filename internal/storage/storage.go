// Package storage holds the blob store backends. A blob's path is the
// backend object name; callers turn it into a time-limited URL with
// ResolveURL.
package storage

import (
	"context"
	"strings"
	"time"
)

// BlobInfo describes a stored object as seen by a listing.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	ResolveURL(ctx context.Context, path string) (string, error)
	List(ctx context.Context) ([]BlobInfo, error)
	Delete(ctx context.Context, path string) error
}

func objectPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}
