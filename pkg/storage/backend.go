// Package storage persists managed artifacts to the local filesystem or S3.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// BlobStore defines the interface for abstract storage backends. Keys are
// slash separated. Get wraps artifact.ErrNotFound for missing keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Open resolves a storage URL: "file://dir", a bare directory, or
// "s3://bucket/prefix".
func Open(ctx context.Context, rawURL string) (BlobStore, error) {
	if !strings.Contains(rawURL, "://") {
		return NewLocalStore(rawURL), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid storage url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Host + u.Path), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("storage url %q has no bucket", rawURL)
		}
		client, err := NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, u.Host, strings.Trim(u.Path, "/")), nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

// cleanKey normalises a key and keeps it inside the store.
func cleanKey(key string) string {
	return path.Clean("/" + key)[1:]
}
