package history

import (
	"context"
	"errors"
	"sync"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/storage"
)

// BlobBackend keeps the whole ledger as one JSONL object in a blob store,
// typically S3.
type BlobBackend struct {
	Store storage.BlobStore
	Key   string

	mu sync.Mutex
}

// NewBlobBackend stores the ledger under key.
func NewBlobBackend(store storage.BlobStore, key string) *BlobBackend {
	if key == "" {
		key = "ledger.jsonl"
	}
	return &BlobBackend{Store: store, Key: key}
}

// Append is a read-modify-write; object stores have no append. Concurrent
// writers in other processes can lose updates.
func (b *BlobBackend) Append(ctx context.Context, p artifact.IngestionProgress) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.readAll(ctx)
	if err != nil {
		return err
	}
	data, err := encodeLines(append(existing, p))
	if err != nil {
		return err
	}
	return b.Store.Put(ctx, b.Key, data)
}

func (b *BlobBackend) Load(ctx context.Context, n int) ([]artifact.IngestionProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	runs, err := b.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return tail(runs, n), nil
}

func (b *BlobBackend) Close() error { return nil }

func (b *BlobBackend) readAll(ctx context.Context) ([]artifact.IngestionProgress, error) {
	data, err := b.Store.Get(ctx, b.Key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLines(data)
}
