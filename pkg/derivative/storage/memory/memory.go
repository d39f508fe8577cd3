package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Backend is an in-memory implementation of the derivative.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// prepareErr, when set, fails PrepareDirectory
	prepareErr error
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

// PrepareDirectory has nothing to create in memory
func (b *Backend) PrepareDirectory(ctx context.Context, dir string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.prepareErr
}

// FailPrepare makes PrepareDirectory return err; nil heals.
func (b *Backend) FailPrepare(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepareErr = err
}

// Upload replaces the content at key
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

// Download returns a reader over a copy of the content at key
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.objects[key]
	if !ok {
		return nil, derivative.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Delete removes the content at key
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return derivative.ErrObjectNotFound
	}
	delete(b.objects, key)
	return nil
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

var _ derivative.BlobStore = (*Backend)(nil)
