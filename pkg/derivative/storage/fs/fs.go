package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Backend is a filesystem implementation of the derivative.BlobStore interface
type Backend struct {
	baseDir string
	dirMode os.FileMode
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string      // Base directory for storing files
	DirMode os.FileMode // Mode of created directories (default 0775)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.DirMode == 0 {
		config.DirMode = 0775
	}

	base, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(base, config.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: base, dirMode: config.DirMode}, nil
}

// PrepareDirectory creates dir below the base directory and checks that
// files can be created in it.
func (b *Backend) PrepareDirectory(ctx context.Context, dir string) error {
	path, err := b.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, b.dirMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	probe, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Upload writes content to a temporary file and renames it over key, so
// readers see either the old or the new artifact.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), b.dirMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// Download downloads content directly from the filesystem
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, derivative.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete deletes content from the filesystem
func (b *Backend) Delete(ctx context.Context, key string) error {
	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return derivative.ErrObjectNotFound
	} else if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(path))
	return nil
}

// resolve maps a key to a path, refusing keys that leave the base directory.
func (b *Backend) resolve(key string) (string, error) {
	path := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if path != b.baseDir && !strings.HasPrefix(path, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes base directory", key)
	}
	return path, nil
}

// cleanupEmptyDirectories removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

var _ derivative.BlobStore = (*Backend)(nil)
