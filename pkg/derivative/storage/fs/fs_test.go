package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}

	ctx := context.Background()
	key := "2024-01/parent/child/file.bin"

	if err := backend.PrepareDirectory(ctx, "2024-01/parent/child"); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	data := []byte("hello fs")
	if err := backend.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		t.Fatalf("upload: %v", err)
	}

	rc, err := backend.Download(ctx, key)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != string(data) {
		t.Fatalf("download mismatch: %q", string(got))
	}

	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, key)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "2024-01")); !os.IsNotExist(err) {
		t.Fatalf("expected empty parents removed, stat err=%v", err)
	}
}

func TestFSBackend_UploadReplaces(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if err := backend.Upload(ctx, "thumb.png", bytes.NewReader([]byte(body))); err != nil {
			t.Fatalf("upload %s: %v", body, err)
		}
	}

	rc, err := backend.Download(ctx, "thumb.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "second" {
		t.Fatalf("expected last upload to win, got %q", string(got))
	}
}

func TestFSBackend_NotFound(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()

	if _, err := backend.Download(ctx, "missing"); !errors.Is(err, derivative.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := backend.Delete(ctx, "missing"); !errors.Is(err, derivative.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()

	if err := backend.Upload(ctx, "../outside.txt", bytes.NewReader([]byte("x"))); err == nil {
		t.Fatalf("expected error for key outside base dir")
	}
	if err := backend.PrepareDirectory(ctx, "../../etc"); err == nil {
		t.Fatalf("expected error for directory outside base dir")
	}
}

func TestFSBackend_PrepareReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ro := filepath.Join(tmp, "ro")
	if err := os.Mkdir(ro, 0555); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(ro, 0755) })

	if err := backend.PrepareDirectory(context.Background(), "ro"); err == nil {
		t.Fatalf("expected read-only directory to fail preparation")
	}
}

func TestNew_RequiresBaseDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without base dir")
	}
}
