package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kenneth/blobvault/internal/blobstore"
)

func TestResolve_LocalPathPassesThrough(t *testing.T) {
	r := NewResolver(func(context.Context, string, string) (blobstore.Backend, error) {
		t.Fatal("factory should not be called for a local path")
		return nil, nil
	})

	got, err := r.Resolve(context.Background(), "/var/backups/2024-01-01.mfn")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got.LocalPath != "/var/backups/2024-01-01.mfn" {
		t.Errorf("expected local path unchanged, got %q", got.LocalPath)
	}
	if got.Backend != nil {
		t.Error("expected no backend for a local path")
	}
	if err := got.Release(); err != nil {
		t.Errorf("Release() on a local path should be a no-op, got error: %v", err)
	}
}

func TestResolve_RemoteManifestDownloadsAndReleases(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := blobstore.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend() error: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "src")
	if err := os.WriteFile(srcPath, []byte("manifest bytes"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := backend.Upload(ctx, srcPath, "2024-01-01.mfn"); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	calls := 0
	r := NewResolver(func(_ context.Context, scheme, bucket string) (blobstore.Backend, error) {
		calls++
		if scheme != "local" {
			t.Errorf("expected scheme 'local', got %q", scheme)
		}
		return backend, nil
	})

	resolved, err := r.Resolve(ctx, "local://bucket/2024-01-01.mfn")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	defer resolved.Release()

	data, err := os.ReadFile(resolved.LocalPath)
	if err != nil {
		t.Fatalf("read resolved local path: %v", err)
	}
	if string(data) != "manifest bytes" {
		t.Errorf("content mismatch: got %q", data)
	}
	if resolved.Scheme != "local" || resolved.Bucket != "bucket" {
		t.Errorf("unexpected scheme/bucket: %q/%q", resolved.Scheme, resolved.Bucket)
	}

	// A second resolve for the same (scheme, bucket) must reuse the cached
	// backend rather than calling the factory again.
	if _, err := r.Resolve(ctx, "local://bucket/2024-01-01.mfn"); err != nil {
		t.Fatalf("second Resolve() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected factory called once, got %d calls", calls)
	}

	if err := resolved.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := os.Stat(resolved.LocalPath); !os.IsNotExist(err) {
		t.Error("expected temp file to be removed after Release()")
	}
}

func TestResolve_RemoteBlobNameIsShardRewritten(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := blobstore.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend() error: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "src")
	if err := os.WriteFile(srcPath, []byte("chunk bytes"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := backend.Upload(ctx, srcPath, blobstore.ShardPath("deadbeef1234")); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	r := NewResolver(func(context.Context, string, string) (blobstore.Backend, error) {
		return backend, nil
	})

	resolved, err := r.Resolve(ctx, "local://bucket/deadbeef1234")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	defer resolved.Release()

	data, err := os.ReadFile(resolved.LocalPath)
	if err != nil {
		t.Fatalf("read resolved local path: %v", err)
	}
	if string(data) != "chunk bytes" {
		t.Errorf("content mismatch: got %q", data)
	}
}
