package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ryanuber/go-glob"
)

// LocalBackend stores blobs under a root directory on the local filesystem.
// It serves the "local" scheme, both as a save-to destination and in remote-
// path resolution (C10) of "local://" inputs (inputs with no scheme are read
// directly, without a backend), and is a usable reference backend for
// single-host deployments or test fixtures.
type LocalBackend struct {
	root string
}

// NewLocalBackend returns a backend rooted at root, creating root if it does
// not already exist.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: local: create root %s: %w", root, err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) resolve(remotePath string) string {
	return filepath.Join(b.root, filepath.FromSlash(remotePath))
}

func (b *LocalBackend) Exists(_ context.Context, remotePath string) (bool, error) {
	_, err := os.Stat(b.resolve(remotePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore: local: stat %s: %w", remotePath, err)
}

func (b *LocalBackend) Upload(_ context.Context, localPath, remotePath string) error {
	dst := b.resolve(remotePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("blobstore: local: mkdir for %s: %w", remotePath, err)
	}
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("blobstore: local: open %s: %w", localPath, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("blobstore: local: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("blobstore: local: copy to %s: %w", remotePath, err)
	}
	return nil
}

func (b *LocalBackend) Download(_ context.Context, remotePath, localPath string) error {
	src := b.resolve(remotePath)
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("blobstore: local: open %s: %w", remotePath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("blobstore: local: mkdir for %s: %w", localPath, err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("blobstore: local: create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("blobstore: local: copy from %s: %w", remotePath, err)
	}
	return nil
}

func (b *LocalBackend) Remove(_ context.Context, remotePath string) error {
	err := os.Remove(b.resolve(remotePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: local: remove %s: %w", remotePath, err)
	}
	return nil
}

func (b *LocalBackend) List(_ context.Context, prefix string, recursive bool, globPattern string) ([]string, error) {
	base := b.resolve(prefix)
	var out []string

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if !recursive && path != base {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if globPattern != "" && !glob.Glob(globPattern, filepath.Base(rel)) {
			return nil
		}
		out = append(out, rel)
		return nil
	}

	if err := filepath.WalkDir(base, walk); err != nil {
		return nil, fmt.Errorf("blobstore: local: list %s: %w", prefix, err)
	}
	return out, nil
}
