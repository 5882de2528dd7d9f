package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// namedBackend pairs a constructed Backend with the Destination it was built
// from, so Save can report which destination failed.
type namedBackend struct {
	dest    Destination
	backend Backend
}

// Store fans a save out across zero or more configured destinations, in the
// order they were configured. With no destinations, Save copies the file to
// the current directory instead, per spec §4.5.
type Store struct {
	backends []namedBackend
	log      *logrus.Logger
}

// NewStore wraps already-constructed backends, one per parsed Destination, in
// save order.
func NewStore(log *logrus.Logger, dests []Destination, backends []Backend) (*Store, error) {
	if len(dests) != len(backends) {
		return nil, fmt.Errorf("blobstore: %d destinations but %d backends", len(dests), len(backends))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	nb := make([]namedBackend, len(dests))
	for i := range dests {
		nb[i] = namedBackend{dest: dests[i], backend: backends[i]}
	}
	return &Store{backends: nb, log: log}, nil
}

// Save implements the §4.5 save semantics: with no destinations configured,
// copy localPath to the current directory under basename(name). Otherwise,
// for each destination in order, skip it if name already Exists there, else
// Upload. The first destination failure is returned immediately; earlier
// destinations that already succeeded are not rolled back, since blob-store
// writes are content-addressed and idempotent to retry.
func (s *Store) Save(ctx context.Context, name, localPath string) error {
	_, err := s.SaveChecked(ctx, name, localPath)
	return err
}

// SaveChecked behaves like Save, additionally reporting whether every
// configured destination already held name (a full dedup skip) so callers
// can track dedup-skip metrics without duplicating the exists check.
func (s *Store) SaveChecked(ctx context.Context, name, localPath string) (skipped bool, err error) {
	if len(s.backends) == 0 {
		return false, copyToCWD(name, localPath)
	}
	skipped = true
	for _, nb := range s.backends {
		exists, err := nb.backend.Exists(ctx, name)
		if err != nil {
			return false, fmt.Errorf("blobstore: exists check on %s: %w", describeDest(nb.dest), err)
		}
		if exists {
			s.log.WithFields(logrus.Fields{"destination": describeDest(nb.dest), "name": name}).Debug("blob already present, skipping upload")
			continue
		}
		skipped = false
		if err := nb.backend.Upload(ctx, localPath, name); err != nil {
			return false, fmt.Errorf("blobstore: upload to %s: %w", describeDest(nb.dest), err)
		}
	}
	return skipped, nil
}

// SaveBlob saves a content-addressed chunk blob under its two-character
// sharded path, per spec §4.5.
func (s *Store) SaveBlob(ctx context.Context, blobName, localPath string) error {
	return s.Save(ctx, ShardPath(blobName), localPath)
}

// SaveBlobChecked is SaveChecked applied to a content-addressed chunk blob.
func (s *Store) SaveBlobChecked(ctx context.Context, blobName, localPath string) (skipped bool, err error) {
	return s.SaveChecked(ctx, ShardPath(blobName), localPath)
}

// Fetch downloads remotePath (already shard-rewritten by the caller when
// fetching a blob) to localPath, trying destinations in order until one
// succeeds.
func (s *Store) Fetch(ctx context.Context, remotePath, localPath string) error {
	if len(s.backends) == 0 {
		return fmt.Errorf("blobstore: no destinations configured, cannot fetch %s", remotePath)
	}
	var lastErr error
	for _, nb := range s.backends {
		exists, err := nb.backend.Exists(ctx, remotePath)
		if err != nil || !exists {
			lastErr = err
			continue
		}
		if err := nb.backend.Download(ctx, remotePath, localPath); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("blobstore: fetch %s: %w", remotePath, lastErr)
	}
	return fmt.Errorf("blobstore: %s not found in any configured destination", remotePath)
}

// FetchBlob downloads a content-addressed chunk blob by name.
func (s *Store) FetchBlob(ctx context.Context, blobName, localPath string) error {
	return s.Fetch(ctx, ShardPath(blobName), localPath)
}

// Remove deletes remotePath from every configured destination, for
// --consume. It is best-effort: a failure on one destination is logged and
// remaining destinations are still attempted, since a half-removed blob
// left behind does not compromise the blobs that were removed.
func (s *Store) Remove(ctx context.Context, remotePath string) error {
	var lastErr error
	for _, nb := range s.backends {
		if err := nb.backend.Remove(ctx, remotePath); err != nil {
			s.log.WithFields(logrus.Fields{"destination": describeDest(nb.dest), "path": remotePath, "error": err}).Warn("failed to remove blob")
			lastErr = err
		}
	}
	return lastErr
}

// RemoveBlob deletes a content-addressed chunk blob by name from every
// configured destination.
func (s *Store) RemoveBlob(ctx context.Context, blobName string) error {
	return s.Remove(ctx, ShardPath(blobName))
}

func describeDest(d Destination) string {
	if d.Bucket == "" {
		return d.Scheme
	}
	return d.Scheme + ":" + d.Bucket
}

func copyToCWD(name, localPath string) error {
	dst := filepath.Base(name)
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("blobstore: open %s for local copy: %w", localPath, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("blobstore: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("blobstore: copy to %s: %w", dst, err)
	}
	return nil
}
