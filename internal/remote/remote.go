// Package remote resolves CLI-supplied input paths that may name a local
// file or a remote blob-store object, downloading the latter to a scoped
// temp file transparently.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/kenneth/blobvault/internal/blobstore"
)

// BackendFactory constructs the Backend for a given scheme and bucket. The
// Resolver calls it at most once per distinct (scheme, bucket) pair.
type BackendFactory func(ctx context.Context, scheme, bucket string) (blobstore.Backend, error)

// Resolved is one resolved input: a local path ready to read, plus the
// (scheme, bucket) pair it came from so callers can route subsequent blob
// fetches for the same manifest to the same backend without re-parsing.
type Resolved struct {
	LocalPath string
	Scheme    string
	Bucket    string
	Backend   blobstore.Backend // nil when the input was already local
	Release   func() error
}

// Resolver parses decrypt-input strings per spec §4.10 and caches
// constructed backends by (scheme, bucket) across calls.
type Resolver struct {
	factory  BackendFactory
	backends map[string]blobstore.Backend
}

// NewResolver returns a Resolver that constructs backends via factory.
func NewResolver(factory BackendFactory) *Resolver {
	return &Resolver{factory: factory, backends: make(map[string]blobstore.Backend)}
}

// Resolve parses input as a URL. With no scheme, input is treated as an
// already-local path and returned unchanged (Release is a no-op). With a
// scheme, the named backend is constructed (or reused from an earlier call
// with the same scheme and bucket), the object is downloaded to a scoped
// temp file — preserving a ".mfn" suffix when the path ends in one — and
// the temp file is removed when the caller invokes Release.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Resolved, error) {
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" {
		return &Resolved{LocalPath: input, Release: func() error { return nil }}, nil
	}

	bucket := strings.TrimPrefix(u.Host, "/")
	remotePath := strings.TrimPrefix(u.Path, "/")

	backendKey := u.Scheme + "://" + bucket
	backend, ok := r.backends[backendKey]
	if !ok {
		backend, err = r.factory(ctx, u.Scheme, bucket)
		if err != nil {
			return nil, fmt.Errorf("remote: construct backend for %s: %w", backendKey, err)
		}
		r.backends[backendKey] = backend
	}

	fetchPath := remotePath
	if !strings.HasSuffix(remotePath, ".mfn") {
		fetchPath = blobstore.ShardPath(path.Base(remotePath))
	}

	tmp, err := os.CreateTemp(tempDir(), "blobvault-*"+tempSuffix(remotePath))
	if err != nil {
		return nil, fmt.Errorf("remote: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := backend.Download(ctx, fetchPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("remote: download %s: %w", fetchPath, err)
	}

	return &Resolved{
		LocalPath: tmpPath,
		Scheme:    u.Scheme,
		Bucket:    bucket,
		Backend:   backend,
		Release:   func() error { return os.Remove(tmpPath) },
	}, nil
}

func tempSuffix(remotePath string) string {
	if strings.HasSuffix(remotePath, ".mfn") {
		return ".mfn"
	}
	return ""
}

// tempDir prefers a ramdisk when present, matching the temp-file placement
// policy for chunk staging described in spec §5.
func tempDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
