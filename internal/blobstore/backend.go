// Package blobstore fans uploads, downloads, and existence checks for named
// blobs out across one or more pluggable backends (local filesystem,
// S3-compatible object storage, or an external executable), and implements
// the two-character shard layout and destination-string grammar shared by
// every backend.
package blobstore

import (
	"context"
	"fmt"
)

// Backend is the capability set a blob-store destination must implement.
// Paths passed to Backend methods are already shard-rewritten by Store where
// applicable (see ShardPath); a Backend implementation need not know about
// sharding at all.
type Backend interface {
	// Exists reports whether remotePath is already present at this backend.
	Exists(ctx context.Context, remotePath string) (bool, error)
	// Upload copies the local file at localPath to remotePath.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download copies remotePath to the local file at localPath.
	Download(ctx context.Context, remotePath, localPath string) error
	// Remove deletes remotePath. Removing a path that does not exist is not
	// an error.
	Remove(ctx context.Context, remotePath string) error
	// List returns the paths under prefix. When recursive is false, only
	// direct children of prefix are returned. globPattern, if non-empty,
	// further restricts results to paths whose base name matches it.
	List(ctx context.Context, prefix string, recursive bool, globPattern string) ([]string, error)
}

// ShardPath maps a blob name to its two-character-sharded storage path,
// data/XX/<blobName>, where XX is the blob name's first two characters.
// Sharding keeps any single directory's entry count bounded for large
// backups, which matters for filesystem-backed and many object-store
// backends alike.
func ShardPath(blobName string) string {
	if len(blobName) < 2 {
		return fmt.Sprintf("data/%s/%s", blobName, blobName)
	}
	return fmt.Sprintf("data/%s/%s", blobName[:2], blobName)
}
