package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kenneth/blobvault/internal/audit"
	"github.com/kenneth/blobvault/internal/blobstore"
	"github.com/kenneth/blobvault/internal/compress"
	"github.com/kenneth/blobvault/internal/crypto"
	"github.com/kenneth/blobvault/internal/manifest"
	"github.com/kenneth/blobvault/internal/metrics"
	"github.com/kenneth/blobvault/internal/remote"
	"github.com/sirupsen/logrus"
)

// Decryptor runs the restore path: resolve manifest/blob inputs (local or
// remote), decrypt and reassemble each file, and restore its timestamps.
type Decryptor struct {
	BData    crypto.DataBox
	BIdx     crypto.DataBox
	Store    *blobstore.Store
	Resolver *remote.Resolver
	Consume  bool
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Audit    audit.Logger
	Stdout   io.Writer
}

func (d *Decryptor) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logrus.StandardLogger()
}

func (d *Decryptor) stdout() io.Writer {
	if d.Stdout != nil {
		return d.Stdout
	}
	return os.Stdout
}

// inputGroup is one ".mfn"-rooted unit of work, or the no-manifest group of
// loose blob names that appear before the first ".mfn" in the input list.
type inputGroup struct {
	manifestPath string // "" for the no-manifest group
	restrictTo   map[string]struct{}
	looseBlobs   []string
}

// partitionInputs implements §4.8's input-partitioning rule: walk inputs in
// order; each ".mfn" opens a new group; subsequent non-".mfn" entries
// attach to the most recent group as an archived_path restrict filter;
// non-".mfn" entries preceding the first ".mfn" form a manifest-less group
// decrypted blob-by-blob to stdout.
func partitionInputs(inputs []string) []inputGroup {
	var groups []inputGroup
	var current *inputGroup

	for _, in := range inputs {
		if strings.HasSuffix(in, ".mfn") {
			groups = append(groups, inputGroup{manifestPath: in, restrictTo: make(map[string]struct{})})
			current = &groups[len(groups)-1]
			continue
		}
		if current == nil {
			groups = append(groups, inputGroup{})
			current = &groups[len(groups)-1]
		}
		if current.manifestPath == "" {
			current.looseBlobs = append(current.looseBlobs, in)
			continue
		}
		current.restrictTo[in] = struct{}{}
	}
	return groups
}

// LoadManifest implements load_manifest: read order steps 1+2.
func (d *Decryptor) LoadManifest(ctx context.Context, path string) (manifest.Manifest, error) {
	resolved, err := d.Resolver.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve %s: %w", path, err)
	}
	defer resolved.Release()

	f, err := os.Open(resolved.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := manifest.ReadBody(f, d.BData)
	if d.Audit != nil {
		d.Audit.LogManifestSave(0, path, err == nil, err) // load, reusing the same audit trail entry kind
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read manifest %s: %w", path, err)
	}
	return m, nil
}

// LoadManifestIndex implements load_manifest_index: read order steps 1+3.
// It needs only B_idx and B_data's overhead constant, not B_data's key
// material, per spec §8 invariant 5.
func (d *Decryptor) LoadManifestIndex(ctx context.Context, path string) ([]string, error) {
	resolved, err := d.Resolver.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve %s: %w", path, err)
	}
	defer resolved.Release()

	f, err := os.Open(resolved.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	defer f.Close()

	names, err := manifest.ReadIndex(f, d.BData.Overhead(), d.BIdx)
	if err != nil {
		return nil, fmt.Errorf("engine: read manifest index %s: %w", path, err)
	}
	return names, nil
}

// Decrypt implements the full §4.8 decrypt operation over inputs.
func (d *Decryptor) Decrypt(ctx context.Context, inputs []string) error {
	groups := partitionInputs(inputs)

	var failures []string
	for _, g := range groups {
		if g.manifestPath == "" {
			for _, blob := range g.looseBlobs {
				if err := d.decryptLooseBlobToStdout(ctx, blob); err != nil {
					d.logger().WithFields(logrus.Fields{"blob": blob, "error": err}).Error("failed to decrypt loose blob")
					failures = append(failures, blob)
				}
			}
			continue
		}

		if err := d.decryptManifestGroup(ctx, g); err != nil {
			d.logger().WithFields(logrus.Fields{"manifest": g.manifestPath, "error": err}).Error("failed to decrypt manifest")
			failures = append(failures, g.manifestPath)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("engine: failed on %d input(s): %s", len(failures), strings.Join(failures, ", "))
	}
	return nil
}

func (d *Decryptor) decryptManifestGroup(ctx context.Context, g inputGroup) error {
	resolved, err := d.Resolver.Resolve(ctx, g.manifestPath)
	if err != nil {
		return fmt.Errorf("resolve manifest: %w", err)
	}
	defer resolved.Release()

	f, err := os.Open(resolved.LocalPath)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	m, err := manifest.ReadBody(f, d.BData)
	f.Close()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var fileFailures []string
	for archivedPath, entry := range m {
		if len(g.restrictTo) > 0 {
			if _, ok := g.restrictTo[archivedPath]; !ok {
				continue
			}
		}
		start := time.Now()
		err := d.extractFile(ctx, archivedPath, entry, resolved.Backend)
		if d.Audit != nil {
			d.Audit.LogDecryptFile(archivedPath, err == nil, err, time.Since(start))
		}
		if err != nil {
			d.logger().WithFields(logrus.Fields{"file": archivedPath, "error": err}).Error("failed to decrypt file")
			fileFailures = append(fileFailures, archivedPath)
			continue
		}
		if d.Consume {
			for _, blob := range entry.Blobs {
				_ = d.Store.RemoveBlob(ctx, blob)
			}
		}
	}

	if d.Consume {
		os.Remove(resolved.LocalPath)
	}

	if len(fileFailures) > 0 {
		return fmt.Errorf("failed to decrypt %d file(s): %s", len(fileFailures), strings.Join(fileFailures, ", "))
	}
	return nil
}

// extractFile decrypts and reassembles one file's chunks in order, per
// §4.8: AEAD failure on any chunk, or a chunk missing at every destination,
// is fatal for that file; other files in the manifest are still attempted.
func (d *Decryptor) extractFile(ctx context.Context, archivedPath string, entry manifest.FileEntry, backend blobstore.Backend) error {
	destPath := safeJoin(".", archivedPath)
	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}

	decompressor, err := compress.DecompressStream(out)
	if err != nil {
		out.Close()
		return fmt.Errorf("start decompressor for %s: %w", destPath, err)
	}

	for _, blobName := range entry.Blobs {
		plaintext, err := d.fetchAndDecryptBlob(ctx, blobName, backend)
		if err != nil {
			decompressor.Close()
			out.Close()
			return fmt.Errorf("chunk %s: %w", blobName, err)
		}
		if _, err := decompressor.Write(plaintext); err != nil {
			decompressor.Close()
			out.Close()
			return fmt.Errorf("write chunk %s: %w", blobName, err)
		}
		if d.Metrics != nil {
			d.Metrics.RecordChunk("decrypt", int64(len(plaintext)))
		}
	}

	if err := decompressor.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish decompressing %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}

	return restoreFileTimes(destPath, entry.Atime, entry.Mtime)
}

// decryptLooseBlobToStdout handles the manifest-less group: each named blob
// is decrypted and streamed through a shared zstd decompressor to stdout,
// in the given order, since the zstd frame spans the whole original file.
func (d *Decryptor) decryptLooseBlobToStdout(ctx context.Context, blobName string) error {
	decompressor, err := compress.DecompressStream(d.stdout())
	if err != nil {
		return fmt.Errorf("start decompressor: %w", err)
	}
	plaintext, err := d.fetchAndDecryptBlob(ctx, blobName, nil)
	if err != nil {
		decompressor.Close()
		return err
	}
	if _, err := decompressor.Write(plaintext); err != nil {
		decompressor.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := decompressor.Close(); err != nil {
		return fmt.Errorf("finish decompressing: %w", err)
	}
	if d.Consume {
		_ = d.Store.RemoveBlob(ctx, blobName)
	}
	return nil
}

// fetchAndDecryptBlob downloads blobName (via backend if non-nil, else the
// configured Store) to a scoped temp file, decrypts it with B_data, and
// returns the padded plaintext with its trailing skippable-frame padding
// still attached (zstd's decompressor ignores it transparently).
func (d *Decryptor) fetchAndDecryptBlob(ctx context.Context, blobName string, backend blobstore.Backend) ([]byte, error) {
	tmp, err := os.CreateTemp(tempDir(), "blobvault-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	var fetchErr error
	if backend != nil {
		fetchErr = backend.Download(ctx, blobstore.ShardPath(blobName), tmpPath)
	} else {
		fetchErr = d.Store.FetchBlob(ctx, blobName, tmpPath)
	}
	if d.Audit != nil {
		d.Audit.LogChunkDownload(blobName, "", fetchErr == nil, fetchErr)
	}
	if fetchErr != nil {
		if d.Metrics != nil {
			d.Metrics.RecordError("chunk_download", "store_error")
		}
		return nil, fmt.Errorf("fetch blob %s: %w", blobName, fetchErr)
	}

	ciphertext, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read fetched blob %s: %w", blobName, err)
	}

	plaintext, err := d.BData.Decrypt(ciphertext)
	if err != nil {
		if d.Metrics != nil {
			d.Metrics.RecordError("chunk_decrypt", "auth_error")
		}
		return nil, fmt.Errorf("decrypt blob %s: %w", blobName, err)
	}
	return plaintext, nil
}

// safeJoin joins archivedPath onto root after filepath.Clean, implementing
// §8 invariant 7: a manifest entry containing ".." components never writes
// outside root unless archivedPath was already an absolute path recorded
// under --store-absolute-paths at encryption time.
func safeJoin(root, archivedPath string) string {
	if filepath.IsAbs(archivedPath) {
		return archivedPath
	}
	clean := filepath.Clean("/" + archivedPath)
	return filepath.Join(root, clean)
}

// DumpManifest writes each archived path and its blob names to w, matching
// the reference CLI's --dump-manifest output shape.
func (d *Decryptor) DumpManifest(ctx context.Context, path string, w io.Writer) error {
	m, err := d.LoadManifest(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "*** %s:\n", path)
	for archivedPath, entry := range m {
		fmt.Fprintf(w, "* %s:\n", archivedPath)
		for _, blob := range entry.Blobs {
			fmt.Fprintln(w, blob)
		}
	}
	return nil
}

// DumpManifestIndex writes the manifest's sorted blob-name index to w.
func (d *Decryptor) DumpManifestIndex(ctx context.Context, path string, w io.Writer) error {
	names, err := d.LoadManifestIndex(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "*** %s:\n", path)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}
