// Package engine orchestrates the per-file encrypt and decrypt pipelines:
// bounded-concurrency workers over a file list, chunking, content
// addressing, blob storage, and manifest assembly.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kenneth/blobvault/internal/audit"
	"github.com/kenneth/blobvault/internal/blobname"
	"github.com/kenneth/blobvault/internal/blobstore"
	"github.com/kenneth/blobvault/internal/chunk"
	"github.com/kenneth/blobvault/internal/compress"
	"github.com/kenneth/blobvault/internal/crypto"
	"github.com/kenneth/blobvault/internal/fileset"
	"github.com/kenneth/blobvault/internal/manifest"
	"github.com/kenneth/blobvault/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Encryptor runs the backup path: expand inputs, chunk and encrypt each
// file in parallel, and assemble the resulting manifest.
type Encryptor struct {
	Secret             crypto.Key
	BData              crypto.DataBox
	BIdx               crypto.DataBox
	Store              *blobstore.Store
	ChunkSize          int
	CompressLevel      int
	Concurrency        int
	StoreAbsolutePaths bool
	Label              string
	Logger             *logrus.Logger
	Metrics            *metrics.Metrics
	Audit              audit.Logger
	Progress           io.Writer

	progressMu sync.Mutex
}

func (e *Encryptor) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

func (e *Encryptor) concurrency() int {
	if e.Concurrency <= 0 {
		return 8
	}
	return e.Concurrency
}

// Encrypt expands inputs per §4.9, runs encryptOne for each resulting file
// with bounded concurrency, assembles the manifest by key-sorting the
// per-file results (so the serialized manifest is independent of worker
// completion order), and saves it under mfnFilename (or a generated
// timestamped name). It returns the assembled manifest and the name the
// manifest was saved under.
func (e *Encryptor) Encrypt(ctx context.Context, inputs []string, mfnFilename string) (manifest.Manifest, string, error) {
	files, err := fileset.Expand(inputs)
	if err != nil {
		return nil, "", fmt.Errorf("engine: expand inputs: %w", err)
	}

	type result struct {
		path  string
		entry manifest.FileEntry
		err   error
	}

	results := make([]result, len(files))
	sem := make(chan struct{}, e.concurrency())
	var wg sync.WaitGroup

	for i, f := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, f string) {
			defer wg.Done()
			defer func() { <-sem }()

			label := fmt.Sprintf("encrypt-worker-%d", i)
			var entry manifest.FileEntry
			runErr := runRecovered(e.logger(), label, func() error {
				start := time.Now()
				var err error
				entry, err = e.encryptOne(ctx, f)
				if e.Audit != nil {
					e.Audit.LogEncryptFile(e.archivedPath(f), 0, err == nil, err, time.Since(start))
				}
				return err
			})
			results[i] = result{path: f, entry: entry, err: runErr}
		}(i, f)
	}
	wg.Wait()

	m := make(manifest.Manifest)
	var failures []string
	for _, r := range results {
		if r.err != nil {
			e.logger().WithFields(logrus.Fields{"file": r.path, "error": r.err}).Error("failed to encrypt file")
			failures = append(failures, r.path)
			if e.Metrics != nil {
				e.Metrics.RecordError("encrypt_file", "io_error")
			}
			continue
		}
		m[e.archivedPath(r.path)] = r.entry
	}

	if len(failures) > 0 {
		sort.Strings(failures)
		return m, "", fmt.Errorf("engine: failed to encrypt %d file(s): %s", len(failures), strings.Join(failures, ", "))
	}

	savedName, err := e.saveManifest(ctx, m, mfnFilename)
	if err != nil {
		return m, "", err
	}
	if e.Metrics != nil {
		e.Metrics.RecordManifestFiles(len(m))
	}
	if e.Audit != nil {
		e.Audit.LogManifestSave(len(m), savedName, true, nil)
	}
	return m, savedName, nil
}

// encryptOne chunks f, names and uploads each chunk, and returns the
// resulting FileEntry. Chunk generation is sequential within one file
// because the zstd streaming compressor carries sequential state.
func (e *Encryptor) encryptOne(ctx context.Context, f string) (manifest.FileEntry, error) {
	atime, mtime, err := fileTimes(f)
	if err != nil {
		return manifest.FileEntry{}, err
	}

	c, err := chunk.Open(f, e.ChunkSize, e.CompressLevel)
	if err != nil {
		return manifest.FileEntry{}, err
	}
	defer c.Close()

	var blobs []string
	for {
		plaintext, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return manifest.FileEntry{}, fmt.Errorf("engine: chunk %s: %w", f, err)
		}

		name := blobname.Name(e.Secret, plaintext)
		padded := compress.PadToSize(plaintext, e.ChunkSize)
		ciphertext, err := e.BData.Encrypt(padded)
		if err != nil {
			return manifest.FileEntry{}, fmt.Errorf("engine: encrypt chunk %s of %s: %w", name, f, err)
		}

		if err := e.uploadChunk(ctx, name, ciphertext); err != nil {
			return manifest.FileEntry{}, err
		}
		blobs = append(blobs, name)

		if e.Metrics != nil {
			e.Metrics.RecordChunk("encrypt", int64(len(plaintext)))
		}
		e.emitProgress(name)
	}

	return manifest.FileEntry{Blobs: blobs, Atime: atime, Mtime: mtime}, nil
}

// uploadChunk writes ciphertext to a scoped temp file and hands it to the
// blob store, deleting the temp file on every exit path.
func (e *Encryptor) uploadChunk(ctx context.Context, name string, ciphertext []byte) error {
	tmp, err := os.CreateTemp(tempDir(), "blobvault-chunk-*")
	if err != nil {
		return fmt.Errorf("engine: create temp chunk file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: write temp chunk file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close temp chunk file: %w", err)
	}

	start := time.Now()
	skipped, err := e.Store.SaveBlobChecked(ctx, name, tmpPath)
	if err != nil {
		if e.Audit != nil {
			e.Audit.LogChunkUpload(name, "", int64(len(ciphertext)), false, err)
		}
		return fmt.Errorf("engine: save blob %s: %w", name, err)
	}
	if skipped {
		if e.Metrics != nil {
			e.Metrics.RecordDedupSkip()
		}
	} else if e.Metrics != nil {
		e.Metrics.RecordBlobUpload("configured", time.Since(start))
	}
	if e.Audit != nil {
		e.Audit.LogChunkUpload(name, "", int64(len(ciphertext)), true, nil)
	}
	return nil
}

// archivedPath implements §4.7's archived_path rule: absolute paths are
// collapsed to their basename (and a ".." component forces the same) unless
// StoreAbsolutePaths opts in, which avoids writing outside the destination
// tree by default on decrypt.
func (e *Encryptor) archivedPath(f string) string {
	if e.StoreAbsolutePaths {
		abs, err := filepath.Abs(f)
		if err == nil {
			return abs
		}
		return f
	}
	if filepath.IsAbs(f) || strings.Contains(f, ".."+string(filepath.Separator)) || strings.Contains(filepath.ToSlash(f), "../") {
		return filepath.Base(f)
	}
	return f
}

// saveManifest encodes m via the manifest package into a scoped temp file
// and uploads it under filename (or a generated ISO-8601 name, optionally
// label-prefixed).
func (e *Encryptor) saveManifest(ctx context.Context, m manifest.Manifest, filename string) (string, error) {
	if filename == "" {
		ts := time.Now().Format("2006-01-02T15:04:05.000000")
		if e.Label != "" {
			filename = fmt.Sprintf("%s-%s.mfn", e.Label, ts)
		} else {
			filename = ts + ".mfn"
		}
	}

	tmp, err := os.CreateTemp(tempDir(), "blobvault-manifest-*")
	if err != nil {
		return "", fmt.Errorf("engine: create temp manifest file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := manifest.Write(tmp, m, e.BData, e.BIdx, e.CompressLevel); err != nil {
		tmp.Close()
		return "", fmt.Errorf("engine: encode manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("engine: close temp manifest file: %w", err)
	}

	if err := e.Store.Save(ctx, filename, tmpPath); err != nil {
		return "", fmt.Errorf("engine: save manifest %s: %w", filename, err)
	}
	return filename, nil
}

func (e *Encryptor) emitProgress(line string) {
	w := e.Progress
	if w == nil {
		w = os.Stdout
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	fmt.Fprintln(w, line)
}

// tempDir prefers a ramdisk when present, matching spec §5's temp-file
// placement policy.
func tempDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
