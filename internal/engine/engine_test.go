package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/kenneth/blobvault/internal/blobstore"
	"github.com/kenneth/blobvault/internal/crypto"
	"github.com/kenneth/blobvault/internal/remote"
)

func testKey(t *testing.T, seed byte) crypto.Key {
	t.Helper()
	var k crypto.Key
	for i := range k {
		k[i] = seed
	}
	return k
}

// newTestStore builds a Store backed by a single local backend rooted at
// dir, for round-trip tests that don't need a real network destination.
func newTestStore(t *testing.T, dir string) *blobstore.Store {
	t.Helper()
	backend, err := blobstore.NewLocalBackend(dir)
	if err != nil {
		t.Fatalf("NewLocalBackend() error: %v", err)
	}
	dest := blobstore.Destination{Scheme: "local", Bucket: dir}
	store, err := blobstore.NewStore(nil, []blobstore.Destination{dest}, []blobstore.Backend{backend})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store
}

func writeInput(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	ctx := context.Background()
	secret := testKey(t, 0x11)
	bData := crypto.NewSymmetricBox(testKey(t, 0x22))
	bIdx := crypto.NewSymmetricBox(testKey(t, 0x33))

	srcDir := t.TempDir()
	storeDir := t.TempDir()
	outDir := t.TempDir()

	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	path := writeInput(t, srcDir, "report.txt", content)

	store := newTestStore(t, storeDir)
	enc := &Encryptor{
		Secret:        secret,
		BData:         bData,
		BIdx:          bIdx,
		Store:         store,
		ChunkSize:     1024,
		CompressLevel: 3,
		Concurrency:   2,
		Progress:      &bytes.Buffer{},
	}

	m, mfnName, err := enc.Encrypt(ctx, []string{path}, "")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 manifest entry, got %d", len(m))
	}

	factory := func(ctx context.Context, scheme, bucket string) (blobstore.Backend, error) {
		return blobstore.NewLocalBackend(bucket)
	}
	resolver := remote.NewResolver(factory)

	dec := &Decryptor{
		BData:    bData,
		BIdx:     bIdx,
		Store:    store,
		Resolver: resolver,
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error: %v", err)
	}
	if err := os.Chdir(outDir); err != nil {
		t.Fatalf("Chdir() error: %v", err)
	}
	defer os.Chdir(wd)

	mfnPath := filepath.Join(storeDir, mfnName)
	if err := dec.Decrypt(ctx, []string{mfnPath}); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "report.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restored content mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}
}

func TestEncrypt_DedupAcrossIdenticalFiles(t *testing.T) {
	ctx := context.Background()
	secret := testKey(t, 0x44)
	bData := crypto.NewSymmetricBox(testKey(t, 0x55))
	bIdx := crypto.NewSymmetricBox(testKey(t, 0x66))

	srcDir := t.TempDir()
	storeDir := t.TempDir()

	content := bytes.Repeat([]byte("identical payload\n"), 500)
	pathA := writeInput(t, srcDir, "a.bin", content)
	pathB := writeInput(t, srcDir, "b.bin", content)

	store := newTestStore(t, storeDir)
	enc := &Encryptor{
		Secret:        secret,
		BData:         bData,
		BIdx:          bIdx,
		Store:         store,
		ChunkSize:     2048,
		CompressLevel: 3,
		Concurrency:   4,
		Progress:      &bytes.Buffer{},
	}

	m, _, err := enc.Encrypt(ctx, []string{pathA, pathB}, "")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(m))
	}

	entryA := m["a.bin"]
	entryB := m["b.bin"]
	if len(entryA.Blobs) == 0 || len(entryB.Blobs) == 0 {
		t.Fatal("expected at least one blob per file")
	}
	sort.Strings(entryA.Blobs)
	sort.Strings(entryB.Blobs)
	if !equalStrings(entryA.Blobs, entryB.Blobs) {
		t.Fatalf("expected identical files to produce identical blob names: %v vs %v", entryA.Blobs, entryB.Blobs)
	}
}

func TestEncryptDecrypt_ZeroByteFile(t *testing.T) {
	ctx := context.Background()
	secret := testKey(t, 0x77)
	bData := crypto.NewSymmetricBox(testKey(t, 0x88))
	bIdx := crypto.NewSymmetricBox(testKey(t, 0x99))

	srcDir := t.TempDir()
	storeDir := t.TempDir()
	outDir := t.TempDir()

	path := writeInput(t, srcDir, "empty.txt", nil)

	store := newTestStore(t, storeDir)
	enc := &Encryptor{
		Secret:        secret,
		BData:         bData,
		BIdx:          bIdx,
		Store:         store,
		ChunkSize:     1024,
		CompressLevel: 3,
		Concurrency:   2,
		Progress:      &bytes.Buffer{},
	}

	m, mfnName, err := enc.Encrypt(ctx, []string{path}, "")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	entry, ok := m["empty.txt"]
	if !ok {
		t.Fatal("expected a manifest entry for the zero-byte file, got none")
	}
	if len(entry.Blobs) != 0 {
		t.Fatalf("expected an empty blobs list, got %v", entry.Blobs)
	}

	factory := func(ctx context.Context, scheme, bucket string) (blobstore.Backend, error) {
		return blobstore.NewLocalBackend(bucket)
	}
	resolver := remote.NewResolver(factory)

	dec := &Decryptor{
		BData:    bData,
		BIdx:     bIdx,
		Store:    store,
		Resolver: resolver,
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error: %v", err)
	}
	if err := os.Chdir(outDir); err != nil {
		t.Fatalf("Chdir() error: %v", err)
	}
	defer os.Chdir(wd)

	mfnPath := filepath.Join(storeDir, mfnName)
	if err := dec.Decrypt(ctx, []string{mfnPath}); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "empty.txt"))
	if err != nil {
		t.Fatalf("restored zero-byte file not found: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected a zero-byte restored file, got %d bytes", len(got))
	}
}

func TestArchivedPath_CollapsesAbsoluteAndTraversalPaths(t *testing.T) {
	enc := &Encryptor{}

	if got := enc.archivedPath("relative/file.txt"); got != "relative/file.txt" {
		t.Errorf("relative path: got %q", got)
	}
	if got := enc.archivedPath("/etc/passwd"); got != "passwd" {
		t.Errorf("absolute path: got %q, want basename", got)
	}
	if got := enc.archivedPath("../../etc/passwd"); got != "passwd" {
		t.Errorf("traversal path: got %q, want basename", got)
	}
}

func TestArchivedPath_StoreAbsolutePathsOptsIn(t *testing.T) {
	enc := &Encryptor{StoreAbsolutePaths: true}
	got := enc.archivedPath("relative/file.txt")
	if !filepath.IsAbs(got) {
		t.Errorf("expected absolute path when StoreAbsolutePaths is set, got %q", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
