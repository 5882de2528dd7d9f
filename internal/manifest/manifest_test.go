package manifest

import (
	"bytes"
	"testing"

	"github.com/kenneth/blobvault/internal/crypto"
)

func mustKey(t *testing.T, seed byte) crypto.Key {
	t.Helper()
	var k crypto.Key
	for i := range k {
		k[i] = seed
	}
	return k
}

func sampleManifest() Manifest {
	return Manifest{
		"docs/report.pdf": {Blobs: []string{"blobA", "blobB"}, Atime: 1000.5, Mtime: 1001.25},
		"photos/img.jpg":  {Blobs: []string{"blobC"}, Atime: 2000, Mtime: 2000},
	}
}

func TestWriteReadRoundTrip_SymmetricMode(t *testing.T) {
	secret := mustKey(t, 0x11)
	box := crypto.NewSymmetricBox(secret)

	m := sampleManifest()
	var buf bytes.Buffer
	if err := Write(&buf, m, box, box, 6); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	got, err := ReadBody(r, box)
	if err != nil {
		t.Fatalf("ReadBody() error: %v", err)
	}
	if len(got) != len(m) {
		t.Fatalf("got %d entries, want %d", len(got), len(m))
	}
	for path, entry := range m {
		gotEntry, ok := got[path]
		if !ok {
			t.Fatalf("missing entry for %s", path)
		}
		if !equalBlobs(gotEntry.Blobs, entry.Blobs) || gotEntry.Atime != entry.Atime || gotEntry.Mtime != entry.Mtime {
			t.Errorf("entry mismatch for %s: got %+v, want %+v", path, gotEntry, entry)
		}
	}

	r2 := bytes.NewReader(buf.Bytes())
	names, err := ReadIndex(r2, box.Overhead(), box)
	if err != nil {
		t.Fatalf("ReadIndex() error: %v", err)
	}
	want := m.BlobNames()
	if len(names) != len(want) {
		t.Fatalf("got %d index names, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("index[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestWriteReadRoundTrip_AsymmetricMode(t *testing.T) {
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	bData := crypto.NewSealedBoxForDecrypt(pub, priv)
	bIdx := crypto.NewSymmetricBox(mustKey(t, 0x22))

	m := sampleManifest()
	var buf bytes.Buffer
	if err := Write(&buf, m, bData, bIdx, 3); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	got, err := ReadBody(r, bData)
	if err != nil {
		t.Fatalf("ReadBody() error: %v", err)
	}
	if len(got) != len(m) {
		t.Fatalf("got %d entries, want %d", len(got), len(m))
	}

	// A public-key-only box can still read the index.
	encryptOnly := crypto.NewSealedBoxForEncrypt(pub)
	r2 := bytes.NewReader(buf.Bytes())
	names, err := ReadIndex(r2, encryptOnly.Overhead(), bIdx)
	if err != nil {
		t.Fatalf("ReadIndex() with public-key-only box error: %v", err)
	}
	if len(names) != len(m.BlobNames()) {
		t.Fatalf("got %d index names, want %d", len(names), len(m.BlobNames()))
	}

	// The public-key-only box cannot decrypt the body.
	r3 := bytes.NewReader(buf.Bytes())
	if _, err := ReadBody(r3, encryptOnly); err == nil {
		t.Fatal("expected error reading body with a public-key-only box")
	}
}

func TestReadBody_WrongKeyFails(t *testing.T) {
	box := crypto.NewSymmetricBox(mustKey(t, 0x33))
	wrongBox := crypto.NewSymmetricBox(mustKey(t, 0x44))

	var buf bytes.Buffer
	if err := Write(&buf, sampleManifest(), box, box, 6); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	if _, err := ReadBody(r, wrongBox); err == nil {
		t.Fatal("expected error decrypting body with the wrong key")
	}
}

func TestWrite_EmptyManifest(t *testing.T) {
	box := crypto.NewSymmetricBox(mustKey(t, 0x55))
	var buf bytes.Buffer
	if err := Write(&buf, Manifest{}, box, box, 6); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	got, err := ReadBody(r, box)
	if err != nil {
		t.Fatalf("ReadBody() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty manifest, got %d entries", len(got))
	}

	r2 := bytes.NewReader(buf.Bytes())
	names, err := ReadIndex(r2, box.Overhead(), box)
	if err != nil {
		t.Fatalf("ReadIndex() error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty index, got %d names", len(names))
	}
}

func TestBlobNames_SortedAndDeduplicated(t *testing.T) {
	m := Manifest{
		"a": {Blobs: []string{"z", "a", "m"}},
		"b": {Blobs: []string{"a", "z"}},
	}
	names := m.BlobNames()
	want := []string{"a", "m", "z"}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d: %v", len(names), len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func equalBlobs(a, b []string) bool {
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
