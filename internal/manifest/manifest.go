// Package manifest implements the two-level encrypted manifest format: an
// index section readable with only the content secret S, and a body section
// readable only with the data box's private key (or S directly, in
// symmetric/keyfile mode where B_data and B_idx coincide).
package manifest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kenneth/blobvault/internal/compress"
	"github.com/kenneth/blobvault/internal/crypto"
)

// FileEntry records one archived file's chunk list and timestamps.
type FileEntry struct {
	Blobs []string `json:"blobs"`
	Atime float64  `json:"atime"`
	Mtime float64  `json:"mtime"`
}

// Manifest maps archived_path to its FileEntry. Encoding always sorts keys
// so the serialized body is deterministic for a given input set.
type Manifest map[string]FileEntry

// BlobNames returns the sorted, de-duplicated set of every blob name
// referenced anywhere in m — the manifest index.
func (m Manifest) BlobNames() []string {
	seen := make(map[string]struct{})
	for _, entry := range m {
		for _, b := range entry.Blobs {
			seen[b] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for b := range seen {
		names = append(names, b)
	}
	sort.Strings(names)
	return names
}

// Write encodes m to w in the four-section layout from spec §4.6: H_mfn,
// H_idx, Idx, Body — in that order. compressLevel controls the zstd level
// used for both the index and body payloads.
func Write(w io.Writer, m Manifest, bData, bIdx crypto.DataBox, compressLevel int) error {
	sortedNames := m.BlobNames()

	idxJSON, err := json.Marshal(sortedNames)
	if err != nil {
		return fmt.Errorf("manifest: marshal index: %w", err)
	}
	idxCompressed, err := compress.Compress(idxJSON, compressLevel)
	if err != nil {
		return fmt.Errorf("manifest: compress index: %w", err)
	}
	idx, err := bIdx.Encrypt(idxCompressed)
	if err != nil {
		return fmt.Errorf("manifest: encrypt index: %w", err)
	}

	lIdxPayload := len(idx)
	hIdx, err := bIdx.Encrypt(pad4BE(uint32(lIdxPayload)))
	if err != nil {
		return fmt.Errorf("manifest: encrypt index header: %w", err)
	}

	lIdxTotal := len(hIdx) + len(idx)
	hMfn, err := bData.Encrypt(pad4BE(uint32(lIdxTotal)))
	if err != nil {
		return fmt.Errorf("manifest: encrypt manifest header: %w", err)
	}

	bodyJSON, err := marshalSortedBody(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal body: %w", err)
	}
	bodyCompressed, err := compress.Compress(bodyJSON, compressLevel)
	if err != nil {
		return fmt.Errorf("manifest: compress body: %w", err)
	}
	body, err := bData.Encrypt(bodyCompressed)
	if err != nil {
		return fmt.Errorf("manifest: encrypt body: %w", err)
	}

	for _, section := range [][]byte{hMfn, hIdx, idx, body} {
		if _, err := w.Write(section); err != nil {
			return fmt.Errorf("manifest: write section: %w", err)
		}
	}
	return nil
}

// ReadBody implements C6 read-order steps 1+2: it decrypts H_mfn to learn
// where the body starts, skips the index entirely, and decodes the body
// into a Manifest. Requires a DataBox capable of decryption (the private
// key, or S in symmetric mode).
func ReadBody(r io.ReadSeeker, bData crypto.DataBox) (Manifest, error) {
	lIdxTotal, err := readHeader(r, bData, 0)
	if err != nil {
		return nil, fmt.Errorf("manifest: read manifest header: %w", err)
	}

	if _, err := r.Seek(int64(bData.Overhead()+4+lIdxTotal), io.SeekStart); err != nil {
		return nil, fmt.Errorf("manifest: seek to body: %w", err)
	}
	bodyCiphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: read body: %w", err)
	}
	bodyCompressed, err := bData.Decrypt(bodyCiphertext)
	if err != nil {
		return nil, fmt.Errorf("manifest: decrypt body: %w", err)
	}
	bodyJSON, err := compress.Decompress(bodyCompressed)
	if err != nil {
		return nil, fmt.Errorf("manifest: decompress body: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(bodyJSON, &m); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal body: %w", err)
	}
	return m, nil
}

// ReadIndex implements C6 read-order steps 1+3: it reads past H_mfn purely
// by byte count (no decryption needed, since the data-box overhead is a
// known constant for the box kind), then decrypts H_idx and Idx with bIdx
// to recover the sorted blob-name list. A party holding only S, without the
// data box's private key, can call this.
func ReadIndex(r io.ReadSeeker, dataOverhead int, bIdx crypto.DataBox) ([]string, error) {
	if _, err := r.Seek(int64(dataOverhead+4), io.SeekStart); err != nil {
		return nil, fmt.Errorf("manifest: seek past manifest header: %w", err)
	}

	lIdxPayload, err := readHeaderAt(r, bIdx)
	if err != nil {
		return nil, fmt.Errorf("manifest: read index header: %w", err)
	}

	idxCiphertext := make([]byte, lIdxPayload)
	if _, err := io.ReadFull(r, idxCiphertext); err != nil {
		return nil, fmt.Errorf("manifest: read index payload: %w", err)
	}
	idxCompressed, err := bIdx.Decrypt(idxCiphertext)
	if err != nil {
		return nil, fmt.Errorf("manifest: decrypt index: %w", err)
	}
	idxJSON, err := compress.Decompress(idxCompressed)
	if err != nil {
		return nil, fmt.Errorf("manifest: decompress index: %w", err)
	}

	var names []string
	if err := json.Unmarshal(idxJSON, &names); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal index: %w", err)
	}
	return names, nil
}

// readHeader seeks to offset, reads box.Overhead()+4 bytes there and
// decrypts them, returning the decoded 4-byte big-endian length.
func readHeader(r io.ReadSeeker, box crypto.DataBox, offset int64) (int, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek: %w", err)
	}
	return readHeaderAt(r, box)
}

func readHeaderAt(r io.Reader, box crypto.DataBox) (int, error) {
	raw := make([]byte, box.Overhead()+4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	plain, err := box.Decrypt(raw)
	if err != nil {
		return 0, fmt.Errorf("decrypt header: %w", err)
	}
	if len(plain) != 4 {
		return 0, fmt.Errorf("header plaintext has unexpected length %d", len(plain))
	}
	return int(binary.BigEndian.Uint32(plain)), nil
}

func pad4BE(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// marshalSortedBody encodes m as JSON with keys in sorted order, which
// encoding/json does not guarantee for map types on its own.
func marshalSortedBody(m Manifest) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
