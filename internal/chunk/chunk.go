// Package chunk splits a compressed file stream into fixed-size plaintext
// chunks for independent, content-addressed encryption and storage.
package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/kenneth/blobvault/internal/compress"
)

// Chunker produces a lazy, finite sequence of plaintext chunks from a file:
// the file is opened and wrapped in a streaming zstd compressor, then read
// chunk_size bytes at a time from the compressed stream. Because the zstd
// frame spans the whole file, chunking happens after compression rather than
// before: a file appended to only at its tail reuses every earlier chunk
// unchanged, which is where the dedup wins come from.
//
// Chunker is not safe for concurrent use; one Chunker is owned by exactly one
// worker for the lifetime of one file.
type Chunker struct {
	chunkSize int
	file      *os.File
	stream    io.ReadCloser
	buf       []byte
	done      bool
}

// Open starts chunking path at the given chunkSize and compression level.
// The caller must call Close when done, on every exit path.
func Open(path string, chunkSize, level int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk: chunk size must be positive, got %d", chunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunk: open %s: %w", path, err)
	}
	stream, err := compress.CompressStream(f, level)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunk: compress stream for %s: %w", path, err)
	}
	return &Chunker{
		chunkSize: chunkSize,
		file:      f,
		stream:    stream,
		buf:       make([]byte, chunkSize),
	}, nil
}

// Next returns the next plaintext chunk, or io.EOF once the compressed
// stream is exhausted. The last chunk returned may be shorter than
// chunk_size; every earlier chunk is exactly chunk_size bytes. Next never
// returns a zero-length chunk, including when the compressed stream's
// length is an exact multiple of chunk_size: the final full-size read
// already consumes the stream, and the subsequent call observes io.EOF with
// zero bytes read rather than yielding an empty terminator chunk.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(c.stream, c.buf)
	switch {
	case err == nil:
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	case err == io.ErrUnexpectedEOF:
		c.done = true
		if n == 0 {
			return nil, io.EOF
		}
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	case err == io.EOF:
		c.done = true
		return nil, io.EOF
	default:
		c.done = true
		return nil, fmt.Errorf("chunk: read compressed stream: %w", err)
	}
}

// Close releases the underlying compressed-stream reader and file handle.
func (c *Chunker) Close() error {
	var errs []error
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("chunk: close stream: %w", err))
	}
	if err := c.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("chunk: close file: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
