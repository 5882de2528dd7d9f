// Package compress wraps zstd compression for the backup pipeline: one-shot
// helpers for manifest bodies/indexes, and streaming wrappers for the
// chunker, which runs one zstd frame over an entire input file.
package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"github.com/klauspost/compress/zstd"
)

// DefaultLevel is used when a caller passes a level outside [1,22].
const DefaultLevel = 6

// skippableFrameMagic is the zstd skippable-frame magic number (little-endian
// on the wire), reserved by the format for frames decoders must skip without
// interpreting.
const skippableFrameMagic uint32 = 0x184D2A50

// Compress performs a one-shot zstd compression of data at the given level.
// level is clamped into zstd's supported encoder levels; levels outside
// [1,22] fall back to DefaultLevel.
func Compress(data []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("compress: new encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress performs a one-shot zstd decompression.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: new decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: decode: %w", err)
	}
	return out, nil
}

// CompressStream wraps r, returning a reader that yields the zstd-compressed
// form of r's bytes. Closing the returned reader releases the encoder.
func CompressStream(r io.Reader, level int) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(encoderLevel(level)))
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("compress: new encoder: %w", err)
	}
	go func() {
		_, err := io.Copy(enc, r)
		if err != nil {
			enc.Close()
			pw.CloseWithError(fmt.Errorf("compress: stream copy: %w", err))
			return
		}
		if err := enc.Close(); err != nil {
			pw.CloseWithError(fmt.Errorf("compress: encoder close: %w", err))
			return
		}
		pw.Close()
	}()
	return pr, nil
}

// DecompressStream wraps w, returning a writer whose written bytes are
// zstd-decompressed before reaching w. Skippable frames (see PadToSize) are
// silently dropped by the decoder, so tail-chunk padding never reaches w.
func DecompressStream(w io.Writer) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	dec, err := zstd.NewReader(pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("compress: new decoder: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, dec)
		dec.Close()
		if err != nil {
			pr.CloseWithError(err)
			done <- fmt.Errorf("compress: stream copy: %w", err)
			return
		}
		done <- nil
	}()
	return &decompressWriteCloser{pw: pw, done: done}, nil
}

type decompressWriteCloser struct {
	pw   *io.PipeWriter
	done chan error
}

func (d *decompressWriteCloser) Write(p []byte) (int, error) { return d.pw.Write(p) }

func (d *decompressWriteCloser) Close() error {
	if err := d.pw.Close(); err != nil {
		return err
	}
	return <-d.done
}

// PadToSize appends a zstd skippable frame to data when len(data) < chunkSize,
// so that the final (short) chunk of a file does not reveal its exact
// compressed length to an observer of blob sizes on the wire or in storage.
// The skippable frame's payload length is len(data) mod 256 random bytes;
// zstd decoders ignore skippable frames entirely, so this is transparent on
// decode. Chunks already at chunkSize are returned unchanged.
func PadToSize(data []byte, chunkSize int) []byte {
	if len(data) >= chunkSize {
		return data
	}
	padLen := len(data) % 256

	var buf bytes.Buffer
	buf.Write(data)

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], skippableFrameMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(padLen))
	buf.Write(header[:])

	pad := make([]byte, padLen)
	rand.Read(pad) //nolint:errcheck // math/rand.Read never errors
	buf.Write(pad)

	return buf.Bytes()
}

func encoderLevel(level int) zstd.EncoderLevel {
	if level < 1 || level > 22 {
		level = DefaultLevel
	}
	// zstd.SpeedBestCompression tops out at level ~19-22 depending on
	// build; EncoderLevelFromZstd clamps out-of-range values for us.
	return zstd.EncoderLevelFromZstd(level)
}
