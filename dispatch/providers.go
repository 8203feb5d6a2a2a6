package dispatch

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ByteSliceChunkProvider provides chunks from pre-loaded byte slices,
// keyed by index into the slice. Useful for tests and for callers that
// already hold the whole blob in memory.
type ByteSliceChunkProvider struct {
	chunks [][]byte
}

// NewByteSliceChunkProvider creates a ChunkProvider from byte slices.
func NewByteSliceChunkProvider(chunks [][]byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{chunks: chunks}
}

// ChunkSize implements ChunkProvider.
func (p *ByteSliceChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.chunks) {
		return 0
	}
	return int64(len(p.chunks[index]))
}

// GetChunk implements ChunkProvider.
func (p *ByteSliceChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.chunks) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.chunks))
	}
	return bytes.NewReader(p.chunks[index]), nil
}

// GzipChunkProvider wraps another ChunkProvider and gzip-compresses
// each chunk body before it leaves the process. ChunkSize reports the
// *uncompressed* size,
// matching the underlying provider, since the server-visible
// Content-Length is set by the caller from the compressed bytes
// actually read.
type GzipChunkProvider struct {
	inner ChunkProvider
}

// NewGzipChunkProvider wraps inner with gzip compression.
func NewGzipChunkProvider(inner ChunkProvider) *GzipChunkProvider {
	return &GzipChunkProvider{inner: inner}
}

// ChunkSize implements ChunkProvider.
func (p *GzipChunkProvider) ChunkSize(index int) int64 {
	return p.inner.ChunkSize(index)
}

// GetChunk implements ChunkProvider, returning the gzip-compressed
// bytes of the underlying chunk.
func (p *GzipChunkProvider) GetChunk(index int) (io.Reader, error) {
	r, err := p.inner.GetChunk(index)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := io.Copy(w, r); err != nil {
		return nil, fmt.Errorf("compress chunk %d: %w", index, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer for chunk %d: %w", index, err)
	}
	return &buf, nil
}
