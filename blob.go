package uploadengine

import (
	"bytes"
	"fmt"
	"io"

	"github.com/resumable/uploadengine/internal"
)

// Blob is an externally supplied, byte-addressable handle with a known
// size. Implementations must be safe to Slice and Open concurrently; the
// engine never mutates a Blob.
type Blob interface {
	// Size returns the total length of the blob in bytes.
	Size() int64
	// Slice returns a new Blob covering the half-open byte range
	// [from, to). The caller guarantees 0 <= from <= to <= Size().
	Slice(from, to int64) Blob
	// Open returns a reader over the blob's bytes. Callers must Close it.
	Open() (io.ReadCloser, error)
}

// MemBlob is an in-memory Blob backed by a byte slice.
type MemBlob struct {
	data []byte
}

// NewMemBlob wraps data as a Blob. data is not copied; callers must not
// mutate it for the lifetime of the upload.
func NewMemBlob(data []byte) *MemBlob {
	return &MemBlob{data: data}
}

// Size implements Blob.
func (b *MemBlob) Size() int64 {
	return int64(len(b.data))
}

// Slice implements Blob.
func (b *MemBlob) Slice(from, to int64) Blob {
	return &MemBlob{data: b.data[from:to]}
}

// Open implements Blob.
func (b *MemBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// FileBlob is a Blob backed by a region of a file on disk. Reads go
// through internal.OsProxy so tests can substitute a fake filesystem.
type FileBlob struct {
	os       internal.OsProxy
	path     string
	from, to int64 // byte range within the file this Blob represents
}

// NewFileBlob creates a FileBlob covering the entire file at path.
func NewFileBlob(os internal.OsProxy, path string) (*FileBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileBlob{os: os, path: path, from: 0, to: info.Size()}, nil
}

// Size implements Blob.
func (b *FileBlob) Size() int64 {
	return b.to - b.from
}

// Slice implements Blob.
func (b *FileBlob) Slice(from, to int64) Blob {
	return &FileBlob{os: b.os, path: b.path, from: b.from + from, to: b.from + to}
}

// Open implements Blob.
func (b *FileBlob) Open() (io.ReadCloser, error) {
	f, err := b.os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b.path, err)
	}
	return &boundedReadCloser{r: io.NewSectionReader(f, b.from, b.to-b.from), c: f}, nil
}

type boundedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (b *boundedReadCloser) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *boundedReadCloser) Close() error                { return b.c.Close() }

// blobChunkProvider adapts a slice of pre-sliced Blobs, indexed by chunk
// index, to dispatch.ChunkProvider so the generic dispatch package never
// needs to know about Blob.
type blobChunkProvider struct {
	blobs []Blob
}

func newBlobChunkProvider(blobs []Blob) *blobChunkProvider {
	return &blobChunkProvider{blobs: blobs}
}

func (p *blobChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.blobs) {
		return 0
	}
	return p.blobs[index].Size()
}

func (p *blobChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.blobs) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.blobs))
	}
	rc, err := p.blobs[index].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return bytes.NewReader(data), nil
}
