package uploadengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// opener is a lazy, replayable session-open computation: the first
// Open call issues the POST, every subsequent call (from the dispatcher,
// from progress math, from a caller) replays the cached FileMeta without
// a second request. Failures propagate unchanged; there is no local
// retry.
type opener struct {
	cfg Config

	once    sync.Once
	meta    FileMeta
	err     error
}

func newOpener(cfg Config) *opener {
	return &opener{cfg: cfg}
}

type sessionOpenRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	LastUpdated int64  `json:"lastUpdated"`
}

// sessionOpenResponse is the wire shape of a session-open response. The
// server may echo arbitrary additional fields; those land in Opaque.
type sessionOpenResponse struct {
	Chunks         int    `json:"chunks"`
	ChunkSize      int64  `json:"chunkSize"`
	FileSize       int64  `json:"fileSize"`
	UploadedChunks []int  `json:"uploadedChunks"`
	Opaque         map[string]any
}

func (r *sessionOpenResponse) UnmarshalJSON(data []byte) error {
	type known struct {
		Chunks         int   `json:"chunks"`
		ChunkSize      int64 `json:"chunkSize"`
		FileSize       int64 `json:"fileSize"`
		UploadedChunks []int `json:"uploadedChunks"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range []string{"chunks", "chunkSize", "fileSize", "uploadedChunks"} {
		delete(all, key)
	}
	r.Chunks = k.Chunks
	r.ChunkSize = k.ChunkSize
	r.FileSize = k.FileSize
	r.UploadedChunks = k.UploadedChunks
	r.Opaque = all
	return nil
}

func (o *opener) Open(ctx context.Context) (FileMeta, error) {
	o.once.Do(func() {
		o.meta, o.err = o.open(ctx)
	})
	return o.meta, o.err
}

func (o *opener) open(ctx context.Context) (FileMeta, error) {
	body, err := json.Marshal(sessionOpenRequest{
		FileName:    o.cfg.FileName,
		FileSize:    o.cfg.FileSize,
		LastUpdated: o.cfg.LastUpdated,
	})
	if err != nil {
		return FileMeta{}, wrapSessionOpen(fmt.Errorf("marshal session-open request: %w", err))
	}

	headers := mergeHeaders(o.cfg.Headers, map[string]string{"Content-Type": "application/json"})
	resp, err := o.cfg.Transport.Post(ctx, Request{
		URL:     o.cfg.GetChunkStartURL(),
		Body:    newBodyReader(body),
		Headers: headers,
	})
	if err != nil {
		return FileMeta{}, wrapSessionOpen(err)
	}

	var parsed sessionOpenResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return FileMeta{}, wrapSessionOpen(fmt.Errorf("decode session-open response: %w", err))
	}

	uploaded := make(map[int]struct{}, len(parsed.UploadedChunks))
	for _, i := range parsed.UploadedChunks {
		uploaded[i] = struct{}{}
	}

	return FileMeta{
		Chunks:         parsed.Chunks,
		ChunkSize:      parsed.ChunkSize,
		FileSize:       parsed.FileSize,
		UploadedChunks: uploaded,
		Opaque:         parsed.Opaque,
	}, nil
}

// newBodyReader wraps a fully in-memory body for a Request, shared by
// the opener and the finisher — neither streams, both just post JSON.
func newBodyReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
