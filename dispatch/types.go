// Package dispatch implements the bounded-parallel per-chunk upload
// executor used by uploadengine's Chunk Dispatcher. It is intentionally
// transport- and blob-agnostic (like the teacher package it's adapted
// from, cache/network/chunkuploader): it knows how to run up to
// ParallelismLimit chunk attempts concurrently, report byte-level
// progress, detect a hung attempt, and stream one ChunkStatus per
// attempt back to the caller — it has no opinion on what a "chunk
// upload error" should mean for the overall run. That aggregation
// policy (the error threshold) lives in the caller (uploadengine's
// Dispatcher).
package dispatch

import "io"

// ParallelismLimit is the maximum number of chunk attempts Run will
// keep in flight at once. It's a fixed design constant, not
// configurable.
const ParallelismLimit = 3

// ChunkProvider provides chunk data for upload, keyed by the chunk's
// real zero-based index (not by position within a pending-chunk list).
type ChunkProvider interface {
	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64
	// GetChunk returns a reader for the chunk at the given index. May
	// be called more than once for the same index across attempts.
	GetChunk(index int) (io.Reader, error)
}

// UploadTarget is a signed URL for uploading a single chunk.
type UploadTarget struct {
	URL     string
	Headers map[string]string
}

// ChunkStatus is the result of one chunk upload attempt.
type ChunkStatus struct {
	Index     int
	Completed bool
}

// ChunkProgress is the cumulative byte count uploaded so far for one
// chunk within the current attempt.
type ChunkProgress struct {
	Index  int
	Loaded int64
}

// ProgressFunc receives ChunkProgress updates as attempts run.
type ProgressFunc func(ChunkProgress)
