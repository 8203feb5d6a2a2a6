package uploadengine

import (
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/resumable/uploadengine/telemetry"
)

// CompressionMode selects whether chunk bodies are compressed before
// leaving the process.
type CompressionMode int

const (
	// CompressionNone sends chunk bodies as-is.
	CompressionNone CompressionMode = iota
	// CompressionGzip gzip-compresses each chunk body.
	CompressionGzip
)

// Config is the engine's external configuration surface.
type Config struct {
	// Headers are added to every request (session-open, chunk, finish).
	Headers map[string]string

	// AutoStart fires Start() at engine construction when true. Default
	// true if left as the zero value — see NewEngine.
	AutoStart *bool

	GetChunkStartURL  func() string
	GetChunkURL       func(meta FileMeta, index int) string
	GetChunkFinishURL func(meta FileMeta) string

	// Transport is the abstract `post` capability. Required.
	Transport Transport

	// Compression selects optional chunk-body compression.
	Compression CompressionMode

	// SecretHeaderKeys names headers redacted before any debug dump
	// performed by the configured Transport. httptransport.Client takes
	// the comma-separated form of this list directly; callers using a
	// different Transport are free to ignore it.
	SecretHeaderKeys []string

	// Logger defaults to log.NewLogger() when nil.
	Logger log.Logger

	// Tracker defaults to a no-op tracker when nil.
	Tracker telemetry.Tracker

	// FileName, FileSize and LastUpdated are echoed in the session-open
	// request body.
	FileName    string
	FileSize    int64
	LastUpdated int64
}

func (c Config) autoStart() bool {
	if c.AutoStart == nil {
		return true
	}
	return *c.AutoStart
}
