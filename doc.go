// Package uploadengine implements a resumable, chunked file-upload
// coordinator: session-open, bounded-parallel chunk dispatch with
// progress aggregation, session-finish, and a pause/resume/retry/abort
// control plane surfaced as a single ordered event stream.
package uploadengine
