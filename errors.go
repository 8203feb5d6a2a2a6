package uploadengine

import (
	"errors"
	"fmt"
)

// Sentinel errors an EventError's Err can be classified against with
// errors.Is, without string matching.
var (
	// ErrSessionOpenFailed wraps a session-open transport failure.
	// Terminal: surfaced as an error event, then the stream fails.
	ErrSessionOpenFailed = errors.New("session open failed")

	// ErrMultipleChunkUploadError is raised once the dispatcher's error
	// threshold is tripped. Retryable via Engine.Retry.
	ErrMultipleChunkUploadError = errors.New("multiple chunk upload error")

	// ErrFinishFailed wraps a session-finish transport failure.
	// Terminal: surfaced as an error event, then the stream fails.
	ErrFinishFailed = errors.New("session finish failed")

	// ErrAborted is returned by Engine control methods called after the
	// pipeline has closed (via Abort, or by reaching a terminal state
	// on its own), but is never itself surfaced as an EventError: abort
	// terminates by stream completion, not an error event.
	ErrAborted = errors.New("upload aborted")
)

func wrapSessionOpen(err error) error {
	return fmt.Errorf("%w: %w", ErrSessionOpenFailed, err)
}

func wrapFinish(err error) error {
	return fmt.Errorf("%w: %w", ErrFinishFailed, err)
}
