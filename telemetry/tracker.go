// Package telemetry records one property bag per upload lifecycle event,
// decoupled from the event stream an Engine caller consumes directly.
// Adapted from analytics.NewStepTracker, generalized from a single
// step-execution-ID-keyed tracker into one keyed by an upload ID.
package telemetry

// Properties is a flat property bag attached to a tracked event.
type Properties map[string]any

// Event names recorded by the engine.
const (
	EventStart      = "upload_start"
	EventChunkStart = "upload_chunk_start"
	EventError      = "upload_error"
	EventRetry      = "upload_retry"
	EventAbort      = "upload_abort"
	EventFinish     = "upload_finish"
)

// Tracker records a named event with its properties. Implementations
// must be safe for concurrent use; the engine may call Track from its
// event-multiplexer goroutine while a caller inspects the same upload ID
// from elsewhere.
type Tracker interface {
	Track(event string, props Properties)
}

// NewNoopTracker returns a Tracker that discards everything, the
// default when Config.Tracker is unset.
func NewNoopTracker() Tracker {
	return noopTracker{}
}

type noopTracker struct{}

func (noopTracker) Track(string, Properties) {}

// UploadTracker scopes a Tracker to a single upload ID, mirroring how
// analytics.NewStepTracker scoped a Tracker to a step execution ID.
type UploadTracker struct {
	uploadID string
	tracker  Tracker
}

// NewUploadTracker binds uploadID into every Track call's properties.
func NewUploadTracker(uploadID string, tracker Tracker) *UploadTracker {
	if tracker == nil {
		tracker = NewNoopTracker()
	}
	return &UploadTracker{uploadID: uploadID, tracker: tracker}
}

// Track implements Tracker, injecting the bound upload_id.
func (t *UploadTracker) Track(event string, props Properties) {
	merged := Properties{"upload_id": t.uploadID}
	for k, v := range props {
		merged[k] = v
	}
	t.tracker.Track(event, merged)
}
