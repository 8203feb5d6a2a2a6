package uploadengine

import "sync"

// eventStream is the engine's output channel. The coordinator goroutine
// (engine.run) emits the lifecycle, error and flag events; Progress is
// also called from dispatch worker goroutines, so the progress dedup
// state is guarded by mu, which is held across the send so progress
// values reach the channel in increasing order.
type eventStream struct {
	mu           sync.Mutex
	ch           chan UploadEvent
	lastProgress float64
	finished     bool
}

func newEventStream(buffer int) *eventStream {
	return &eventStream{ch: make(chan UploadEvent, buffer)}
}

func (s *eventStream) emit(ev UploadEvent) {
	if s.finished {
		return
	}
	if ev.Kind == EventFinish {
		s.finished = true
	}
	s.ch <- ev
}

func (s *eventStream) Start() {
	s.emit(UploadEvent{Kind: EventStart})
}

func (s *eventStream) ChunkStart(meta FileMeta) {
	s.emit(UploadEvent{Kind: EventChunkStart, FileMeta: meta})
}

// Progress emits progress(f) only if f is strictly greater than the
// last emitted value, suppressing regressions from a restarted chunk's
// loaded resetting to zero.
func (s *eventStream) Progress(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f <= s.lastProgress {
		return
	}
	s.lastProgress = f
	s.emit(UploadEvent{Kind: EventProgress, Progress: f})
}

func (s *eventStream) Pausable(b bool) {
	s.emit(UploadEvent{Kind: EventPausable, Bool: b})
}

func (s *eventStream) Retryable(b bool) {
	s.emit(UploadEvent{Kind: EventRetryable, Bool: b})
}

func (s *eventStream) Error(err error) {
	s.emit(UploadEvent{Kind: EventError, Err: err})
}

func (s *eventStream) Finish(result any) {
	s.emit(UploadEvent{Kind: EventFinish, FinishResult: result})
}

// abortCleanup emits the two flag events abort always produces before
// completion: pausable(false), retryable(false), then the stream
// completes.
func (s *eventStream) abortCleanup() {
	s.Pausable(false)
	s.Retryable(false)
}

func (s *eventStream) close() {
	close(s.ch)
}
