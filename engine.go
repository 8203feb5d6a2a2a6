package uploadengine

import (
	"context"
	"errors"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/resumable/uploadengine/dispatch"
	"github.com/resumable/uploadengine/telemetry"
)

// Engine coordinates one upload of one Blob: session-open, bounded-
// parallel chunk dispatch, session-finish, and the pause/resume/retry/
// abort control plane, surfacing a single ordered UploadEvent stream.
// Exactly one Engine runs per upload; construct a new one to upload a
// different Blob.
type Engine struct {
	cfg      Config
	blob     Blob
	ctrl     *control
	events   *eventStream
	opener   *opener
	track    *telemetry.UploadTracker
	uploader *dispatch.Uploader
}

// NewEngine builds an Engine for blob using cfg. If cfg.Logger is nil a
// default logger is used; if cfg.Tracker is nil a no-op tracker is used.
// Unless cfg.AutoStart is explicitly false, Start fires immediately.
func NewEngine(blob Blob, cfg Config, uploadID string) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = telemetry.NewNoopTracker()
	}

	e := &Engine{
		cfg:      cfg,
		blob:     blob,
		ctrl:     newControl(),
		events:   newEventStream(32),
		opener:   newOpener(cfg),
		track:    telemetry.NewUploadTracker(uploadID, tracker),
		uploader: dispatch.New(dispatch.DefaultConfig(), cfg.Logger),
	}

	go e.run()

	if cfg.autoStart() {
		e.Start()
	}
	return e
}

// Events returns the engine's output stream. It is closed exactly once,
// when the upload reaches a terminal state (finish, unrecoverable
// error, or abort).
func (e *Engine) Events() <-chan UploadEvent { return e.events.ch }

// Start arms the pipeline. At-most-once per engine. Returns ErrAborted
// if the pipeline has already closed.
func (e *Engine) Start() error { return e.ctrl.Start() }

// Pause cancels the in-flight dispatcher run at the next chunk
// boundary, preserving the session. Returns ErrAborted if the pipeline
// has already closed.
func (e *Engine) Pause() error { return e.ctrl.Pause(true) }

// Resume re-enters the dispatcher with the accumulator as it stood at
// the last pause. Returns ErrAborted if the pipeline has already
// closed.
func (e *Engine) Resume() error { return e.ctrl.Pause(false) }

// Retry re-enters the dispatcher after a MultipleChunkUploadError, with
// the error tally cleared; chunks that already completed are kept and
// not re-sent. Ignored outside that error state. Returns ErrAborted if
// the pipeline has already closed.
func (e *Engine) Retry() error { return e.ctrl.Retry() }

// Abort terminates the pipeline immediately; no finish event follows.
// Returns ErrAborted if the pipeline has already closed.
func (e *Engine) Abort() error { return e.ctrl.Abort() }

// Stats exposes the dispatcher's running duration statistics, useful
// for tuning hung-chunk detection externally.
func (e *Engine) Stats() *dispatch.Stats { return e.uploader.Stats() }

func (e *Engine) run() {
	defer e.events.close()
	defer e.ctrl.teardown()

	select {
	case <-e.ctrl.startCh:
	case <-e.ctrl.abortCh:
		e.events.abortCleanup()
		return
	}

	e.events.Start()
	e.events.Pausable(true)
	e.events.Retryable(false)
	e.track.Track(telemetry.EventStart, nil)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	go func() {
		<-e.ctrl.abortCh
		e.track.Track(telemetry.EventAbort, nil)
		cancelRoot()
	}()

	meta, err := e.opener.Open(rootCtx)
	if err != nil {
		e.events.Error(err)
		e.events.Retryable(false)
		return
	}
	e.events.ChunkStart(meta)
	e.track.Track(telemetry.EventChunkStart, nil)

	blobs := Slice(e.blob, meta.Chunks, meta.ChunkSize)
	acc := newDispatcherAccumulator(meta)
	progressAgg := newProgressAggregator(meta.FileSize)

	disp := newDispatcher(e.cfg, e.uploader, blobs)

	progressFn := func(p dispatch.ChunkProgress) {
		e.events.Progress(progressAgg.update(p.Index, p.Loaded))
	}

	for {
		if len(acc.completes) == meta.Chunks {
			break
		}

		runCtx, cancelRun := context.WithCancel(rootCtx)
		pauseWatchDone := make(chan struct{})
		go func() {
			defer close(pauseWatchDone)
			select {
			case v := <-e.ctrl.pauseCh:
				if v {
					// Announce the pause now: in-flight chunk POSTs may
					// take a while to return after cancelRun.
					e.events.Pausable(false)
					cancelRun()
				}
			case <-runCtx.Done():
			}
		}()

		runErr := disp.run(runCtx, meta, acc, progressFn)
		cancelRun()
		<-pauseWatchDone

		if rootCtx.Err() != nil {
			e.events.abortCleanup()
			return
		}

		if runErr == nil {
			continue
		}

		if errors.Is(runErr, context.Canceled) {
			if !e.awaitResumeOrAbort(rootCtx) {
				e.events.abortCleanup()
				return
			}
			e.events.Pausable(true)
			continue
		}

		if errors.Is(runErr, ErrMultipleChunkUploadError) {
			// Discard any Retry() requested before this error state.
			drain(e.ctrl.retryCh)
			e.events.Error(runErr)
			e.events.Retryable(true)
			e.track.Track(telemetry.EventError, telemetry.Properties{"reason": runErr.Error()})
			if !e.awaitRetryOrAbort(rootCtx) {
				e.events.abortCleanup()
				return
			}
			e.events.Retryable(false)
			e.track.Track(telemetry.EventRetry, nil)
			continue
		}

		e.events.Error(runErr)
		e.events.Retryable(false)
		return
	}

	result, err := newFinisher(e.cfg).Finish(rootCtx, meta)
	if err != nil {
		e.events.Error(err)
		e.events.Retryable(false)
		return
	}

	e.events.Pausable(false)
	e.events.Retryable(false)
	e.track.Track(telemetry.EventFinish, nil)
	e.events.Finish(result)
}

// awaitResumeOrAbort blocks until Resume() or Abort() fires, returning
// false if it was Abort (rootCtx cancelled).
func (e *Engine) awaitResumeOrAbort(rootCtx context.Context) bool {
	for {
		select {
		case v := <-e.ctrl.pauseCh:
			if !v {
				return true
			}
		case <-rootCtx.Done():
			return false
		}
	}
}

// awaitRetryOrAbort blocks until Retry() or Abort() fires, returning
// false if it was Abort (rootCtx cancelled).
func (e *Engine) awaitRetryOrAbort(rootCtx context.Context) bool {
	select {
	case <-e.ctrl.retryCh:
		return true
	case <-rootCtx.Done():
		return false
	}
}
