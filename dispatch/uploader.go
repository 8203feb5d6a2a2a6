package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// PostFunc performs one HTTP POST of a chunk body to target, invoking
// progress with the cumulative byte count as the body is read, and
// returning a non-nil error for any transport/HTTP failure (including
// non-2xx responses). ctx cancellation must abort the in-flight request.
type PostFunc func(ctx context.Context, target UploadTarget, body io.Reader, size int64, progress func(int64)) error

// Uploader runs chunk attempts with bounded parallelism and hung
// detection. It reports one ChunkStatus per attempt; it never retries a
// genuine HTTP/transport failure and never decides when a run should
// fail — that's the caller's aggregation policy.
type Uploader struct {
	config Config
	logger log.Logger
	stats  *Stats
}

// New creates an Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	return &Uploader{config: config, logger: logger, stats: NewStats()}
}

// Stats returns the uploader's running duration statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Run uploads the chunks named by indices using provider for chunk data
// and targetFor to resolve each index's upload target. It returns a
// channel that receives at most one ChunkStatus per index in indices
// (in completion order, not index order) and is closed once every
// attempt has returned, including after ctx is done.
//
// A chunk whose attempt is cancelled because ctx itself was cancelled
// (not because of an internal hung-restart) produces no ChunkStatus at
// all: from the caller's perspective that chunk simply never completed
// this run. It restarts from zero on the next run and isn't counted as
// an error.
func (u *Uploader) Run(ctx context.Context, indices []int, provider ChunkProvider, targetFor func(index int) UploadTarget, post PostFunc, progress ProgressFunc) <-chan ChunkStatus {
	results := make(chan ChunkStatus, len(indices))
	if len(indices) == 0 {
		close(results)
		return results
	}

	sem := make(chan struct{}, ParallelismLimit)
	done := make(chan struct{}, len(indices))

	for _, index := range indices {
		index := index
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() { done <- struct{}{} }()

			status, ok := u.attempt(ctx, index, provider, targetFor(index), post, progress)
			if ok {
				results <- status
			}
		}()
	}

	go func() {
		for i := 0; i < len(indices); i++ {
			<-done
		}
		close(results)
	}()

	return results
}

// attempt runs a single chunk upload, restarting it up to
// Config.MaxHungRestarts times if it's judged hung. ok is false when the attempt was abandoned because
// the caller's ctx (not an internal hung-restart) was cancelled.
func (u *Uploader) attempt(ctx context.Context, index int, provider ChunkProvider, target UploadTarget, post PostFunc, progress ProgressFunc) (ChunkStatus, bool) {
	restarts := 0
	for {
		select {
		case <-ctx.Done():
			return ChunkStatus{}, false
		default:
		}

		start := time.Now()
		attemptCtx, cancelAttempt := context.WithCancel(ctx)

		hungCh := make(chan struct{})
		if u.config.HungThreshold > 0 && restarts < u.config.MaxHungRestarts {
			go u.detectHung(attemptCtx, cancelAttempt, start, index, hungCh)
		} else {
			close(hungCh)
		}

		err := u.uploadOnce(attemptCtx, index, provider, target, post, progress)
		// Only detectHung can have cancelled attemptCtx at this point
		// (ctx itself is checked below), so record that before the
		// cleanup cancel makes every attempt look cancelled.
		hung := attemptCtx.Err() == context.Canceled
		cancelAttempt()
		<-hungCh

		if err == nil {
			d := time.Since(start)
			u.stats.Update(d)
			if u.logger != nil {
				u.logger.Debugf("chunk %d uploaded (%s) in %s", index, units.HumanSizeWithPrecision(float64(provider.ChunkSize(index)), 3), d.Round(time.Millisecond))
			}
			return ChunkStatus{Index: index, Completed: true}, true
		}

		if ctx.Err() != nil {
			return ChunkStatus{}, false
		}

		if hung && restarts < u.config.MaxHungRestarts {
			if u.logger != nil {
				u.logger.Warnf("chunk %d attempt hung, restarting", index)
			}
			restarts++
			continue
		}

		if u.logger != nil {
			u.logger.Debugf("chunk %d upload failed: %v", index, err)
		}
		return ChunkStatus{Index: index, Completed: false}, true
	}
}

func (u *Uploader) detectHung(ctx context.Context, cancel context.CancelFunc, start time.Time, index int, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			if u.stats.HungRelativeTo(elapsed, u.config.HungThreshold) {
				if u.logger != nil {
					u.logger.Warnf("chunk %d hung after %s (avg %s)", index, elapsed.Round(time.Second), u.stats.Average().Round(time.Second))
				}
				cancel()
				return
			}
		}
	}
}

func (u *Uploader) uploadOnce(ctx context.Context, index int, provider ChunkProvider, target UploadTarget, post PostFunc, progress ProgressFunc) error {
	reader, err := provider.GetChunk(index)
	if err != nil {
		return fmt.Errorf("get chunk %d: %w", index, err)
	}

	size := provider.ChunkSize(index)
	var body io.Reader = reader
	if _, ok := reader.(*bytes.Reader); !ok {
		data, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", index, err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	report := func(loaded int64) {
		if progress != nil {
			progress(ChunkProgress{Index: index, Loaded: loaded})
		}
	}

	return post(ctx, target, body, size, report)
}
