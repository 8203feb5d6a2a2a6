package uploadengine

import (
	"context"
	"fmt"
	"io"

	"github.com/resumable/uploadengine/dispatch"
)

// dispatcherAccumulator is the running tally for a single dispatcher
// run: which chunk indices have completed and which have failed this
// run. It is owned exclusively by dispatcher.run's fold loop; nothing
// else touches it.
type dispatcherAccumulator struct {
	completes map[int]struct{}
	errors    map[int]struct{}
}

func newDispatcherAccumulator(meta FileMeta) *dispatcherAccumulator {
	completes := make(map[int]struct{}, len(meta.UploadedChunks))
	for i := range meta.UploadedChunks {
		completes[i] = struct{}{}
	}
	return &dispatcherAccumulator{
		completes: completes,
		errors:    make(map[int]struct{}),
	}
}

// threshold returns the error count that trips the multiple-chunk-
// upload failure for a file of the given chunk count: 3 for files with
// more than 3 chunks, 1 otherwise, so a single-chunk or two-chunk
// upload doesn't get three free failures before giving up.
func threshold(chunks int) int {
	if chunks > 3 {
		return 3
	}
	return 1
}

// dispatcher drives one or more dispatch.Uploader runs against a single
// FileMeta, folding ChunkStatus results into a dispatcherAccumulator and
// applying the error-threshold policy the generic dispatch.Uploader
// deliberately doesn't know about.
type dispatcher struct {
	cfg     Config
	uploads *dispatch.Uploader
	blobs   []Blob
}

func newDispatcher(cfg Config, uploads *dispatch.Uploader, blobs []Blob) *dispatcher {
	return &dispatcher{cfg: cfg, uploads: uploads, blobs: blobs}
}

// run executes dispatch cycles against the chunks not already in
// acc.completes, redispatching any chunk that failed without tripping
// the threshold, until the run succeeds (|completes| == meta.Chunks),
// fails (ErrMultipleChunkUploadError), or ctx is cancelled (pause/abort)
// — in which case acc is left exactly as it stood at cancellation,
// ready for the next run to pick up where this one left off. Chunks
// that fail below the threshold are simply redispatched in the next
// cycle of the same call, so a couple of transient failures don't
// require the caller to retry anything.
func (d *dispatcher) run(ctx context.Context, meta FileMeta, acc *dispatcherAccumulator, progress dispatch.ProgressFunc) error {
	provider := d.provider()
	targetFor := func(index int) dispatch.UploadTarget {
		headers := d.cfg.Headers
		if d.cfg.Compression == CompressionGzip {
			headers = mergeHeaders(headers, map[string]string{"Content-Encoding": "gzip"})
		}
		return dispatch.UploadTarget{URL: d.cfg.GetChunkURL(meta, index), Headers: headers}
	}
	th := threshold(meta.Chunks)

	for {
		pending := make([]int, 0, meta.Chunks)
		for i := 0; i < meta.Chunks; i++ {
			if _, done := acc.completes[i]; !done {
				pending = append(pending, i)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		cycleCtx, cancelCycle := context.WithCancel(ctx)
		statuses := d.uploads.Run(cycleCtx, pending, provider, targetFor, d.post(), progress)

		progressedThisCycle := false
		tripped := false
		for status := range statuses {
			if status.Completed {
				acc.completes[status.Index] = struct{}{}
			} else {
				acc.errors[status.Index] = struct{}{}
			}
			progressedThisCycle = true

			if len(acc.errors) >= th {
				tripped = true
				cancelCycle()
			}
		}
		cancelCycle()

		if tripped {
			indices := make([]int, 0, len(acc.errors))
			for i := range acc.errors {
				indices = append(indices, i)
			}
			agg := dispatch.NewAggregateError(indices)
			acc.errors = make(map[int]struct{})
			return fmt.Errorf("%w: %w", ErrMultipleChunkUploadError, agg)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if !progressedThisCycle {
			// Every attempt was abandoned without producing a single
			// status and ctx isn't done: nothing left to try.
			return nil
		}
	}
}

func (d *dispatcher) provider() dispatch.ChunkProvider {
	provider := dispatch.ChunkProvider(newBlobChunkProvider(d.blobs))
	if d.cfg.Compression == CompressionGzip {
		provider = dispatch.NewGzipChunkProvider(provider)
	}
	return provider
}

func (d *dispatcher) post() dispatch.PostFunc {
	return func(ctx context.Context, target dispatch.UploadTarget, body io.Reader, size int64, progress func(int64)) error {
		_, err := d.cfg.Transport.Post(ctx, Request{
			URL:                target.URL,
			Body:               body,
			Headers:            target.Headers,
			ProgressSubscriber: progress,
		})
		return err
	}
}
