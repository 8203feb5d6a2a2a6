package uploadengine

import (
	"context"
	"encoding/json"
	"fmt"
)

// finisher posts the session-finish request once the dispatcher reports
// every chunk complete. Unlike opener it isn't memoized: the engine only
// ever calls Finish once per successful run. A failed finish is
// terminal — the engine surfaces it as a fatal error event and the
// stream ends; there is no retry() path back into a finish failure.
type finisher struct {
	cfg Config
}

func newFinisher(cfg Config) *finisher {
	return &finisher{cfg: cfg}
}

// Finish posts to Config.GetChunkFinishURL(meta) and returns the parsed
// JSON response body as an any (object, array, or scalar, whatever the
// server sends). Failures propagate unchanged; there is no local retry.
func (f *finisher) Finish(ctx context.Context, meta FileMeta) (any, error) {
	headers := mergeHeaders(f.cfg.Headers, map[string]string{"Content-Type": "application/json"})
	resp, err := f.cfg.Transport.Post(ctx, Request{
		URL:     f.cfg.GetChunkFinishURL(meta),
		Body:    newBodyReader(nil),
		Headers: headers,
	})
	if err != nil {
		return nil, wrapFinish(err)
	}

	if len(resp.Body) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, wrapFinish(fmt.Errorf("decode session-finish response: %w", err))
	}
	return result, nil
}
