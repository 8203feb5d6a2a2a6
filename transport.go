package uploadengine

import (
	"context"
	"io"
)

// Request is the abstract `post` capability's request shape.
type Request struct {
	URL     string
	Body    io.Reader
	Headers map[string]string

	// ProgressSubscriber, if non-nil, is invoked at transport-defined
	// granularity with the cumulative byte count written so far.
	ProgressSubscriber func(loaded int64)
}

// Response is the abstract `post` capability's response shape: a parsed
// JSON body (for session-open/finish) or raw bytes (for chunk PUTs,
// where the body is ignored beyond the 2xx/non-2xx distinction).
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport is the pluggable `post` capability the core consumes. It
// must be cancellable via ctx; cancellation aborts the underlying
// request. Implementations are responsible for their own socket-level
// timeouts and may retry transparently beneath a single logical Post
// call without violating the dispatcher's no-local-retry discipline.
type Transport interface {
	Post(ctx context.Context, req Request) (*Response, error)
}

// TransportError carries the HTTP status and message for a non-2xx
// response.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	return e.Message
}
