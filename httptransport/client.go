// Package httptransport provides the default uploadengine.Transport
// implementation: JSON/raw-bytes POST over a retrying HTTP client.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/resumable/uploadengine"
	"github.com/resumable/uploadengine/secretredact"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Client is a uploadengine.Transport backed by *retryablehttp.Client.
// Transient 5xx/connection-reset failures are retried transparently
// beneath a single logical Post call; the dispatcher only ever observes
// one ChunkStatus per attempt regardless of how many times the
// underlying socket round-tripped.
type Client struct {
	HTTP       *retryablehttp.Client
	Logger     log.Logger
	SecretKeys []string
}

// New creates a Client with a retrying HTTP client tuned for chunk
// uploads: no overall timeout (the caller's context governs
// cancellation), bounded retries for transient failures.
// secretHeaderKeys is a comma-separated list of header and signed-URL
// query-parameter names whose values are redacted before any debug
// dump, parsed the same way a secretredact.Manager parses any other
// comma-separated key list.
func New(logger log.Logger, secretHeaderKeys string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil // we do our own structured logging below
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 0
	// Hand the last non-2xx response back to Post once retries are
	// exhausted, so it surfaces as a TransportError.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	keys := secretredact.NewManager().Load(secretHeaderKeys)
	if logger != nil && len(keys) > 0 {
		logger.Debugf("redacting configured keys in debug logs: %s", secretredact.NewManager().Format(keys))
	}
	return &Client{HTTP: rc, Logger: logger, SecretKeys: keys}
}

// Post implements uploadengine.Transport.
func (c *Client) Post(ctx context.Context, req uploadengine.Request) (*uploadengine.Response, error) {
	var body []byte
	var err error
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	// retryablehttp re-reads the body from this value on every attempt,
	// so progress tracking has to live inside it.
	var rawBody interface{} = bytes.NewReader(body)
	if req.ProgressSubscriber != nil {
		rawBody = retryablehttp.ReaderFunc(func() (io.Reader, error) {
			return &progressReader{r: bytes.NewReader(body), total: int64(len(body)), report: req.ProgressSubscriber}, nil
		})
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, req.URL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.ContentLength = int64(len(body))
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.Logger != nil {
		dump, derr := httputil.DumpRequestOut(httpReq.Request, false)
		if derr == nil {
			redacted := secretredact.RedactQuery(secretredact.Redact(string(dump), c.SecretKeys), c.SecretKeys)
			c.Logger.Debugf("upload request: %s", redacted)
		}
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if c.Logger != nil {
		c.Logger.Debugf("upload response: status=%d body=%s", resp.StatusCode, secretredact.Redact(string(respBody), c.SecretKeys))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &uploadengine.TransportError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	return &uploadengine.Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// progressReader reports cumulative bytes read to report as the
// underlying reader is consumed.
type progressReader struct {
	r       io.Reader
	total   int64
	loaded  int64
	report  func(loaded int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.report(p.loaded)
	}
	return n, err
}
