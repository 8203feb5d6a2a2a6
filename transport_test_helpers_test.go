package uploadengine

import (
	"context"
	"io"
	"sync"
)

// fakeTransport is an in-memory uploadengine.Transport for tests that
// don't need real HTTP. postFunc gets the URL and the fully-read body;
// it's invoked under a lock so tests can safely inspect call order.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	headers  map[string]map[string]string
	postFunc func(url string, body []byte) (*Response, error)
}

func (f *fakeTransport) Post(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	if f.headers == nil {
		f.headers = make(map[string]map[string]string)
	}
	f.headers[req.URL] = req.Headers
	f.mu.Unlock()

	if req.ProgressSubscriber != nil {
		req.ProgressSubscriber(int64(len(body)))
	}

	if f.postFunc != nil {
		return f.postFunc(req.URL, body)
	}
	return &Response{StatusCode: 200}, nil
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

func (f *fakeTransport) headersFor(url string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[url]
}
