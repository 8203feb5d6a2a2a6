package uploadengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func collectEvents(t *testing.T, e *Engine, timeout time.Duration) []UploadEvent {
	t.Helper()
	var events []UploadEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events; collected so far: %+v", events)
		}
	}
}

func kinds(events []UploadEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func eqKinds(got []EventKind, want ...EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// newTestTransport builds a fakeTransport that answers session-open
// with the given chunk plan and succeeds every chunk/finish POST.
func newTestTransport(chunks int, chunkSize int64, uploaded []int) *fakeTransport {
	return &fakeTransport{
		postFunc: func(url string, body []byte) (*Response, error) {
			if url == "start" {
				payload, _ := json.Marshal(map[string]any{
					"chunks": chunks, "chunkSize": chunkSize,
					"fileSize": int64(chunks) * chunkSize, "uploadedChunks": uploaded,
				})
				return &Response{StatusCode: 200, Body: payload}, nil
			}
			if url == "finish" {
				return &Response{StatusCode: 200, Body: []byte(`{"status":"done"}`)}, nil
			}
			return &Response{StatusCode: 200}, nil
		},
	}
}

func testConfig(transport *fakeTransport, compression CompressionMode) Config {
	return Config{
		GetChunkStartURL:  func() string { return "start" },
		GetChunkURL:       func(m FileMeta, index int) string { return fmt.Sprintf("chunk/%d", index) },
		GetChunkFinishURL: func(m FileMeta) string { return "finish" },
		Transport:         transport,
		Compression:       compression,
		FileName:          "f.bin",
	}
}

func TestEngineCleanUpload(t *testing.T) {
	transport := newTestTransport(5, 100, nil)
	cfg := testConfig(transport, CompressionNone)
	blob := NewMemBlob(make([]byte, 500))

	e := NewEngine(blob, cfg, "upload-1")
	events := collectEvents(t, e, 5*time.Second)

	if last := events[len(events)-1]; last.Kind != EventFinish {
		t.Fatalf("last event = %v, want EventFinish", last.Kind)
	}
	if got := transport.callCount("start"); got != 1 {
		t.Errorf("session-open POSTed %d times, want 1", got)
	}
	if got := transport.callCount("finish"); got != 1 {
		t.Errorf("session-finish POSTed %d times, want 1", got)
	}
	for i := 0; i < 5; i++ {
		if got := transport.callCount(fmt.Sprintf("chunk/%d", i)); got != 1 {
			t.Errorf("chunk %d POSTed %d times, want 1", i, got)
		}
	}

	var sawChunkStart, sawStart bool
	for _, ev := range events {
		switch ev.Kind {
		case EventStart:
			sawStart = true
		case EventChunkStart:
			sawChunkStart = true
			if sawStart == false {
				t.Error("chunkstart must come after start")
			}
		}
	}
	if !sawStart || !sawChunkStart {
		t.Errorf("missing start/chunkstart events: %v", kinds(events))
	}
}

func TestEngineResumeWithPartialState(t *testing.T) {
	transport := newTestTransport(5, 100, []int{0, 2, 4})
	cfg := testConfig(transport, CompressionNone)
	blob := NewMemBlob(make([]byte, 500))

	e := NewEngine(blob, cfg, "upload-2")
	events := collectEvents(t, e, 5*time.Second)

	if last := events[len(events)-1]; last.Kind != EventFinish {
		t.Fatalf("last event = %v, want EventFinish", last.Kind)
	}
	// Only the two missing chunks should ever reach the transport.
	if got := transport.callCount("chunk/1"); got != 1 {
		t.Errorf("chunk/1 POSTed %d times, want 1", got)
	}
	if got := transport.callCount("chunk/3"); got != 1 {
		t.Errorf("chunk/3 POSTed %d times, want 1", got)
	}
	for _, idx := range []int{0, 2, 4} {
		if got := transport.callCount(fmt.Sprintf("chunk/%d", idx)); got != 0 {
			t.Errorf("pre-uploaded chunk %d should not be POSTed, got %d calls", idx, got)
		}
	}
}

func TestEngineThresholdTripThenRetry(t *testing.T) {
	var calls atomic.Int32
	transport := &fakeTransport{
		postFunc: func(url string, body []byte) (*Response, error) {
			switch url {
			case "start":
				payload, _ := json.Marshal(map[string]any{
					"chunks": 10, "chunkSize": 10, "fileSize": 100, "uploadedChunks": []int{},
				})
				return &Response{StatusCode: 200, Body: payload}, nil
			case "finish":
				return &Response{StatusCode: 200, Body: []byte(`{}`)}, nil
			default:
				n := calls.Add(1)
				if n <= 3 {
					return nil, errors.New("network blip")
				}
				return &Response{StatusCode: 200}, nil
			}
		},
	}
	cfg := testConfig(transport, CompressionNone)
	blob := NewMemBlob(make([]byte, 100))

	e := NewEngine(blob, cfg, "upload-3")

	var events []UploadEvent
	sawRetryable := false
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				break collect
			}
			events = append(events, ev)
			if ev.Kind == EventRetryable && ev.Bool {
				sawRetryable = true
				e.Retry()
			}
		case <-deadline:
			t.Fatalf("timed out; events so far: %v", kinds(events))
		}
	}

	if !sawRetryable {
		t.Fatal("expected a retryable(true) event after the threshold tripped")
	}
	if last := events[len(events)-1]; last.Kind != EventFinish {
		t.Fatalf("last event = %v, want EventFinish", last.Kind)
	}
}

func TestEnginePauseThenResume(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeTransport{
		postFunc: func(url string, body []byte) (*Response, error) {
			switch url {
			case "start":
				payload, _ := json.Marshal(map[string]any{
					"chunks": 5, "chunkSize": 10, "fileSize": 50, "uploadedChunks": []int{},
				})
				return &Response{StatusCode: 200, Body: payload}, nil
			case "finish":
				return &Response{StatusCode: 200, Body: []byte(`{}`)}, nil
			default:
				<-gate
				return &Response{StatusCode: 200}, nil
			}
		},
	}
	cfg := testConfig(transport, CompressionNone)
	blob := NewMemBlob(make([]byte, 50))

	e := NewEngine(blob, cfg, "upload-pause")

	// Give the dispatcher a chance to launch its first batch of chunk
	// attempts (each now blocked on gate) before requesting a pause.
	time.Sleep(50 * time.Millisecond)
	e.Pause()

	var events []UploadEvent
	sawPausableFalse, sawPausableTrue, gateClosed := false, false, false
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				break collect
			}
			events = append(events, ev)
			if ev.Kind == EventPausable && !ev.Bool && !gateClosed {
				sawPausableFalse = true
				gateClosed = true
				// No further progress is expected until Resume(): release
				// the chunks that were already in flight when Pause() was
				// requested, then resume the pipeline.
				close(gate)
				e.Resume()
			}
			if ev.Kind == EventPausable && ev.Bool && gateClosed {
				sawPausableTrue = true
			}
		case <-deadline:
			t.Fatalf("timed out; events so far: %v", kinds(events))
		}
	}

	if !sawPausableFalse {
		t.Fatal("expected a pausable(false) event after Pause()")
	}
	if !sawPausableTrue {
		t.Fatal("expected a pausable(true) event after Resume()")
	}
	if last := events[len(events)-1]; last.Kind != EventFinish {
		t.Fatalf("last event = %v, want EventFinish", last.Kind)
	}
	for i := 0; i < 5; i++ {
		if got := transport.callCount(fmt.Sprintf("chunk/%d", i)); got != 1 {
			t.Errorf("chunk %d POSTed %d times, want 1", i, got)
		}
	}
	if got := transport.callCount("finish"); got != 1 {
		t.Errorf("session-finish POSTed %d times, want 1", got)
	}
}

func TestEngineGzipCompressionSetsContentEncoding(t *testing.T) {
	transport := newTestTransport(3, 10, nil)
	cfg := testConfig(transport, CompressionGzip)
	blob := NewMemBlob(make([]byte, 30))

	e := NewEngine(blob, cfg, "upload-gzip")
	events := collectEvents(t, e, 5*time.Second)

	if last := events[len(events)-1]; last.Kind != EventFinish {
		t.Fatalf("last event = %v, want EventFinish", last.Kind)
	}
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("chunk/%d", i)
		headers := transport.headersFor(url)
		if got := headers["Content-Encoding"]; got != "gzip" {
			t.Errorf("chunk %d headers = %v, want Content-Encoding: gzip", i, headers)
		}
	}
	// Session-open and session-finish bodies aren't compressed; they
	// must not carry the chunk-only header.
	if got := transport.headersFor("start")["Content-Encoding"]; got != "" {
		t.Errorf("session-open Content-Encoding = %q, want empty", got)
	}
	if got := transport.headersFor("finish")["Content-Encoding"]; got != "" {
		t.Errorf("session-finish Content-Encoding = %q, want empty", got)
	}
}

func TestEngineAbortMidUpload(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	transport := &fakeTransport{
		postFunc: func(url string, body []byte) (*Response, error) {
			if url == "start" {
				payload, _ := json.Marshal(map[string]any{
					"chunks": 10, "chunkSize": 10, "fileSize": 100, "uploadedChunks": []int{},
				})
				return &Response{StatusCode: 200, Body: payload}, nil
			}
			n := calls.Add(1)
			if n > 2 {
				<-release
			}
			return &Response{StatusCode: 200}, nil
		},
	}
	cfg := testConfig(transport, CompressionNone)
	blob := NewMemBlob(make([]byte, 100))

	e := NewEngine(blob, cfg, "upload-4")

	// Give the first couple of chunks a chance to complete, then abort.
	time.Sleep(50 * time.Millisecond)
	e.Abort()
	close(release)

	events := collectEvents(t, e, 5*time.Second)
	for _, ev := range events {
		if ev.Kind == EventFinish {
			t.Fatal("abort must not be followed by a finish event")
		}
	}
	if len(events) == 0 {
		t.Fatal("expected at least the abort cleanup events")
	}
	last := events[len(events)-1]
	if last.Kind != EventRetryable || last.Bool != false {
		t.Errorf("last event = %+v, want retryable(false) cleanup", last)
	}
}
