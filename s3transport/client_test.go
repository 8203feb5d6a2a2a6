package s3transport

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"

	"github.com/resumable/uploadengine"
)

func TestChunkURL(t *testing.T) {
	if got := ChunkURL(4); got != "s3://chunk/4" {
		t.Errorf("ChunkURL(4) = %q, want %q", got, "s3://chunk/4")
	}
}

func TestNewRejectsMissingParams(t *testing.T) {
	if _, err := New(context.Background(), Params{}, nil); err == nil {
		t.Fatal("expected error for empty region/bucket/key")
	}
	if _, err := New(context.Background(), Params{Region: "us-east-1"}, nil); err == nil {
		t.Fatal("expected error for missing bucket/key")
	}
}

func TestPostUnrecognizedURL(t *testing.T) {
	c := &Client{etags: make(map[int]string)}
	_, err := c.Post(context.Background(), uploadengine.Request{URL: "https://example.test/nope"})
	if err == nil {
		t.Fatal("expected error for an unrecognized URL")
	}
}

func TestPostMalformedChunkURL(t *testing.T) {
	c := &Client{etags: make(map[int]string)}
	_, err := c.Post(context.Background(), uploadengine.Request{URL: "s3://chunk/not-a-number"})
	if err == nil {
		t.Fatal("expected error for a malformed chunk index")
	}
}

func TestUploadPartBeforeSessionOpen(t *testing.T) {
	c := &Client{etags: make(map[int]string)}
	_, err := c.Post(context.Background(), uploadengine.Request{URL: ChunkURL(0)})
	if err == nil {
		t.Fatal("expected error uploading a part before session-open")
	}
}

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string       { return "api error: " + e.code }
func (e *fakeAPIError) ErrorCode() string   { return e.code }
func (e *fakeAPIError) ErrorMessage() string { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

func TestWrapAPIErrIncludesErrorCode(t *testing.T) {
	wrapped := wrapAPIErr("upload part 3", &fakeAPIError{code: "NoSuchUpload"})
	if wrapped == nil {
		t.Fatal("expected a non-nil wrapped error")
	}
	var apiErr smithy.APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatalf("wrapped error does not unwrap to smithy.APIError: %v", wrapped)
	}
	if apiErr.ErrorCode() != "NoSuchUpload" {
		t.Errorf("ErrorCode() = %q, want %q", apiErr.ErrorCode(), "NoSuchUpload")
	}
}

func TestWrapAPIErrPlainError(t *testing.T) {
	wrapped := wrapAPIErr("create multipart upload", errors.New("network blip"))
	var apiErr smithy.APIError
	if errors.As(wrapped, &apiErr) {
		t.Fatal("a plain error must not unwrap to smithy.APIError")
	}
}

func TestIsNoSuchUpload(t *testing.T) {
	if !IsNoSuchUpload(wrapAPIErr("op", &fakeAPIError{code: "NoSuchUpload"})) {
		t.Error("expected IsNoSuchUpload to recognize a NoSuchUpload API error")
	}
	if IsNoSuchUpload(wrapAPIErr("op", &fakeAPIError{code: "AccessDenied"})) {
		t.Error("IsNoSuchUpload must not match a different error code")
	}
	if IsNoSuchUpload(errors.New("plain")) {
		t.Error("IsNoSuchUpload must not match a non-API error")
	}
}
