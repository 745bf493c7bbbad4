package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/core/domain"
)

type limiterFake struct {
	mu     sync.Mutex
	budget int
	keys   []string
	err    error
}

func (f *limiterFake) Allow(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	if f.budget <= 0 {
		return false, nil
	}
	f.budget--
	return true, nil
}

type recorderFake struct {
	noopRecorder
	limited int
}

func (r *recorderFake) RecordRateLimited(string) { r.limited++ }

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	limiter := &limiterFake{budget: 1}
	rec := &recorderFake{}
	api := newTestAPI(t, config.Config{}, func(deps *Dependencies) {
		deps.Limiter = limiter
		deps.Metrics = rec
	})

	res1 := api.do(http.MethodGet, "/v1/documents", nil)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := api.do(http.MethodGet, "/v1/documents", nil)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
	if rec.limited != 1 {
		t.Fatalf("expected one rate limited metric, got %d", rec.limited)
	}
	if limiter.keys[0] != "owner:owner-1" {
		t.Fatalf("expected owner scoped key, got %q", limiter.keys[0])
	}
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	limiter := &limiterFake{err: errors.New("redis down")}
	api := newTestAPI(t, config.Config{}, func(deps *Dependencies) {
		deps.Limiter = limiter
	})

	res := api.do(http.MethodGet, "/v1/documents", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 when limiter fails, got %d", res.Code)
	}
}

func TestRateLimitSkipsPublicRoutes(t *testing.T) {
	limiter := &limiterFake{}
	api := newTestAPI(t, config.Config{}, func(deps *Dependencies) {
		deps.Limiter = limiter
	})

	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(limiter.keys) != 0 {
		t.Fatalf("public route must not consume rate budget")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("expected first request to complete with 204, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("first request did not complete")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := requestIDMiddleware(base)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if seen != "req-123" || res.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected request id to be propagated, got ctx=%q header=%q", seen, res.Header().Get(requestIDHeader))
	}
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := requestIDMiddleware(accessLogMiddleware(base, logger))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (raw=%s)", err, buf.String())
	}
	if entry["msg"] != "http_request" || entry["level"] != "WARN" || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["request_id"] == "" {
		t.Fatalf("expected request id in log entry")
	}
}

type blobsFake struct {
	saved map[string][]byte
}

func (f *blobsFake) Verify(token, key, op string) (int64, error) {
	if token != op+":"+key {
		return 0, domain.WrapError(domain.ErrUnauthenticated, "verify blob token", errors.New("mismatch"))
	}
	return 16, nil
}

func (f *blobsFake) Save(_ context.Context, key string, data io.Reader, limit int64) (int64, error) {
	raw, err := io.ReadAll(io.LimitReader(data, limit+1))
	if err != nil {
		return 0, err
	}
	if int64(len(raw)) > limit {
		return 0, domain.WrapError(domain.ErrFileTooLarge, "save blob", errors.New("too big"))
	}
	f.saved[key] = raw
	return int64(len(raw)), nil
}

func (f *blobsFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open blob", errors.New("missing"))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestBlobRoundTripWithoutBearerToken(t *testing.T) {
	blobs := &blobsFake{saved: map[string][]byte{}}
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, func(deps *Dependencies) {
		deps.Blobs = blobs
	})
	key := "owner-1/abc_report.pdf"

	put := httptest.NewRequest(http.MethodPut, "/v1/blobs/"+key+"?token=put:"+key, strings.NewReader("%PDF-1.4"))
	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, put)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on upload, got %d body=%s", res.Code, res.Body.String())
	}
	if string(blobs.saved[key]) != "%PDF-1.4" {
		t.Fatalf("unexpected stored bytes: %q", blobs.saved[key])
	}

	get := httptest.NewRequest(http.MethodGet, "/v1/blobs/"+key+"?token=get:"+key, nil)
	res = httptest.NewRecorder()
	api.handler.ServeHTTP(res, get)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on download, got %d", res.Code)
	}
	if res.Header().Get("Content-Type") != "application/pdf" || res.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected download: type=%q body=%q", res.Header().Get("Content-Type"), res.Body.String())
	}
}

func TestBlobUploadRejectsWrongTokenAndOversize(t *testing.T) {
	blobs := &blobsFake{saved: map[string][]byte{}}
	api := newTestAPI(t, config.Config{}, func(deps *Dependencies) {
		deps.Blobs = blobs
	})
	key := "owner-1/abc_report.pdf"

	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/v1/blobs/"+key+"?token=get:"+key, strings.NewReader("x")))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for download token on upload, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	api.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/v1/blobs/"+key+"?token=put:"+key, strings.NewReader(strings.Repeat("x", 32))))
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", res.Code)
	}
	if _, ok := blobs.saved[key]; ok {
		t.Fatalf("oversized upload must not be stored")
	}
}
