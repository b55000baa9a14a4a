package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
	"ContractReview/internal/observability/metrics"
	"ContractReview/internal/storage/blob"
	"ContractReview/internal/task"
	"ContractReview/internal/upload"
)

type stubGenerator struct {
	mu   sync.Mutex
	last llm.Request
	err  error
}

func (g *stubGenerator) Invoke(_ context.Context, req llm.Request) (*llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Result{Answer: "reviewed: " + req.Prompt}, nil
}

type recordingStore struct {
	mu      sync.Mutex
	objects []blob.Object
	err     error
}

func (s *recordingStore) Put(_ context.Context, obj blob.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.objects = append(s.objects, obj)
	return nil
}

func (s *recordingStore) Location() string { return "s3://contracts" }

func newUploadService(store blob.Store) *upload.Service {
	return upload.NewService(store,
		upload.WithClock(func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local) }),
		upload.WithRandom(func() string { return "abcdef12-3456" }),
	)
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateSuccess(t *testing.T) {
	gen := &stubGenerator{}
	h := NewServer(":0", gen).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generate",
		[]byte(`{"query":"review clause 4","temperature":0.2,"max_tokens":256,"model_id":"mistral.mistral-7b-instruct-v0:2"}`), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := decodeMap(t, rec)["answer"]; got != "reviewed: review clause 4" {
		t.Fatalf("unexpected answer: %v", got)
	}
	if gen.last.MaxTokens != 256 || gen.last.Temperature != 0.2 || gen.last.ModelID != llm.MistralModelID {
		t.Fatalf("request not forwarded intact: %+v", gen.last)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != corsAllowHeaders {
		t.Fatalf("unexpected allow headers: %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestGenerateRejectsMalformedRequests(t *testing.T) {
	h := NewServer(":0", &stubGenerator{}).Handler()

	cases := map[string]string{
		"not json":        `query=hi`,
		"missing model":   `{"query":"q","temperature":0.1,"max_tokens":10}`,
		"missing tokens":  `{"query":"q","temperature":0.1,"model_id":"m"}`,
		"tokens as float": `{"query":"q","temperature":0.1,"max_tokens":1.5,"model_id":"m"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/generate", []byte(body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if _, ok := decodeMap(t, rec)["error"]; !ok {
				t.Fatalf("error field missing")
			}
		})
	}
}

func TestGenerateBackendFailureKeepsStatusOK(t *testing.T) {
	gen := &stubGenerator{err: xerrors.Wrap(llm.CodeBackendInvocation, errors.New("ThrottlingException"), "model invocation failed")}
	h := NewServer(":0", gen).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generate",
		[]byte(`{"query":"q","temperature":0,"max_tokens":10,"model_id":"anthropic.claude-v2"}`), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("gateway failures are reported with 200, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != "model invocation failed: ThrottlingException" {
		t.Fatalf("unexpected error message: %v", got)
	}
}

func TestGenerateValidationFailureIsBadRequest(t *testing.T) {
	gen := &stubGenerator{err: xerrors.New(llm.CodeInvalidRequest, "query must not be empty")}
	h := NewServer(":0", gen).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generate",
		[]byte(`{"query":"","temperature":0,"max_tokens":10,"model_id":"m"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPreflightAndMethodHandling(t *testing.T) {
	h := NewServer(":0", &stubGenerator{}).Handler()

	rec := do(t, h, http.MethodOptions, "/api/v1/upload", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("preflight should be an empty 200, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != corsAllowMethods {
		t.Fatalf("unexpected allow methods: %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/generate", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestUploadFlow(t *testing.T) {
	store := &recordingStore{}
	h := NewServer(":0", &stubGenerator{}, WithUploader(newUploadService(store))).Handler()

	t.Run("raw body with filename", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte("contract text"), map[string]string{
			"Content-Disposition": `attachment; filename="Master Services.txt"`,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeMap(t, rec)
		wantKey := "uploaded_documents/20240305_140709_abcdef12_Master_Services.txt"
		if body["success"] != true || body["s3_key"] != wantKey || body["filename"] != wantKey {
			t.Fatalf("unexpected body: %+v", body)
		}
		if body["content_type"] != "text/plain" || body["message"] != "File uploaded successfully" {
			t.Fatalf("unexpected body: %+v", body)
		}
	})

	t.Run("base64 body", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte("JVBERi0xLjQ="), map[string]string{
			"X-Is-Base64-Encoded": "true",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
		}
		last := store.objects[len(store.objects)-1]
		if string(last.Body) != "%PDF-1.4" || last.ContentType != "application/pdf" {
			t.Fatalf("unexpected stored object: %+v", last)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/upload", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if got := decodeMap(t, rec)["error"]; got != "No file data received" {
			t.Fatalf("unexpected error: %v", got)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte("%%%"), map[string]string{
			"Content-Transfer-Encoding": "base64",
		})
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		body := decodeMap(t, rec)
		if body["success"] != false || !strings.HasPrefix(body["error"].(string), "Upload failed: ") {
			t.Fatalf("unexpected body: %+v", body)
		}
	})
}

func TestUploadWithoutBucket(t *testing.T) {
	h := NewServer(":0", &stubGenerator{}, WithUploader(newUploadService(nil))).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("bucket check precedes body check, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["success"] != false || body["error"] != "S3_BUCKET_NAME environment variable not configured" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestUploadStorageFailure(t *testing.T) {
	store := &recordingStore{err: errors.New("AccessDenied")}
	h := NewServer(":0", &stubGenerator{}, WithUploader(newUploadService(store))).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte("x"), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != "Upload failed: AccessDenied" {
		t.Fatalf("unexpected error: %v", got)
	}
}

func TestUploadRespectsSizeLimit(t *testing.T) {
	store := &recordingStore{}
	h := NewServer(":0", &stubGenerator{},
		WithUploader(newUploadService(store)),
		WithMaxUploadBytes(8),
	).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte("0123456789"), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(store.objects) != 0 {
		t.Fatalf("oversized body must not be stored")
	}

	rec = do(t, h, http.MethodPost, "/api/v1/upload", []byte("01234567"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("body at the limit should be accepted, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerationJobsEndpoints(t *testing.T) {
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	ids := []string{"job-1", "job-2"}
	svc := task.NewService(store, queue, task.WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	h := NewServer(":0", &stubGenerator{}, WithJobs(svc)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generations",
		[]byte(`{"query":"q","temperature":0.5,"max_tokens":32,"model_id":"m"}`), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID != "job-1" || job.Status != task.StatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/generations",
		[]byte(`{"query":"q","temperature":0.5,"max_tokens":0,"model_id":"m"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid job should be rejected, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/generations/job-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/generations/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/generations?status=pending&model_id=m&limit=5", nil, nil)
	var listed []task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "job-1" {
		t.Fatalf("unexpected list: %+v", listed)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/generations/stats", nil, nil)
	var stats task.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestJobsDisabled(t *testing.T) {
	h := NewServer(":0", &stubGenerator{}).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/generations/job-1", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	collector := metrics.New()
	h := NewServer(":0", &stubGenerator{}, WithMetrics(collector, "")).Handler()

	do(t, h, http.MethodPost, "/api/v1/generate", []byte(`{}`), nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `reviewd_http_requests_total{code="400",handler="generate",method="POST"} 1`) {
		t.Fatalf("request not recorded:\n%s", rec.Body.String())
	}
}

func TestMetricsRouteCanBeHidden(t *testing.T) {
	collector := metrics.New()
	h := NewServer(":0", &stubGenerator{}, WithMetrics(collector, "/metrics"), WithoutMetricsRoute()).Handler()

	do(t, h, http.MethodPost, "/api/v1/generate", []byte(`{}`), nil)
	if rec := do(t, h, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics route should not be mounted, got %d", rec.Code)
	}
	if out := scrape(t, collector); !strings.Contains(out, `reviewd_http_requests_total{code="400",handler="generate",method="POST"} 1`) {
		t.Fatalf("requests should still be instrumented:\n%s", out)
	}
}

func scrape(t *testing.T, collector *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}
