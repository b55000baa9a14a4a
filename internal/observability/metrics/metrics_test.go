package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContractReview/internal/llm"
	"ContractReview/internal/task"
)

func TestCollectorRecordsDomainEvents(t *testing.T) {
	c := New()

	c.ObserveInvocation(llm.KindMistral, "success", 120*time.Millisecond)
	c.ObserveInvocation(llm.KindMistral, "success", 80*time.Millisecond)
	c.ObserveInvocation(llm.KindClaude, "backend_invocation_failure", time.Second)
	c.ObserveUpload("success", 2048)
	c.ObserveUpload("upload_empty_body", 0)
	c.ObserveJob(task.StatusPending)
	c.ObserveJob(task.StatusSucceeded)
	c.ObserveBreakerState("model-a", gobreaker.StateClosed, gobreaker.StateOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.invocations.WithLabelValues("mistral", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("claude", "backend_invocation_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("upload_empty_body")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.breakerState.WithLabelValues("model-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerTransitions.WithLabelValues("model-a", "open")))
}

func TestInstrumentCountsStatusCodes(t *testing.T) {
	c := New()
	handler := c.Instrument("generate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))

	for _, target := range []string{"/", "/", "/?fail=1"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, target, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("generate", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("generate", "POST", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpErrors.WithLabelValues("generate", "POST")))
}

func TestHandlerExposesTextFormat(t *testing.T) {
	c := New()
	c.ObserveJob(task.StatusFailed)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `reviewd_generation_jobs_total{status="failed"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveJob(task.StatusPending)
	c.ObserveUpload("success", 1)
	c.ObserveHTTPRequest("x", "GET", 200, time.Millisecond)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	rec := httptest.NewRecorder()
	c.Instrument("x", next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartServerServesConfiguredPath(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New()
	c.ObserveJob(task.StatusFailed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StartServer(ctx, addr, "/internal/metrics") }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/internal/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		body = string(raw)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, `reviewd_generation_jobs_total{status="failed"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	assert.Error(t, New().StartServer(context.Background(), "", ""))
}
