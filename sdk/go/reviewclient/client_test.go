package reviewclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateReturnsAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("api key not forwarded")
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "echo:" + req.Query})
	})
	client.SetAPIKey("secret")

	answer, err := client.Generate(context.Background(), GenerateRequest{Query: "hi", MaxTokens: 8, ModelID: "m"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "echo:hi" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestGenerateSurfacesErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model invocation failed: throttled"})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Query: "hi", MaxTokens: 8})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Message != "model invocation failed: throttled" {
		t.Fatalf("expected generation error, got %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"No file data received"}`)
	})

	_, err := client.Upload(context.Background(), "", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "No file data received" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestUploadSendsFilename(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Disposition"); got != `attachment; filename="nda.docx"` {
			t.Errorf("unexpected disposition: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("unexpected body: %q", body)
		}
		_ = json.NewEncoder(w).Encode(UploadResult{Success: true, Key: "uploaded_documents/x_nda.docx", ContentType: "application/msword"})
	})

	result, err := client.Upload(context.Background(), "nda.docx", []byte("payload"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !result.Success || result.ContentType != "application/msword" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWaitForJobPollsUntilFinished(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generations/job-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		status := "running"
		if polls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Status: status, Answer: "done"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := client.WaitForJob(ctx, "job-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != "succeeded" || polls.Load() != 3 {
		t.Fatalf("unexpected job %+v after %d polls", job, polls.Load())
	}
}

func TestListDocumentsQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Document{{Key: "k", Size: 10}})
	})

	docs, err := client.ListDocuments(context.Background(), 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Size != 10 {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
