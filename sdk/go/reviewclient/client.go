package reviewclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Model invocations can take tens of seconds, so it is longer than a typical
// REST timeout.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with the reviewd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// GenerateRequest is the payload of a generation call.
type GenerateRequest struct {
	Query       string  `json:"query"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	ModelID     string  `json:"model_id"`
}

// UploadResult describes a stored document.
type UploadResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	Key         string `json:"s3_key"`
	ContentType string `json:"content_type"`
}

// Document is a registry entry returned by ListDocuments.
type Document struct {
	Key         string `json:"s3_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  int64  `json:"uploaded_at"`
}

// Job is an asynchronous generation job.
type Job struct {
	ID        string          `json:"id"`
	Request   GenerateRequest `json:"request"`
	Status    string          `json:"status"`
	Answer    string          `json:"answer,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("reviewd api error (%d): %s", e.StatusCode, e.Message)
}

// GenerationError is returned when the gateway reports a failure. The server
// answers these with status 200 and an error envelope.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Message
}

// NewClient instantiates a client for the reviewd API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the X-Api-Key header sent with every request. API gateways in
// front of reviewd typically require it.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// Generate runs a synchronous generation and returns the answer text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var out struct {
		Answer *string `json:"answer"`
		Error  *string `json:"error"`
	}
	if err := c.postJSON(ctx, "/api/v1/generate", req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", &GenerationError{Message: *out.Error}
	}
	if out.Answer == nil {
		return "", errors.New("reviewclient: response carries neither answer nor error")
	}
	return *out.Answer, nil
}

// Upload stores a document. filename may be empty, in which case the server
// assigns a .pdf key.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (UploadResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/upload", nil, bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if filename != "" {
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	var out UploadResult
	if err := c.do(req, &out); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

// ListDocuments returns the most recent uploads.
func (c *Client) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []Document
	if err := c.get(ctx, "/api/v1/documents", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitJob enqueues an asynchronous generation.
func (c *Client) SubmitJob(ctx context.Context, req GenerateRequest) (Job, error) {
	var job Job
	if err := c.postJSON(ctx, "/api/v1/generations", req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/generations/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitForJob polls GetJob until the job finishes or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
