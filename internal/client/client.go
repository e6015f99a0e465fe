// Package client implements the worker's HTTP client against the control
// plane described in spec.md §6.1, built on hashicorp/go-retryablehttp so
// transient network failures (spec.md §7's DependencyUnavailable: "control
// plane unreachable from worker; transient; worker logs and retries next
// poll cycle") are retried transparently instead of failing the whole
// poll cycle. Grounded on the teacher's pkg/transport/http client wiring
// (custom http.RoundTripper composition), generalised from Git
// object-transfer requests to the invocation/logs/files REST surface.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Client is a worker's handle to one control plane.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		logrus.Warnf("client: request failed after %d attempts: %v", numTries, err)
		return resp, err
	}
	return &Client{baseURL: baseURL, http: rc}
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return resp, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

// do performs a JSON request/response round trip, closing the body once
// decoded. Use raw for endpoints that return a byte stream instead.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("client: decode response: %w", err)
		}
	}
	return resp, nil
}

// raw performs a request, reads the whole body, closes it, and returns the
// bytes read.
func (c *Client) raw(ctx context.Context, method, path string) ([]byte, error) {
	resp, err := c.request(ctx, method, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// StatusError reports a non-2xx HTTP response, carrying the raw body so
// callers can surface spec.md §6.1's {reason} / {error} payloads.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: http %d: %s", e.Status, e.Body)
}

// CallArguments is the {args, kwargs} shape spec.md §6.1's POST /api/call
// body nests arguments under.
type CallArguments struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// CreateCallRequest is POST /api/call's body.
type CreateCallRequest struct {
	CallerID     string        `json:"caller_id,omitempty"`
	FunctionName string        `json:"function_name"`
	Arguments    CallArguments `json:"arguments"`
	RepoName     string        `json:"repo_name"`
	CommitHash   string        `json:"commit_hash"`
	WorkflowFile string        `json:"workflow_file"`
}

// CreateCall implements POST /api/call.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (string, error) {
	var out struct {
		InvocationID string `json:"invocation_id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/call", req, &out); err != nil {
		return "", err
	}
	return out.InvocationID, nil
}

// CallState is GET /api/call/{id}'s response shape.
type CallState struct {
	InvocationID string `json:"invocation_id"`
	FunctionName string `json:"function_name"`
	Arguments    any    `json:"arguments"`
	RepoName     string `json:"repo_name"`
	CommitHash   string `json:"commit_hash"`
	WorkflowFile string `json:"workflow_file"`
	ParentID     string `json:"parent_id,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	ResultValue  any    `json:"result_value,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// GetCall implements GET /api/call/{id}.
func (c *Client) GetCall(ctx context.Context, id string) (*CallState, error) {
	var out CallState
	if _, err := c.do(ctx, http.MethodGet, "/api/call/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollPending implements GET /api/calls?status=pending&limit=N.
func (c *Client) PollPending(ctx context.Context, limit int) ([]CallState, error) {
	var out struct {
		Calls []CallState `json:"calls"`
	}
	path := fmt.Sprintf("/api/calls?status=pending&limit=%d", limit)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// Start implements POST /api/call/{id}/start. A 409 surfaces as
// *StatusError{Status: 409}, mapped by callers to a lost claim race.
func (c *Client) Start(ctx context.Context, id, workerID string) error {
	body := map[string]string{"worker_id": workerID}
	_, err := c.do(ctx, http.MethodPost, "/api/call/"+id+"/start", body, nil)
	return err
}

// Finish implements POST /api/call/{id}/finish.
func (c *Client) Finish(ctx context.Context, id string, ok bool, result any, errMsg string) error {
	status := "completed"
	if !ok {
		status = "failed"
	}
	body := map[string]any{"status": status}
	if ok {
		body["result"] = result
	} else {
		body["error"] = errMsg
	}
	_, err := c.do(ctx, http.MethodPost, "/api/call/"+id+"/finish", body, nil)
	return err
}

// LogEntry is one element of POST /api/stages/{id}/logs's body.
type LogEntry struct {
	Index     int64  `json:"index"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// PushLogs implements POST /api/stages/{id}/logs.
func (c *Client) PushLogs(ctx context.Context, stageRunID string, logs []LogEntry) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	body := map[string]any{"logs": logs}
	if _, err := c.do(ctx, http.MethodPost, "/api/stages/"+stageRunID+"/logs", body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// WriteFile implements POST /api/stages/{id}/files.
func (c *Client) WriteFile(ctx context.Context, stageRunID, filePath string, data []byte) (stageFileID, contentHash string, err error) {
	var out struct {
		StageFileID string `json:"stage_file_id"`
		ContentHash string `json:"content_hash"`
	}
	body := map[string]string{
		"file_path":      filePath,
		"content_base64": base64.StdEncoding.EncodeToString(data),
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/stages/"+stageRunID+"/files", body, &out); err != nil {
		return "", "", err
	}
	return out.StageFileID, out.ContentHash, nil
}

// ReadFile implements GET /api/stages/{id}/files/{file_path}.
func (c *Client) ReadFile(ctx context.Context, stageRunID, filePath string) ([]byte, error) {
	return c.raw(ctx, http.MethodGet, "/api/stages/"+stageRunID+"/files/"+filePath)
}

// FetchWorkflowFile implements GET
// /api/repos/{repo_name}/blob/{commit_hash}/{file_path...}, the worker's
// code-fetch step (spec.md §4.6).
func (c *Client) FetchWorkflowFile(ctx context.Context, repoName, commitHash, filePath string) ([]byte, error) {
	path := fmt.Sprintf("/api/repos/%s/blob/%s/%s", repoName, commitHash, filePath)
	return c.raw(ctx, http.MethodGet, path)
}
