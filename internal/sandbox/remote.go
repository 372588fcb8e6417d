package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"moneywright/internal/logging"
	"moneywright/internal/records"
)

// Error types reported by the sandbox service.
const (
	remoteErrTimeout       = "timeout"
	remoteErrResourceLimit = "resource_limit"
)

// RemoteExecutor ships code and document text to the external sandboxed
// micro-VM. The executed code has no network egress; the service enforces the
// wall-clock budget sent with each request and reports typed errors.
type RemoteExecutor struct {
	baseURL    string
	token      string
	httpClient *http.Client
	budget     time.Duration
}

// NewRemote creates the isolated backend client.
func NewRemote(baseURL, token string, httpTimeout, budget time.Duration) *RemoteExecutor {
	return &RemoteExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		budget: budget,
	}
}

// Name identifies the backend.
func (r *RemoteExecutor) Name() string { return "remote" }

type remoteRequest struct {
	Code         string `json:"code"`
	DocumentText string `json:"document_text"`
	Mode         string `json:"mode"`
	TimeoutMs    int64  `json:"timeout_ms"`
}

type remoteResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// Execute sends the program to the sandbox service and decodes its output.
func (r *RemoteExecutor) Execute(ctx context.Context, code, documentText string, mode records.ParsingMode) (records.Set, error) {
	ctx, cancel := deadlineFor(ctx, r.httpClient.Timeout)
	defer cancel()

	started := time.Now()
	logging.SandboxDebug("[remote] Executing %d bytes of code against %d bytes of text (mode=%s)",
		len(code), len(documentText), mode)

	payload, err := json.Marshal(remoteRequest{
		Code:         code,
		DocumentText: documentText,
		Mode:         string(mode),
		TimeoutMs:    r.budget.Milliseconds(),
	})
	if err != nil {
		return records.Set{}, &ExecutionError{Backend: r.Name(), Reason: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return records.Set{}, &ExecutionError{Backend: r.Name(), Reason: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return records.Set{}, &ExecutionError{
			Backend: r.Name(),
			Reason:  "sandbox request failed",
			Timeout: ctx.Err() != nil,
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return records.Set{}, &ExecutionError{Backend: r.Name(), Reason: "failed to read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return records.Set{}, &ExecutionError{
			Backend: r.Name(),
			Reason:  fmt.Sprintf("sandbox returned status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var result remoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return records.Set{}, &ExecutionError{Backend: r.Name(), Reason: "malformed sandbox response", Err: err}
	}

	if !result.Success {
		return records.Set{}, &ExecutionError{
			Backend: r.Name(),
			Reason:  fmt.Sprintf("sandbox reported %s", orDefault(result.ErrorType, "runtime_error")),
			Timeout: result.ErrorType == remoteErrTimeout,
			Err:     fmt.Errorf("%s", orDefault(result.Error, "no detail")),
		}
	}

	set, err := records.DecodeSet(mode, string(result.Data))
	if err != nil {
		return records.Set{}, &ExecutionError{Backend: r.Name(), Reason: "malformed output", Err: err}
	}

	logging.SandboxDebug("[remote] Execution finished in %s with %d records", time.Since(started), set.Count())
	return set, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
