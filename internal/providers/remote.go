package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aixgo-dev/datapilot/capability"
)

// maxRemoteResponse bounds the body read from a remote agent.
const maxRemoteResponse = 16 << 20

// Remote calls an externally hosted capability agent over JSON/HTTP:
// POST endpoint {question, shared_state, context} -> {text, data, artifacts}.
type Remote struct {
	endpoint string
	client   *http.Client
	// StateKeys are the shared state entries forwarded to the agent.
	StateKeys []string
}

type remoteRequest struct {
	Question    string            `json:"question"`
	SharedState map[string]any    `json:"shared_state,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

type remoteError struct {
	status int
	body   string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("remote agent returned %d: %s", e.status, e.body)
}

// Retryable reports whether the status is worth retrying.
func (e *remoteError) Retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// NewRemote creates a remote provider. A nil client uses a client with a
// two minute timeout.
func NewRemote(endpoint string, client *http.Client, stateKeys ...string) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Remote{endpoint: endpoint, client: client, StateKeys: stateKeys}
}

// Invoke posts the request and decodes the response.
func (r *Remote) Invoke(ctx context.Context, req capability.ProviderRequest) (*capability.ProviderResponse, error) {
	body := remoteRequest{Question: req.Question, Context: req.Context}
	if req.SharedState != nil && len(r.StateKeys) > 0 {
		body.SharedState = make(map[string]any, len(r.StateKeys))
		for _, k := range r.StateKeys {
			if v, ok := req.SharedState.Get(k); ok {
				body.SharedState[k] = v
			}
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, capability.Permanent(fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, capability.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &remoteError{status: resp.StatusCode, body: string(bytes.TrimSpace(raw))}
	}

	var out capability.ProviderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, capability.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}
