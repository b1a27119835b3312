package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/promptlane/agentloop/internal/sse"
)

// Transport sends one JSON-RPC request and returns the raw response.
// Implementations must be safe for concurrent use.
type Transport interface {
	Call(ctx context.Context, req json.RawMessage) (json.RawMessage, error)
	Close() error
}

// HTTPTransport posts JSON-RPC requests to a remote MCP tool server over
// streamable HTTP, authenticating with an optional bearer credential.
type HTTPTransport struct {
	URL         string
	BearerToken string
	Headers     map[string]string

	// Client defaults to a 60s timeout client when nil.
	Client *http.Client

	mu              sync.Mutex
	protocolVersion string
	sessionID       string
}

func (t *HTTPTransport) Call(ctx context.Context, req json.RawMessage) (json.RawMessage, error) {
	if t == nil || t.URL == "" {
		return nil, fmt.Errorf("mcp: http transport url is required")
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")
	// Streamable HTTP requires clients advertise both response types.
	r.Header.Set("Accept", "application/json, text/event-stream")
	if t.BearerToken != "" {
		r.Header.Set("Authorization", "Bearer "+t.BearerToken)
	}
	for k, v := range t.Headers {
		if v != "" {
			r.Header.Set(k, v)
		}
	}

	t.mu.Lock()
	if t.protocolVersion != "" {
		r.Header.Set("MCP-Protocol-Version", t.protocolVersion)
	}
	if t.sessionID != "" {
		r.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &HTTPStatusError{URL: t.URL, StatusCode: resp.StatusCode, Body: b}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}
	return io.ReadAll(resp.Body)
}

// readSSEResponse scans an event-stream body for the first JSON-RPC
// response envelope (a payload carrying a result or error).
func readSSEResponse(body io.Reader) (json.RawMessage, error) {
	dec := sse.NewDecoder(body)
	for dec.Next() {
		data := dec.Data()
		var probe struct {
			Result json.RawMessage `json:"result"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		if len(probe.Result) > 0 || len(probe.Error) > 0 {
			return append(json.RawMessage(nil), data...), nil
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("mcp: event stream ended without a response")
}

// SetProtocolVersion records the version negotiated during initialize; it is
// echoed on later requests.
func (t *HTTPTransport) SetProtocolVersion(v string) {
	t.mu.Lock()
	t.protocolVersion = v
	t.mu.Unlock()
}

func (t *HTTPTransport) Close() error { return nil }
