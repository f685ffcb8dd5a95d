package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// toolCallTimeout is the fixed tools/call timeout of spec §5.
const toolCallTimeout = 30 * time.Second

// candidateEndpoints are probed in order until one answers (spec §4.4).
var candidateEndpoints = []string{"/mcp", "/message", "/"}

// transport is a JSON-RPC-2.0-over-HTTP client bound to one server, once
// an answering endpoint has been found.
type transport struct {
	client   *http.Client
	endpoint string
}

// dialTransport probes baseURL+candidateEndpoints with an `initialize`
// call is NOT performed here (that is the Client's job); instead it
// probes with a lightweight `ping` so a non-answering endpoint is
// detected before the real handshake begins.
func dialTransport(ctx context.Context, baseURL string) (*transport, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	var lastErr error
	for _, suffix := range candidateEndpoints {
		endpoint := strings.TrimRight(baseURL, "/") + suffix
		t := &transport{client: client, endpoint: endpoint}
		if _, err := t.call(ctx, "ping", nil, 5*time.Second); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("mcp: no endpoint answered under %s: %w", baseURL, lastErr)
}

// call issues one JSON-RPC request and returns its raw result field.
func (t *transport) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = toolCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcp: http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("mcp: malformed response body: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp: %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	return rpcResp.Result, nil
}
