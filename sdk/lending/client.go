// Package lending provides a Go client for the lending JSON-RPC API.
package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const jsonRPCVersion = "2.0"

// Error codes returned by the RPC server. Codes above -32100 follow the
// JSON-RPC reservations; the -320xx block carries module outcomes.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeUnauthorized      = -32001
	CodeServerError       = -32000
	CodeLedgerBusy        = -32010
	CodeRateLimited       = -32020
	CodeCapacityExceeded  = -32030
	CodeRiskRejected      = -32031
	CodeOracleUnavailable = -32032
	CodeStateConflict     = -32033
)

// RPCError is a structured failure reported by the server. Callers can
// inspect Code to distinguish validation problems from capacity or risk
// rejections.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "lending: unknown rpc error"
	}
	return fmt.Sprintf("lending rpc error %d: %s", e.Code, e.Message)
}

// Client talks to a lending RPC endpoint over HTTP.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	authToken  string
	nextID     int64
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken attaches a bearer token to every request. Mutating
// methods are rejected by the server without one.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New builds a client for the given endpoint, e.g. "https://node:8545".
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("lending: endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("lending: parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("lending: endpoint must include scheme and host")
	}
	client := &Client{
		endpoint:   parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call posts a single JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if c == nil || c.endpoint == nil {
		return fmt.Errorf("lending: client not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	encoded := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		raw, err := json.Marshal(param)
		if err != nil {
			return fmt.Errorf("lending: encode params for %s: %w", method, err)
		}
		encoded = append(encoded, raw)
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      atomic.AddInt64(&c.nextID, 1),
		Method:  method,
		Params:  encoded,
	})
	if err != nil {
		return fmt.Errorf("lending: encode request for %s: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("lending: build request for %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("lending: %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("lending: read %s response: %w", method, err)
	}
	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lending: %s failed with status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("lending: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lending: %s failed with status %d", method, resp.StatusCode)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("lending: decode %s result: %w", method, err)
		}
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("lending: %s required", name)
	}
	return nil
}
