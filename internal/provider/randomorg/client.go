// Package randomorg fetches UUIDs from the random.org JSON-RPC API.
package randomorg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/provider"
)

const (
	// ProviderID names this source in errors and logs.
	ProviderID = "random.org"

	// DefaultEndpoint is the JSON-RPC 4 invoke URL.
	DefaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

	// MaxBatch is the largest n generateUUIDs accepts.
	MaxBatch = 1000

	maxResponseBytes = 1 << 20
)

// QuotaRecorder receives the allowance reported with each successful call.
type QuotaRecorder interface {
	SetProviderQuota(requestsLeft, bitsLeft int64)
}

// Client calls generateUUIDs on random.org.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	quota      QuotaRecorder
}

// Option configures the Client.
type Option func(*Client)

// WithEndpoint overrides the JSON-RPC URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets a logger for allowance reporting.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithQuotaRecorder exports the reported allowance.
func WithQuotaRecorder(r QuotaRecorder) Option {
	return func(c *Client) {
		c.quota = r
	}
}

// New builds a client for the given API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("random.org api key is required")
	}
	c := &Client{
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  uuidsRequest `json:"params"`
	ID      string       `json:"id"`
}

type uuidsRequest struct {
	APIKey string `json:"apiKey"`
	N      int    `json:"n"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  *uuidsResult    `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

type uuidsResult struct {
	Random struct {
		Data           []string `json:"data"`
		CompletionTime string   `json:"completionTime"`
	} `json:"random"`
	BitsUsed      int64 `json:"bitsUsed"`
	BitsLeft      int64 `json:"bitsLeft"`
	RequestsLeft  int64 `json:"requestsLeft"`
	AdvisoryDelay int64 `json:"advisoryDelay"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Generate requests n fresh UUIDs. n must be in [1, MaxBatch].
func (c *Client) Generate(ctx context.Context, n int) ([]string, error) {
	if n < 1 || n > MaxBatch {
		return nil, provider.NewError(provider.ErrorContractMismatch, ProviderID,
			fmt.Sprintf("n must be in [1,%d], got %d", MaxBatch, n), nil)
	}

	callID := uuid.NewString()
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "generateUUIDs",
		Params:  uuidsRequest{APIKey: c.apiKey, N: n},
		ID:      callID,
	})
	if err != nil {
		return nil, provider.NewError(provider.ErrorInternal, ProviderID, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(provider.ErrorInternal, ProviderID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, provider.NewError(provider.ErrorTimeout, ProviderID, "request timed out", err)
		}
		return nil, provider.NewError(provider.ErrorProviderOutage, ProviderID, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, provider.NewError(provider.ErrorProviderOutage, ProviderID, "read response", err)
	}

	values, result, err := parseResponse(resp.StatusCode, raw, callID)
	if err != nil {
		return nil, err
	}

	if c.quota != nil {
		c.quota.SetProviderQuota(result.RequestsLeft, result.BitsLeft)
	}
	c.logger.DebugContext(ctx, "random.org allowance",
		"requests_left", result.RequestsLeft,
		"bits_left", result.BitsLeft,
		"advisory_delay_ms", result.AdvisoryDelay,
	)
	return values, nil
}

// parseResponse maps an HTTP response onto values or a categorized error.
func parseResponse(status int, body []byte, callID string) ([]string, *uuidsResult, error) {
	switch {
	case status == http.StatusTooManyRequests:
		return nil, nil, provider.NewError(provider.ErrorRateLimited, ProviderID, "http 429", nil)
	case status >= 500:
		return nil, nil, provider.NewError(provider.ErrorProviderOutage, ProviderID, fmt.Sprintf("http %d", status), nil)
	case status != http.StatusOK:
		return nil, nil, provider.NewError(provider.ErrorBadData, ProviderID, fmt.Sprintf("unexpected http %d", status), nil)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil, nil, provider.NewError(provider.ErrorBadData, ProviderID, "decode response", err)
	}

	if rpc.Error != nil {
		return nil, nil, provider.NewError(categorizeRPCError(rpc.Error.Code), ProviderID,
			fmt.Sprintf("rpc error %d: %s", rpc.Error.Code, rpc.Error.Message), nil)
	}

	var gotID string
	if err := json.Unmarshal(rpc.ID, &gotID); err != nil || gotID != callID {
		return nil, nil, provider.NewError(provider.ErrorBadData, ProviderID, "response id does not match request", nil)
	}

	if rpc.Result == nil || rpc.Result.Random.Data == nil {
		return nil, nil, provider.NewError(provider.ErrorBadData, ProviderID, "response has no random data", nil)
	}
	for _, v := range rpc.Result.Random.Data {
		if v == "" {
			return nil, nil, provider.NewError(provider.ErrorBadData, ProviderID, "response contains an empty value", nil)
		}
	}
	return rpc.Result.Random.Data, rpc.Result, nil
}

// categorizeRPCError follows the random.org error code table.
func categorizeRPCError(code int) provider.ErrorCategory {
	switch {
	case code == 400 || code == 401:
		// API key not running / does not exist
		return provider.ErrorAuthentication
	case code == 402 || code == 403:
		// daily bits / requests allowance exceeded
		return provider.ErrorRateLimited
	case code <= -32600 && code >= -32700:
		return provider.ErrorContractMismatch
	case code <= -32000 && code >= -32099:
		return provider.ErrorProviderOutage
	default:
		return provider.ErrorBadData
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
