package randomorg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsaxking/uuid-microservice/internal/provider"
)

type recordedQuota struct {
	requestsLeft, bitsLeft int64
	calls                  int
}

func (r *recordedQuota) SetProviderQuota(requestsLeft, bitsLeft int64) {
	r.requestsLeft, r.bitsLeft = requestsLeft, bitsLeft
	r.calls++
}

// fakeRandomOrg answers generateUUIDs calls; respond customises the reply.
func fakeRandomOrg(t *testing.T, respond func(w http.ResponseWriter, req rpcRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		respond(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeResult(w http.ResponseWriter, id string, data []string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"result": map[string]any{
			"random":        map[string]any{"data": data, "completionTime": "2024-01-01 00:00:00Z"},
			"bitsUsed":      122 * len(data),
			"bitsLeft":      249000,
			"requestsLeft":  999,
			"advisoryDelay": 0,
		},
		"id": id,
	})
}

func writeRPCError(w http.ResponseWriter, id string, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": code, "message": msg},
		"id":      id,
	})
}

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("key")
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("sends generateUUIDs with key and n", func(t *testing.T) {
		var got rpcRequest
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			got = req
			data := make([]string, req.Params.N)
			for i := range data {
				data[i] = fmt.Sprintf("uuid-%d", i)
			}
			writeResult(w, req.ID, data)
		})
		quota := &recordedQuota{}
		c, err := New("secret", WithEndpoint(srv.URL), WithQuotaRecorder(quota))
		require.NoError(t, err)

		values, err := c.Generate(ctx, 3)
		require.NoError(t, err)

		assert.Equal(t, []string{"uuid-0", "uuid-1", "uuid-2"}, values)
		assert.Equal(t, "2.0", got.JSONRPC)
		assert.Equal(t, "generateUUIDs", got.Method)
		assert.Equal(t, "secret", got.Params.APIKey)
		assert.Equal(t, 3, got.Params.N)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, 1, quota.calls)
		assert.Equal(t, int64(999), quota.requestsLeft)
		assert.Equal(t, int64(249000), quota.bitsLeft)
	})

	t.Run("rejects n outside provider bounds without calling", func(t *testing.T) {
		called := false
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) { called = true })
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 0)
		assert.Equal(t, provider.ErrorContractMismatch, provider.GetCategory(err))
		_, err = c.Generate(ctx, MaxBatch+1)
		assert.Equal(t, provider.ErrorContractMismatch, provider.GetCategory(err))
		assert.False(t, called)
	})

	t.Run("allowance exceeded is rate limited", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			writeRPCError(w, req.ID, 403, "Your daily request allowance has been exceeded")
		})
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 5)
		require.Error(t, err)
		assert.Equal(t, provider.ErrorRateLimited, provider.GetCategory(err))
		assert.True(t, provider.IsRetryable(err))
	})

	t.Run("bad key is an authentication error", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			writeRPCError(w, req.ID, 400, "The API key you specified does not exist")
		})
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 5)
		assert.Equal(t, provider.ErrorAuthentication, provider.GetCategory(err))
		assert.False(t, provider.IsRetryable(err))
	})

	t.Run("server error is an outage", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 5)
		assert.Equal(t, provider.ErrorProviderOutage, provider.GetCategory(err))
	})

	t.Run("malformed body is bad data", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":`))
		})
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 5)
		assert.Equal(t, provider.ErrorBadData, provider.GetCategory(err))
	})

	t.Run("mismatched response id is bad data", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			writeResult(w, "someone-else", []string{"a"})
		})
		c, err := New("secret", WithEndpoint(srv.URL))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 1)
		assert.Equal(t, provider.ErrorBadData, provider.GetCategory(err))
	})

	t.Run("slow provider times out", func(t *testing.T) {
		srv := fakeRandomOrg(t, func(w http.ResponseWriter, req rpcRequest) {
			time.Sleep(200 * time.Millisecond)
			writeResult(w, req.ID, []string{"late"})
		})
		c, err := New("secret", WithEndpoint(srv.URL), WithTimeout(20*time.Millisecond))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 1)
		assert.Equal(t, provider.ErrorTimeout, provider.GetCategory(err))
	})

	t.Run("unreachable endpoint is an outage", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, err := New("secret", WithEndpoint(url))
		require.NoError(t, err)

		_, err = c.Generate(ctx, 1)
		assert.Equal(t, provider.ErrorProviderOutage, provider.GetCategory(err))
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("missing data is bad data", func(t *testing.T) {
		_, _, err := parseResponse(http.StatusOK, []byte(`{"jsonrpc":"2.0","result":{"random":{}},"id":"x"}`), "x")
		assert.Equal(t, provider.ErrorBadData, provider.GetCategory(err))
	})

	t.Run("empty value is bad data", func(t *testing.T) {
		_, _, err := parseResponse(http.StatusOK, []byte(`{"jsonrpc":"2.0","result":{"random":{"data":["a",""]}},"id":"x"}`), "x")
		assert.Equal(t, provider.ErrorBadData, provider.GetCategory(err))
	})

	t.Run("http 429 is rate limited", func(t *testing.T) {
		_, _, err := parseResponse(http.StatusTooManyRequests, nil, "x")
		assert.Equal(t, provider.ErrorRateLimited, provider.GetCategory(err))
	})

	t.Run("json-rpc invalid params is a contract mismatch", func(t *testing.T) {
		_, _, err := parseResponse(http.StatusOK, []byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":"x"}`), "x")
		assert.Equal(t, provider.ErrorContractMismatch, provider.GetCategory(err))
	})
}
