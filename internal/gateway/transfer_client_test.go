package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(server *httptest.Server) *HTTPTransferClient {
	return &HTTPTransferClient{
		baseURL: server.URL,
		apiKey:  "test-key",
		client:  server.Client(),
	}
}

func sampleRequest() TransferRequest {
	return TransferRequest{
		DestinationAccount: "acct:u1",
		AmountCents:        5000,
		Currency:           "USD",
		IdempotencyKey:     "payout:c1:u1",
	}
}

func TestHTTPTransferClient_Transfer(t *testing.T) {
	t.Run("successful transfer returns the external id", func(t *testing.T) {
		var gotPath, gotIdemKey, gotAuth string
		var gotBody TransferRequest

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotIdemKey = r.Header.Get("Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(map[string]string{"transferId": "ext_42"})
		}))
		defer server.Close()

		result, err := clientFor(server).Transfer(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, "ext_42", result.ExternalTransferID)
		assert.Equal(t, "/v1/transfers", gotPath)
		assert.Equal(t, "payout:c1:u1", gotIdemKey)
		assert.Equal(t, "Bearer test-key", gotAuth)
		assert.Equal(t, "acct:u1", gotBody.DestinationAccount)
		assert.Equal(t, int64(5000), gotBody.AmountCents)
	})

	t.Run("5xx classifies as retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := clientFor(server).Transfer(context.Background(), sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.True(t, gerr.Retryable)
		assert.Contains(t, gerr.Reason, "503")
	})

	t.Run("429 classifies as retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := clientFor(server).Transfer(context.Background(), sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.True(t, gerr.Retryable)
	})

	t.Run("4xx classifies as permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "account closed", http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		_, err := clientFor(server).Transfer(context.Background(), sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.False(t, gerr.Retryable)
		assert.Contains(t, gerr.Reason, "account closed")
	})

	t.Run("context deadline classifies as retryable timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := clientFor(server).Transfer(ctx, sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.True(t, gerr.Retryable)
		assert.Equal(t, "operation timeout", gerr.Reason)
	})

	t.Run("connection failure classifies as retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := &HTTPTransferClient{
			baseURL: server.URL,
			apiKey:  "test-key",
			client:  &http.Client{Timeout: time.Second},
		}
		_, err := client.Transfer(context.Background(), sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.True(t, gerr.Retryable)
	})

	t.Run("2xx without a transfer id is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer server.Close()

		_, err := clientFor(server).Transfer(context.Background(), sampleRequest())
		var gerr *GatewayError
		require.ErrorAs(t, err, &gerr)
		assert.False(t, gerr.Retryable)
	})
}

func TestGatewayError_Error(t *testing.T) {
	retryable := &GatewayError{Retryable: true, Reason: "timeout"}
	assert.Contains(t, retryable.Error(), "retryable")

	permanent := &GatewayError{Retryable: false, Reason: "rejected"}
	assert.Contains(t, permanent.Error(), "permanent")

	var target *GatewayError
	assert.True(t, errors.As(error(retryable), &target))
}
