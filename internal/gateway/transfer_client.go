// Package gateway wraps the external money-transfer API. The payout
// dispatcher only sees TransferClient and the retryable/permanent error
// split; the provider's wire format stays behind this boundary.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// TransferRequest is one outbound transfer attempt. IdempotencyKey is stable
// across retries of the same transfer record so the gateway also de-duplicates.
type TransferRequest struct {
	DestinationAccount string `json:"destinationAccount"`
	AmountCents        int64  `json:"amountCents"`
	Currency           string `json:"currency"`
	IdempotencyKey     string `json:"-"`
}

// TransferResult carries the gateway's transfer id on success.
type TransferResult struct {
	ExternalTransferID string `json:"transferId"`
}

// GatewayError classifies a failed transfer call. Retryable failures are
// re-claimed up to the attempt budget; permanent ones park the transfer for
// operator intervention.
type GatewayError struct {
	Retryable bool
	Reason    string
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("transfer gateway %s failure: %s", kind, e.Reason)
}

// TransferClient submits transfers to the external money-movement provider.
type TransferClient interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// HTTPTransferClient is the production TransferClient over the provider's
// HTTP API.
type HTTPTransferClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPTransferClient(timeout time.Duration) *HTTPTransferClient {
	baseURL := "https://api.transfergateway.example.com"
	if env := os.Getenv("TRANSFER_GATEWAY_URL"); env != "" {
		baseURL = env
	}
	return &HTTPTransferClient{
		baseURL: baseURL,
		apiKey:  os.Getenv("TRANSFER_GATEWAY_API_KEY"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Transfer performs exactly one API call. Timeouts, connection errors, 429
// and 5xx responses classify as retryable; any other non-2xx response is
// permanent.
func (c *HTTPTransferClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &GatewayError{Retryable: false, Reason: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Retryable: false, Reason: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &GatewayError{Retryable: true, Reason: "operation timeout"}
		}
		return nil, &GatewayError{Retryable: true, Reason: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Retryable: true, Reason: err.Error()}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result TransferResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, &GatewayError{Retryable: false, Reason: "unparseable gateway response"}
		}
		if result.ExternalTransferID == "" {
			return nil, &GatewayError{Retryable: false, Reason: "gateway response missing transfer id"}
		}
		return &result, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &GatewayError{
			Retryable: true,
			Reason:    fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	default:
		return nil, &GatewayError{
			Retryable: false,
			Reason:    fmt.Sprintf("gateway rejected transfer with %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
