package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"optiondesk/internal/domain"
)

const maxResponseBytes = 8 << 20

// BackendClient posts JSON commands to the trading backend. It implements
// domain.Transport.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     domain.TokenSource
	logger     *slog.Logger
}

// NewBackendClient creates a client for baseURL. tokens may be nil until a
// SessionGate exists; see SetTokenSource.
func NewBackendClient(baseURL string, timeout time.Duration, tokens domain.TokenSource) *BackendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		tokens: tokens,
		logger: slog.Default().With("module", "backend_client"),
	}
}

// SetTokenSource wires the session token provider.
func (c *BackendClient) SetTokenSource(tokens domain.TokenSource) {
	c.tokens = tokens
}

// Send posts payload as JSON to endpoint and returns the response body.
// Connection failures and 5xx answers are retriable NetworkErrors, other
// non-2xx answers are fatal ones. A nil payload is sent as {}.
func (c *BackendClient) Send(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewFatalNetworkError(endpoint, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewFatalNetworkError(endpoint, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewNetworkError(endpoint, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("Backend request",
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 500:
		return nil, domain.NewNetworkError(endpoint, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody)))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewFatalNetworkError(endpoint, fmt.Errorf("status=%d: %w", resp.StatusCode, domain.ErrNotAuthenticated))
	case resp.StatusCode >= 300:
		return nil, domain.NewFatalNetworkError(endpoint, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody)))
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
