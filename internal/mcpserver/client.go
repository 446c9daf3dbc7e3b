package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the SolSentry API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"

	// PaymentHeader is a pre-built X-PAYMENT value (base64 payment claim).
	// Without it, priced calls come back as 402 and the tools surface the
	// payment terms instead of data.
	PaymentHeader string
}

// ErrPaymentRequired is returned for 402 responses, carrying the raw
// discovery/accepts body so tools can show payment terms.
type ErrPaymentRequired struct {
	Body json.RawMessage
}

func (e *ErrPaymentRequired) Error() string {
	return "payment required"
}

// SolSentryClient is a pure HTTP client for the SolSentry API.
type SolSentryClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSolSentryClient creates a new client for the SolSentry API.
func NewSolSentryClient(cfg Config) *SolSentryClient {
	return &SolSentryClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *SolSentryClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.PaymentHeader != "" {
		req.Header.Set("X-PAYMENT", c.cfg.PaymentHeader)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, &ErrPaymentRequired{Body: json.RawMessage(respBody)}
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetRiskScore fetches the composite risk score for a protocol.
func (c *SolSentryClient) GetRiskScore(ctx context.Context, protocol string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/risk-score/"+url.PathEscape(protocol), nil, nil)
}

// ListExploits fetches exploit records, optionally filtered.
func (c *SolSentryClient) ListExploits(ctx context.Context, protocol, chain string) (json.RawMessage, error) {
	q := url.Values{}
	if protocol != "" {
		q.Set("protocol", protocol)
	}
	if chain != "" {
		q.Set("chain", chain)
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/exploits", q, nil)
}

// AuditApprovals runs an approval audit for a wallet.
func (c *SolSentryClient) AuditApprovals(ctx context.Context, wallet, chain string) (json.RawMessage, error) {
	body := map[string]string{"wallet": wallet}
	if chain != "" {
		body["chain"] = chain
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/approval-audit", nil, body)
}

// GetPaymentInfo fetches the x402 discovery document. Discovery is served
// with a 402 status, so the payment-required error path carries the body.
func (c *SolSentryClient) GetPaymentInfo(ctx context.Context) (json.RawMessage, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/.well-known/x402", nil, nil)
	var pr *ErrPaymentRequired
	if errors.As(err, &pr) {
		return pr.Body, nil
	}
	return nil, err
}
