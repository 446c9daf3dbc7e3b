package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Payment is the result of a settled transfer, produced by a PayFunc.
type Payment struct {
	Signature string // transaction signature
	Payer     string // paying address
}

// PayFunc settles the payment an Accept demands and returns proof of it.
// Implementations typically submit a transfer for MaxAmountRequired lamports
// to PayTo and wait until the transaction is finalized.
type PayFunc func(ctx context.Context, accept Accept) (*Payment, error)

// Client wraps http.Client with automatic 402 payment handling. When a
// request comes back 402, the client settles payment through Pay, attaches
// the resulting claim, and retries.
type Client struct {
	httpClient *http.Client

	// Pay settles payments. Required for AutoPay.
	Pay PayFunc

	// Configuration
	MaxRetries  int    // Max payment retries (default: 1)
	AutoPay     bool   // Automatically pay 402s (default: true)
	MaxLamports uint64 // Refuse payments above this amount (default: unlimited)

	// OnPayment is called after each settled payment, before the retry.
	OnPayment func(accept Accept, claim *PaymentClaim)
}

// NewClient creates an x402-enabled HTTP client.
func NewClient(pay PayFunc) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		Pay:        pay,
		MaxRetries: 1,
		AutoPay:    true,
	}
}

// Do performs an HTTP request with automatic 402 payment handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling.
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Buffer the body in case the request has to be retried with a claim.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// Not a 402, return the response as-is.
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}

		if !c.AutoPay {
			return resp, nil
		}
		if c.Pay == nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("received 402 but no PayFunc is configured")
		}

		terms, err := ParsePaymentTerms(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		accept := pickAccept(terms, req.URL.Path)
		claim, err := c.settle(ctx, accept)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		if c.OnPayment != nil {
			c.OnPayment(accept, claim)
		}

		if err := AddClaimToRequest(req, claim); err != nil {
			return nil, fmt.Errorf("failed to attach claim: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// Get performs a GET request with automatic 402 handling.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// settle executes the payment and builds the claim the server expects.
func (c *Client) settle(ctx context.Context, accept Accept) (*PaymentClaim, error) {
	amount, err := strconv.ParseUint(accept.MaxAmountRequired, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", accept.MaxAmountRequired, err)
	}
	if c.MaxLamports > 0 && amount > c.MaxLamports {
		return nil, fmt.Errorf("payment of %d lamports exceeds max %d", amount, c.MaxLamports)
	}

	payment, err := c.Pay(ctx, accept)
	if err != nil {
		return nil, err
	}

	return &PaymentClaim{
		Scheme:    accept.Scheme,
		Network:   accept.Network,
		Amount:    amount,
		Payer:     payment.Payer,
		Recipient: accept.PayTo,
		Signature: payment.Signature,
		Resource:  accept.Resource,
	}, nil
}

// pickAccept chooses the accept entry matching the requested path, falling
// back to the first entry. Servers echo the requested resource's terms first
// in direct 402 responses, so the fallback is almost always right.
func pickAccept(terms *PaymentTerms, path string) Accept {
	for _, a := range terms.Accepts {
		if matchesPath(a.Resource, path) {
			return a
		}
	}
	return terms.Accepts[0]
}

// matchesPath reports whether a concrete request path satisfies a resource
// template. Template parameters ({protocol}) match any single segment; the
// template may be an absolute URL.
func matchesPath(template, path string) bool {
	tSegs := splitPath(stripOrigin(template))
	pSegs := splitPath(path)
	if len(tSegs) != len(pSegs) {
		return false
	}
	for i, t := range tSegs {
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			if pSegs[i] == "" {
				return false
			}
			continue
		}
		if t != pSegs[i] {
			return false
		}
	}
	return true
}

func stripOrigin(resource string) string {
	if i := strings.Index(resource, "://"); i >= 0 {
		rest := resource[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return resource
}

func splitPath(p string) []string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}
