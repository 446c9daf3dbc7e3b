// Package sources contains the upstream exploit-data adapters. Each adapter
// normalizes one provider's feed into exploits.Record and is independently
// failable behind the data service's circuit breaker.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solsentry/solsentry/internal/exploits"
)

const defaultUserAgent = "solsentry/1.0"

// LlamaHacksOptions parameterise the DeFiLlama hacks adapter.
type LlamaHacksOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// LlamaHacks fetches the DeFiLlama hacks dataset. The upstream has no
// server-side filters, so protocol/chain filtering happens locally.
type LlamaHacks struct {
	opts   LlamaHacksOptions
	client *http.Client
}

// NewLlamaHacks constructs the DeFiLlama hacks adapter.
func NewLlamaHacks(opts LlamaHacksOptions) *LlamaHacks {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.llama.fi"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &LlamaHacks{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies this source in circuit-breaker state and logs.
func (l *LlamaHacks) Name() string { return "llama_hacks" }

type llamaHack struct {
	Name           string  `json:"name"`
	Chain          string  `json:"chain"`
	Date           int64   `json:"date"` // unix seconds
	Amount         float64 `json:"amount"`
	Technique      string  `json:"technique"`
	Classification string  `json:"classification"`
}

// FetchExploits retrieves and normalizes the hacks dataset.
func (l *LlamaHacks) FetchExploits(ctx context.Context, protocol, chain string) ([]exploits.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.opts.BaseURL+"/hacks", nil)
	if err != nil {
		return nil, fmt.Errorf("build hacks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", l.opts.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hacks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hacks endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read hacks response: %w", err)
	}

	var hacks []llamaHack
	if err := json.Unmarshal(body, &hacks); err != nil {
		return nil, fmt.Errorf("parse hacks response: %w", err)
	}

	records := make([]exploits.Record, 0, len(hacks))
	for _, h := range hacks {
		rec := exploits.Record{
			Protocol:     strings.ToLower(strings.TrimSpace(h.Name)),
			Chain:        strings.ToLower(strings.TrimSpace(h.Chain)),
			Severity:     severityFromLoss(h.Amount),
			LossUSD:      h.Amount,
			Timestamp:    time.Unix(h.Date, 0).UTC(),
			Description:  h.Classification,
			AttackVector: strings.ToLower(h.Technique),
		}
		if !matchesFilter(rec, protocol, chain) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// severityFromLoss maps a USD loss onto a severity bucket for upstreams
// that do not classify incidents themselves.
func severityFromLoss(lossUSD float64) exploits.Severity {
	switch {
	case lossUSD >= 50_000_000:
		return exploits.SeverityCritical
	case lossUSD >= 10_000_000:
		return exploits.SeverityHigh
	case lossUSD >= 1_000_000:
		return exploits.SeverityMedium
	default:
		return exploits.SeverityLow
	}
}

func matchesFilter(rec exploits.Record, protocol, chain string) bool {
	if protocol != "" && !strings.EqualFold(rec.Protocol, protocol) {
		return false
	}
	if chain != "" && !strings.EqualFold(rec.Chain, chain) {
		return false
	}
	return true
}
