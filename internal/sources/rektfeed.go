package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solsentry/solsentry/internal/exploits"
)

// RektFeedOptions parameterise the incident-feed adapter.
type RektFeedOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// RektFeed fetches a curated incident feed that supports server-side
// protocol and chain filters.
type RektFeed struct {
	opts   RektFeedOptions
	client *http.Client
}

// NewRektFeed constructs the incident-feed adapter.
func NewRektFeed(opts RektFeedOptions) *RektFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &RektFeed{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies this source in circuit-breaker state and logs.
func (r *RektFeed) Name() string { return "rekt_feed" }

type rektIncident struct {
	Protocol  string    `json:"protocol"`
	Chain     string    `json:"chain"`
	Severity  string    `json:"severity"`
	LossUSD   float64   `json:"loss_usd"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Vector    string    `json:"vector"`
}

type rektResponse struct {
	Incidents []rektIncident `json:"incidents"`
}

// FetchExploits retrieves incidents, passing the filters upstream.
func (r *RektFeed) FetchExploits(ctx context.Context, protocol, chain string) ([]exploits.Record, error) {
	q := url.Values{}
	if protocol != "" {
		q.Set("protocol", protocol)
	}
	if chain != "" {
		q.Set("chain", chain)
	}

	endpoint := r.opts.BaseURL + "/api/v1/incidents"
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build incidents request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.opts.UserAgent)
	if r.opts.APIKey != "" {
		req.Header.Set("X-API-Key", r.opts.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch incidents: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("incidents endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read incidents response: %w", err)
	}

	var parsed rektResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse incidents response: %w", err)
	}

	records := make([]exploits.Record, 0, len(parsed.Incidents))
	for _, inc := range parsed.Incidents {
		severity := exploits.Severity(strings.ToLower(inc.Severity))
		if !exploits.ValidSeverity(severity) {
			severity = severityFromLoss(inc.LossUSD)
		}
		records = append(records, exploits.Record{
			Protocol:     strings.ToLower(strings.TrimSpace(inc.Protocol)),
			Chain:        strings.ToLower(strings.TrimSpace(inc.Chain)),
			Severity:     severity,
			LossUSD:      inc.LossUSD,
			Timestamp:    inc.Timestamp.UTC(),
			Description:  inc.Summary,
			AttackVector: strings.ToLower(inc.Vector),
		})
	}
	return records, nil
}
