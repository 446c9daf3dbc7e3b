// Package approvals fetches normalized token-approval records for a wallet
// from a blockchain-explorer collaborator.
package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solsentry/solsentry/internal/risk"
)

// Fetcher is the explorer collaborator contract: wallet + chain in,
// normalized approvals out.
type Fetcher interface {
	FetchApprovals(ctx context.Context, wallet, chain string) ([]risk.TokenApproval, error)
}

// unlimitedThreshold: allowances at or above 2^255 are treated as unlimited
// when the upstream does not say so itself.
var unlimitedThreshold = new(big.Int).Lsh(big.NewInt(1), 255)

// ExplorerOptions parameterise the explorer client.
type ExplorerOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Explorer fetches approvals over the explorer's HTTP API.
type Explorer struct {
	opts   ExplorerOptions
	client *http.Client
}

// NewExplorer constructs an explorer approvals client.
func NewExplorer(opts ExplorerOptions) *Explorer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = "solsentry/1.0"
	}
	return &Explorer{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

type explorerResponse struct {
	Approvals []risk.TokenApproval `json:"approvals"`
}

// FetchApprovals retrieves the wallet's current token approvals on a chain.
func (e *Explorer) FetchApprovals(ctx context.Context, wallet, chain string) ([]risk.TokenApproval, error) {
	endpoint := fmt.Sprintf("%s/api/v1/wallets/%s/approvals?chain=%s",
		e.opts.BaseURL, url.PathEscape(wallet), url.QueryEscape(chain))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build approvals request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.opts.UserAgent)
	if e.opts.APIKey != "" {
		req.Header.Set("X-API-Key", e.opts.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch approvals: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("approvals endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read approvals response: %w", err)
	}

	var parsed explorerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse approvals response: %w", err)
	}

	for i := range parsed.Approvals {
		if !parsed.Approvals[i].IsUnlimited {
			parsed.Approvals[i].IsUnlimited = IsUnlimitedAllowance(parsed.Approvals[i].Allowance)
		}
	}
	return parsed.Approvals, nil
}

// IsUnlimitedAllowance reports whether a raw allowance string is effectively
// unlimited (at or above 2^255).
func IsUnlimitedAllowance(allowance string) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(allowance), 10)
	if !ok {
		return false
	}
	return n.Cmp(unlimitedThreshold) >= 0
}

// ValidWallet reports whether addr is plausible for the given chain:
// EVM chains need a hex address, others a base58-looking account.
func ValidWallet(addr, chain string) bool {
	switch strings.ToLower(chain) {
	case "ethereum", "arbitrum", "optimism", "base", "polygon", "bsc":
		return common.IsHexAddress(addr)
	default:
		l := len(addr)
		return l >= 32 && l <= 44 && !strings.ContainsAny(addr, "0OIl")
	}
}
