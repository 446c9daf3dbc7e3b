// Package solana implements the chain-lookup collaborator for payment
// verification: resolving a transaction signature to a finalized SOL
// transfer via JSON-RPC.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/x402"
)

// Client looks up transactions against a Solana RPC node. It reports the
// lamports credited to the configured payment wallet by a given signature.
type Client struct {
	rpcURL string
	wallet string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a chain-lookup client. timeout bounds each RPC call.
func NewClient(rpcURL, wallet string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		rpcURL: rpcURL,
		wallet: wallet,
		http:   &http.Client{Timeout: timeout},
		logger: logging.Component(logger, "solana_rpc"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type getTransactionResponse struct {
	Result *struct {
		Meta *struct {
			Err          any      `json:"err"`
			PreBalances  []uint64 `json:"preBalances"`
			PostBalances []uint64 `json:"postBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// Lookup resolves a signature at finalized commitment. A transaction that
// does not exist, failed, or credited nothing to the payment wallet comes
// back unconfirmed; transport and RPC failures wrap
// x402.ErrChainLookupUnavailable so callers treat them as transient.
func (c *Client) Lookup(ctx context.Context, signature string) (x402.TransferResult, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{signature, map[string]any{
			"commitment":                     "finalized",
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		}},
	})
	if err != nil {
		return x402.TransferResult{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return x402.TransferResult{}, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return x402.TransferResult{}, fmt.Errorf("%w: %w", x402.ErrChainLookupUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return x402.TransferResult{}, fmt.Errorf("%w: rpc returned %d", x402.ErrChainLookupUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return x402.TransferResult{}, fmt.Errorf("%w: read rpc response: %w", x402.ErrChainLookupUnavailable, err)
	}

	var parsed getTransactionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return x402.TransferResult{}, fmt.Errorf("%w: parse rpc response: %w", x402.ErrChainLookupUnavailable, err)
	}
	if parsed.Error != nil {
		return x402.TransferResult{}, fmt.Errorf("%w: rpc error %d: %s", x402.ErrChainLookupUnavailable, parsed.Error.Code, parsed.Error.Message)
	}

	// No result at finalized commitment: unknown signature, definitive.
	if parsed.Result == nil || parsed.Result.Meta == nil {
		return x402.TransferResult{}, nil
	}
	if parsed.Result.Meta.Err != nil {
		c.logger.Debug("transaction failed on chain", "signature", signature)
		return x402.TransferResult{}, nil
	}

	credited := c.creditedLamports(
		parsed.Result.Transaction.Message.AccountKeys,
		parsed.Result.Meta.PreBalances,
		parsed.Result.Meta.PostBalances,
	)
	if credited == 0 {
		return x402.TransferResult{}, nil
	}

	return x402.TransferResult{
		Confirmed: true,
		Lamports:  credited,
		Recipient: c.wallet,
	}, nil
}

// creditedLamports returns the balance increase of the payment wallet
// across the transaction, zero if the wallet was not credited.
func (c *Client) creditedLamports(keys []string, pre, post []uint64) uint64 {
	for i, key := range keys {
		if key != c.wallet {
			continue
		}
		if i >= len(pre) || i >= len(post) {
			return 0
		}
		if post[i] > pre[i] {
			return post[i] - pre[i]
		}
		return 0
	}
	return 0
}
