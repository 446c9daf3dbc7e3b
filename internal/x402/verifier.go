package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/metrics"
	"github.com/solsentry/solsentry/internal/traces"
)

// Rejection reasons returned in 402 bodies. Each reason identifies the
// specific check that failed.
const (
	ReasonMalformedClaim = "malformed_claim"
	ReasonWrongScheme    = "unsupported_scheme_or_network"
	ReasonWrongResource  = "wrong_resource"
	ReasonInsufficient   = "insufficient_amount"
	ReasonWrongRecipient = "wrong_recipient"
	ReasonUnconfirmedSig = "unconfirmed_or_unknown_signature"
)

// ErrChainLookupUnavailable marks a transient chain-lookup failure. The gate
// converts it to HTTP 503 so clients know to retry the same payment rather
// than pay again.
var ErrChainLookupUnavailable = errors.New("x402: chain lookup unavailable")

// RejectionError is a definitive payment rejection (HTTP 402).
type RejectionError struct {
	Reason  string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("payment rejected (%s): %s", e.Reason, e.Message)
}

func reject(reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// TransferResult is what the chain-lookup collaborator reports for a
// transaction signature.
type TransferResult struct {
	Confirmed bool
	Lamports  uint64
	Recipient string
}

// ChainLookup resolves a transaction signature to a finalized transfer.
// Implementations must return an error wrapping ErrChainLookupUnavailable
// for transient failures (timeouts, RPC outages) and a zero-value confirmed
// flag for signatures that definitively do not correspond to a transfer.
type ChainLookup interface {
	Lookup(ctx context.Context, signature string) (TransferResult, error)
}

// Verifier decides whether a PaymentClaim is valid proof of payment for a
// given resource and price. It is a pure decision function over its inputs
// plus one external chain read; it mutates nothing, so concurrent duplicate
// verifications are safe.
type Verifier struct {
	lookup ChainLookup
	wallet string // configured payment wallet
	logger *slog.Logger
}

// NewVerifier creates a payment verifier for the configured receiving wallet.
func NewVerifier(lookup ChainLookup, wallet string, logger *slog.Logger) *Verifier {
	return &Verifier{
		lookup: lookup,
		wallet: wallet,
		logger: logging.Component(logger, "payment_verifier"),
	}
}

// Verify checks the claim against the required amount and resource template.
// Checks run in order and short-circuit on the first failure:
// scheme/network, resource, amount, recipient, then the on-chain transfer.
// Returns nil on approval, *RejectionError on a definitive rejection, or an
// error wrapping ErrChainLookupUnavailable on a transient lookup failure.
func (v *Verifier) Verify(ctx context.Context, claim *PaymentClaim, requiredLamports uint64, resource string) error {
	ctx, span := traces.StartSpan(ctx, "x402.Verify",
		traces.Resource(resource), traces.Lamports(requiredLamports))
	defer span.End()

	if claim == nil {
		return reject(ReasonMalformedClaim, "no payment claim supplied")
	}
	if claim.Scheme != SchemeExact || claim.Network != NetworkSolana {
		return reject(ReasonWrongScheme, "scheme %q on network %q not accepted; want %s on %s",
			claim.Scheme, claim.Network, SchemeExact, NetworkSolana)
	}
	if !resourceMatches(resource, claim.Resource) {
		return reject(ReasonWrongResource, "claim is for %q, not %q", claim.Resource, resource)
	}
	if claim.Amount < requiredLamports {
		return reject(ReasonInsufficient, "claim amount %d lamports below required %d", claim.Amount, requiredLamports)
	}
	if claim.Recipient != v.wallet {
		return reject(ReasonWrongRecipient, "claim recipient is not the payment wallet")
	}

	result, err := v.lookup.Lookup(ctx, claim.Signature)
	if err != nil {
		metrics.ChainLookupsTotal.WithLabelValues("error").Inc()
		v.logger.Warn("chain lookup failed",
			"signature", claim.Signature,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrChainLookupUnavailable, err)
	}

	if !result.Confirmed || result.Recipient != v.wallet || result.Lamports < requiredLamports {
		metrics.ChainLookupsTotal.WithLabelValues("not_found").Inc()
		return reject(ReasonUnconfirmedSig,
			"signature does not correspond to a finalized transfer of at least %d lamports to the payment wallet",
			requiredLamports)
	}

	metrics.ChainLookupsTotal.WithLabelValues("confirmed").Inc()
	return nil
}
