package x402

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testSig    = "5VERYrealLOOKINGsignature1111111111111111111111111111111111111111"
)

// fakeLookup is a configurable ChainLookup spy.
type fakeLookup struct {
	calls  atomic.Int64
	result TransferResult
	err    error
}

func (f *fakeLookup) Lookup(_ context.Context, _ string) (TransferResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func confirmedLookup(lamports uint64) *fakeLookup {
	return &fakeLookup{result: TransferResult{
		Confirmed: true,
		Lamports:  lamports,
		Recipient: testWallet,
	}}
}

func validClaim() *PaymentClaim {
	return &PaymentClaim{
		Scheme:    SchemeExact,
		Network:   NetworkSolana,
		Amount:    1_000_000,
		Payer:     "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde",
		Recipient: testWallet,
		Signature: testSig,
		Resource:  "/api/v1/risk-score/uniswap",
	}
}

func TestVerify_Approves(t *testing.T) {
	lookup := confirmedLookup(1_000_000)
	v := NewVerifier(lookup, testWallet, nil)

	err := v.Verify(context.Background(), validClaim(), 1_000_000, "/api/v1/risk-score/:protocol")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lookup.calls.Load())
}

func TestVerify_ChecksShortCircuitInOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PaymentClaim)
		reason string
	}{
		{"wrong scheme", func(c *PaymentClaim) { c.Scheme = "upto" }, ReasonWrongScheme},
		{"wrong network", func(c *PaymentClaim) { c.Network = "base" }, ReasonWrongScheme},
		{"wrong resource", func(c *PaymentClaim) { c.Resource = "/api/v1/exploits" }, ReasonWrongResource},
		{"insufficient amount", func(c *PaymentClaim) { c.Amount = 999_999 }, ReasonInsufficient},
		{"wrong recipient", func(c *PaymentClaim) { c.Recipient = "someoneElse11111111111111111111111111111111" }, ReasonWrongRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := confirmedLookup(1_000_000)
			v := NewVerifier(lookup, testWallet, nil)

			claim := validClaim()
			tt.mutate(claim)

			err := v.Verify(context.Background(), claim, 1_000_000, "/api/v1/risk-score/:protocol")
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.reason, rej.Reason)
			// Every local check failure must short-circuit before the chain read.
			assert.Equal(t, int64(0), lookup.calls.Load())
		})
	}
}

func TestVerify_UnconfirmedSignature(t *testing.T) {
	lookup := &fakeLookup{result: TransferResult{Confirmed: false}}
	v := NewVerifier(lookup, testWallet, nil)

	err := v.Verify(context.Background(), validClaim(), 1_000_000, "/api/v1/risk-score/:protocol")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonUnconfirmedSig, rej.Reason)
}

func TestVerify_OnChainAmountTooLow(t *testing.T) {
	// Claim says 1M but the chain only moved 500k.
	lookup := confirmedLookup(500_000)
	v := NewVerifier(lookup, testWallet, nil)

	err := v.Verify(context.Background(), validClaim(), 1_000_000, "/api/v1/risk-score/:protocol")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonUnconfirmedSig, rej.Reason)
}

func TestVerify_LookupUnavailableIsTransient(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("rpc timeout")}
	v := NewVerifier(lookup, testWallet, nil)

	err := v.Verify(context.Background(), validClaim(), 1_000_000, "/api/v1/risk-score/:protocol")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainLookupUnavailable)

	var rej *RejectionError
	assert.False(t, errors.As(err, &rej), "transient failure must not be a rejection")
}

func TestResourceMatches(t *testing.T) {
	tests := []struct {
		template string
		claimed  string
		want     bool
	}{
		{"/api/v1/risk-score/:protocol", "/api/v1/risk-score/uniswap", true},
		{"/api/v1/risk-score/{protocol}", "/api/v1/risk-score/aave", true},
		{"/api/v1/risk-score/:protocol", "https://api.solsentry.io/api/v1/risk-score/aave", true},
		{"/api/v1/risk-score/:protocol", "/api/v1/risk-score/uniswap?x=1", true},
		{"/api/v1/risk-score/:protocol", "/api/v1/exploits", false},
		{"/api/v1/exploits", "/api/v1/exploits", true},
		{"/api/v1/exploits", "/api/v1/exploits/extra", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resourceMatches(tt.template, tt.claimed),
			"template=%s claimed=%s", tt.template, tt.claimed)
	}
}

func TestParseClaimHeader_RoundTrip(t *testing.T) {
	claim := validClaim()
	header, err := EncodeClaimHeader(claim)
	require.NoError(t, err)

	parsed, err := ParseClaimHeader(header)
	require.NoError(t, err)
	assert.Equal(t, claim, parsed)
}

func TestParseClaimHeader_Invalid(t *testing.T) {
	_, err := ParseClaimHeader("not base64 at all!!")
	require.Error(t, err)

	_, err = ParseClaimHeader("bm90IGpzb24=") // "not json"
	require.Error(t, err)
}

func TestNewResourceDescriptor(t *testing.T) {
	d := NewResourceDescriptor(
		"https://api.solsentry.io/",
		"/api/v1/risk-score/{protocol}",
		"Protocol risk score",
		1_000_000,
		testWallet,
		SchemaSpec{},
	)

	assert.Equal(t, "exact", d.Scheme)
	assert.Equal(t, "solana", d.Network)
	assert.Equal(t, "1000000", d.MaxAmountRequired)
	assert.Equal(t, "https://api.solsentry.io/api/v1/risk-score/{protocol}", d.Resource)
	assert.Equal(t, testWallet, d.PayTo)
	assert.Equal(t, 300, d.MaxTimeoutSeconds)
	assert.Equal(t, "SOL", d.Asset)
}
