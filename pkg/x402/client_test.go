package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipient = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func termsFor(resource string) PaymentTerms {
	return PaymentTerms{
		X402Version: 1,
		Accepts: []Accept{{
			Scheme:            "exact",
			Network:           "solana",
			MaxAmountRequired: "1000000",
			Resource:          resource,
			PayTo:             testRecipient,
			Asset:             "SOL",
			MaxTimeoutSeconds: 300,
		}},
	}
}

// gatedServer returns 402 with terms until a request carries an X-PAYMENT
// header, then serves the payload.
func gatedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(PaymentHeader) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(termsFor(srv.URL + r.URL.Path))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	return srv
}

func stubPay(sig string) PayFunc {
	return func(ctx context.Context, accept Accept) (*Payment, error) {
		return &Payment{Signature: sig, Payer: "payer-address"}, nil
	}
}

func TestClient_PaysAndRetries(t *testing.T) {
	srv := gatedServer(t)
	defer srv.Close()

	var paid Accept
	var claim *PaymentClaim
	client := NewClient(stubPay("sig123"))
	client.OnPayment = func(a Accept, c *PaymentClaim) {
		paid = a
		claim = c
	}

	resp, err := client.Get(srv.URL + "/api/v1/exploits")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1000000", paid.MaxAmountRequired)
	require.NotNil(t, claim)
	assert.Equal(t, "sig123", claim.Signature)
	assert.Equal(t, uint64(1000000), claim.Amount)
	assert.Equal(t, testRecipient, claim.Recipient)
}

func TestClient_ClaimHeaderDecodes(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get(PaymentHeader); h != "" {
			gotHeader = h
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(termsFor("/data"))
	}))
	defer srv.Close()

	client := NewClient(stubPay("sig456"))
	resp, err := client.Get(srv.URL + "/data")
	require.NoError(t, err)
	resp.Body.Close()

	raw, err := base64.StdEncoding.DecodeString(gotHeader)
	require.NoError(t, err)

	var claim PaymentClaim
	require.NoError(t, json.Unmarshal(raw, &claim))
	assert.Equal(t, "exact", claim.Scheme)
	assert.Equal(t, "solana", claim.Network)
	assert.Equal(t, "sig456", claim.Signature)
}

func TestClient_AutoPayDisabled(t *testing.T) {
	srv := gatedServer(t)
	defer srv.Close()

	client := NewClient(stubPay("unused"))
	client.AutoPay = false

	resp, err := client.Get(srv.URL + "/api/v1/exploits")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestClient_MaxLamports(t *testing.T) {
	srv := gatedServer(t)
	defer srv.Close()

	client := NewClient(stubPay("unused"))
	client.MaxLamports = 500

	_, err := client.Get(srv.URL + "/api/v1/exploits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestClient_PayFailure(t *testing.T) {
	srv := gatedServer(t)
	defer srv.Close()

	client := NewClient(func(ctx context.Context, accept Accept) (*Payment, error) {
		return nil, fmt.Errorf("wallet empty")
	})

	_, err := client.Get(srv.URL + "/api/v1/exploits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet empty")
}

func TestClient_NoPayFunc(t *testing.T) {
	srv := gatedServer(t)
	defer srv.Close()

	client := NewClient(nil)
	_, err := client.Get(srv.URL + "/api/v1/exploits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PayFunc")
}

func TestPickAccept_TemplateMatch(t *testing.T) {
	terms := &PaymentTerms{Accepts: []Accept{
		{Resource: "https://api.example.com/api/v1/exploits", MaxAmountRequired: "1"},
		{Resource: "https://api.example.com/api/v1/risk-score/{protocol}", MaxAmountRequired: "2"},
	}}

	assert.Equal(t, "2", pickAccept(terms, "/api/v1/risk-score/aave").MaxAmountRequired)
	assert.Equal(t, "1", pickAccept(terms, "/api/v1/exploits").MaxAmountRequired)
	// Unknown path falls back to the first entry.
	assert.Equal(t, "1", pickAccept(terms, "/api/v1/unknown").MaxAmountRequired)
}

func TestParsePaymentTerms_Errors(t *testing.T) {
	resp := httptest.NewRecorder()
	resp.WriteHeader(http.StatusOK)
	_, err := ParsePaymentTerms(resp.Result())
	assert.Error(t, err)

	resp = httptest.NewRecorder()
	resp.WriteHeader(http.StatusPaymentRequired)
	resp.WriteString(`{"x402Version":1,"accepts":[]}`)
	_, err = ParsePaymentTerms(resp.Result())
	assert.Error(t, err, "empty accepts list is rejected")
}
