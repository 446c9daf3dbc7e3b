package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsentry/solsentry/internal/x402"
)

const wallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func rpcServer(t *testing.T, response string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTransaction", req["method"])

		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func TestLookup_ConfirmedTransfer(t *testing.T) {
	resp := `{"jsonrpc":"2.0","id":1,"result":{
		"meta":{"err":null,"preBalances":[5000000000,100],"postBalances":[4998995000,1000100]},
		"transaction":{"message":{"accountKeys":["payerPayerPayerPayerPayerPayerPayerPayer111","` + wallet + `"]}}}}`
	srv := rpcServer(t, resp, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	result, err := c.Lookup(context.Background(), "sig")
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, uint64(1_000_000), result.Lamports)
	assert.Equal(t, wallet, result.Recipient)
}

func TestLookup_UnknownSignature(t *testing.T) {
	srv := rpcServer(t, `{"jsonrpc":"2.0","id":1,"result":null}`, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	result, err := c.Lookup(context.Background(), "sig")
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
}

func TestLookup_FailedTransaction(t *testing.T) {
	resp := `{"jsonrpc":"2.0","id":1,"result":{
		"meta":{"err":{"InstructionError":[0,"Custom"]},"preBalances":[10,0],"postBalances":[10,0]},
		"transaction":{"message":{"accountKeys":["a","` + wallet + `"]}}}}`
	srv := rpcServer(t, resp, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	result, err := c.Lookup(context.Background(), "sig")
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
}

func TestLookup_WalletNotCredited(t *testing.T) {
	resp := `{"jsonrpc":"2.0","id":1,"result":{
		"meta":{"err":null,"preBalances":[10,500],"postBalances":[5,500]},
		"transaction":{"message":{"accountKeys":["a","` + wallet + `"]}}}}`
	srv := rpcServer(t, resp, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	result, err := c.Lookup(context.Background(), "sig")
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
}

func TestLookup_RPCErrorIsTransient(t *testing.T) {
	srv := rpcServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	_, err := c.Lookup(context.Background(), "sig")
	assert.ErrorIs(t, err, x402.ErrChainLookupUnavailable)
}

func TestLookup_HTTPErrorIsTransient(t *testing.T) {
	srv := rpcServer(t, `oops`, http.StatusBadGateway)
	defer srv.Close()

	c := NewClient(srv.URL, wallet, time.Second, nil)
	_, err := c.Lookup(context.Background(), "sig")
	assert.ErrorIs(t, err, x402.ErrChainLookupUnavailable)
}

func TestLookup_ServerUnreachableIsTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", wallet, 200*time.Millisecond, nil)
	_, err := c.Lookup(context.Background(), "sig")
	assert.ErrorIs(t, err, x402.ErrChainLookupUnavailable)
}
