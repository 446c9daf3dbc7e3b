package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:        ts.URL,
		PaymentHeader: "dGVzdC1jbGFpbQ==",
	}
	client := NewSolSentryClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func paymentRequiredBody() map[string]any {
	return map[string]any{
		"x402Version": 1,
		"accepts": []map[string]any{
			{
				"scheme":            "exact",
				"network":           "solana",
				"maxAmountRequired": "1000000",
				"resource":          "/api/v1/risk-score/{protocol}",
				"description":       "Composite risk score for a DeFi protocol",
				"payTo":             "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
				"asset":             "SOL",
				"maxTimeoutSeconds": 300,
			},
		},
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_PaymentHeaderForwarded(t *testing.T) {
	var gotPayment string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPayment = r.Header.Get("X-PAYMENT")
		_, _ = w.Write([]byte(`{"exploits":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL, PaymentHeader: "Y2xhaW0="})
	_, err := client.ListExploits(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "Y2xhaW0=", gotPayment)
}

func TestClient_NoPaymentHeaderWhenUnset(t *testing.T) {
	var sawHeader bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["X-Payment"]
		_, _ = w.Write([]byte(`{"exploits":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.ListExploits(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, sawHeader)
}

func TestClient_PaymentRequired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(paymentRequiredBody())
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.GetRiskScore(context.Background(), "aave")
	require.Error(t, err)

	var pr *ErrPaymentRequired
	require.ErrorAs(t, err, &pr)
	assert.Contains(t, string(pr.Body), "1000000")
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_wallet",
			"message": "wallet is not a valid address for chain ethereum",
		})
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.AuditApprovals(context.Background(), "not-an-address", "ethereum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "not a valid address")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.GetRiskScore(context.Background(), "aave")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewSolSentryClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListExploits(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_ListExploits_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "curve", r.URL.Query().Get("protocol"))
		assert.Equal(t, "ethereum", r.URL.Query().Get("chain"))
		_, _ = w.Write([]byte(`{"exploits":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.ListExploits(context.Background(), "curve", "ethereum")
	require.NoError(t, err)
}

func TestClient_AuditApprovals_PostsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xWALLET", body["wallet"])
		assert.Equal(t, "arbitrum", body["chain"])
		_, _ = w.Write([]byte(`{"wallet":"0xWALLET","chain":"arbitrum","approvals_checked":0,"flags":{}}`))
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	_, err := client.AuditApprovals(context.Background(), "0xWALLET", "arbitrum")
	require.NoError(t, err)
}

func TestClient_GetPaymentInfo_Returns402Body(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/x402", r.URL.Path)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(paymentRequiredBody())
	}))
	defer ts.Close()

	client := NewSolSentryClient(Config{APIURL: ts.URL})
	raw, err := client.GetPaymentInfo(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "x402Version")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetRiskScore(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/risk-score/aave", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"protocol":        "aave",
			"score":           49,
			"risk_level":      "medium",
			"recent_exploits": 1,
			"total_loss_usd":  5000000.0,
			"recommendation":  "Exercise caution",
			"factors": map[string]any{
				"exploit_frequency": 10.0,
				"total_loss":        50.0,
				"recency":           100.0,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetRiskScore(context.Background(), makeRequest(map[string]any{"protocol": "aave"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "49/100")
	assert.Contains(t, text, "MEDIUM")
	assert.Contains(t, text, "$5.00M")
	assert.Contains(t, text, "Exercise caution")
}

func TestHandleGetRiskScore_MissingProtocol(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleGetRiskScore(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "protocol is required")
}

func TestHandleGetRiskScore_PaymentRequired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(paymentRequiredBody())
	}))
	defer ts.Close()

	h := NewHandlers(NewSolSentryClient(Config{APIURL: ts.URL}))
	result, err := h.HandleGetRiskScore(context.Background(), makeRequest(map[string]any{"protocol": "aave"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "payment required")
	assert.Contains(t, text, "SOLSENTRY_PAYMENT_HEADER")
	assert.Contains(t, text, "1000000 lamports")
}

func TestHandleListExploits(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"exploits": []map[string]any{
				{
					"protocol":      "curve",
					"chain":         "ethereum",
					"severity":      "critical",
					"loss_usd":      62000000.0,
					"timestamp":     "2026-08-26T10:00:00Z",
					"description":   "Reentrancy in stableswap pools",
					"attack_vector": "reentrancy",
				},
				{
					"protocol":  "aave",
					"chain":     "ethereum",
					"severity":  "high",
					"loss_usd":  1500000.0,
					"timestamp": "2026-08-20T10:00:00Z",
				},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListExploits(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 exploit(s)")
	assert.Contains(t, text, "curve on ethereum [CRITICAL]")
	assert.Contains(t, text, "$62.00M")
	assert.Contains(t, text, "reentrancy")
	assert.Contains(t, text, "aave on ethereum [HIGH]")
}

func TestHandleListExploits_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exploits":[],"count":0}`))
	}))
	defer cleanup()

	result, err := h.HandleListExploits(context.Background(), makeRequest(map[string]any{"protocol": "obscure"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No exploits found")
}

func TestHandleAuditApprovals(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"wallet":            "0xWALLET",
			"chain":             "ethereum",
			"approvals_checked": 3,
			"flags": map[string]any{
				"0xDAI-0xROUTER": []map[string]any{
					{
						"type":        "unlimited_approval",
						"severity":    "high",
						"description": "Unlimited allowance granted",
					},
				},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAuditApprovals(context.Background(), makeRequest(map[string]any{"wallet": "0xWALLET"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Approvals checked: 3 | Flagged: 1")
	assert.Contains(t, text, "0xDAI-0xROUTER")
	assert.Contains(t, text, "[HIGH] unlimited_approval")
}

func TestHandleAuditApprovals_Clean(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wallet":"0xW","chain":"ethereum","approvals_checked":2,"flags":{}}`))
	}))
	defer cleanup()

	result, err := h.HandleAuditApprovals(context.Background(), makeRequest(map[string]any{"wallet": "0xW"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No risky approvals found")
}

func TestHandleAuditApprovals_MissingWallet(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleAuditApprovals(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "wallet is required")
}

func TestHandleGetPaymentInfo(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(paymentRequiredBody())
	}))
	defer cleanup()

	result, err := h.HandleGetPaymentInfo(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "x402 payment terms (version 1)")
	assert.Contains(t, text, "/api/v1/risk-score/{protocol}")
	assert.Contains(t, text, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	assert.Contains(t, text, "Valid for: 300s")
}
