// Package x402 implements the client side of the x402 payment protocol.
// It is the foundation for SDKs calling SolSentry's priced endpoints:
// parse 402 payment terms, build payment claims, and retry with the
// X-PAYMENT header attached.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PaymentHeader carries the base64-encoded PaymentClaim JSON.
const PaymentHeader = "X-PAYMENT"

// Accept is one priced resource's payment terms, returned by servers in
// 402 response bodies and the /.well-known/x402 discovery document.
type Accept struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"` // lamports, decimal string
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// PaymentTerms is the body of a 402 response.
type PaymentTerms struct {
	X402Version int      `json:"x402Version"`
	Accepts     []Accept `json:"accepts"`
}

// PaymentClaim asserts that a payment settled on chain. Serialized into the
// X-PAYMENT header.
type PaymentClaim struct {
	Scheme    string `json:"scheme"`
	Network   string `json:"network"`
	Amount    uint64 `json:"amount"` // lamports
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	Signature string `json:"signature"`
	Resource  string `json:"resource"`
}

// Error represents an x402 error response.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is402Response checks if an HTTP response is a 402 Payment Required.
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentTerms extracts payment terms from a 402 response body.
func ParsePaymentTerms(resp *http.Response) (*PaymentTerms, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var terms PaymentTerms
	if err := json.Unmarshal(body, &terms); err != nil {
		return nil, fmt.Errorf("failed to parse payment terms: %w", err)
	}
	if len(terms.Accepts) == 0 {
		return nil, fmt.Errorf("402 response carries no payment terms")
	}

	return &terms, nil
}

// ToHeader serializes the payment claim for the X-PAYMENT header.
func (c *PaymentClaim) ToHeader() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claim: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// AddClaimToRequest attaches the payment claim header to an HTTP request.
func AddClaimToRequest(req *http.Request, claim *PaymentClaim) error {
	header, err := claim.ToHeader()
	if err != nil {
		return err
	}
	req.Header.Set(PaymentHeader, header)
	return nil
}
