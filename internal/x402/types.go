// Package x402 implements the payment-gated access layer: the x402
// discovery document, payment claim parsing, on-chain verification, and
// the gin middleware that enforces payment on priced endpoints.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Protocol constants. All priced endpoints accept exact SOL payments on Solana.
const (
	SchemeExact   = "exact"
	NetworkSolana = "solana"
	AssetSOL      = "SOL"

	// PaymentHeader carries the base64-encoded PaymentClaim JSON.
	PaymentHeader = "X-PAYMENT"

	// Version is the x402 protocol version advertised in the discovery document.
	Version = 1

	// MaxTimeoutSeconds is the settlement window advertised to clients.
	MaxTimeoutSeconds = 300
)

// PaymentClaim is the caller-supplied assertion of payment, carried in the
// X-PAYMENT header. Immutable once parsed.
type PaymentClaim struct {
	Scheme    string `json:"scheme"`
	Network   string `json:"network"`
	Amount    uint64 `json:"amount"` // lamports
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	Signature string `json:"signature"`
	Resource  string `json:"resource"`
}

// ParseClaimHeader decodes a base64-encoded JSON PaymentClaim.
func ParseClaimHeader(header string) (*PaymentClaim, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var claim PaymentClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nil, fmt.Errorf("parse payment claim: %w", err)
	}
	if claim.Signature == "" {
		return nil, fmt.Errorf("payment claim missing signature")
	}
	return &claim, nil
}

// EncodeClaimHeader serializes a claim for the X-PAYMENT header.
// Used by clients (and tests).
func EncodeClaimHeader(claim *PaymentClaim) (string, error) {
	raw, err := json.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("marshal payment claim: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SchemaSpec documents the input/output shape of a priced resource.
type SchemaSpec struct {
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
}

// DescriptorExtra carries provider metadata in a resource descriptor.
type DescriptorExtra struct {
	Provider      string `json:"provider"`
	Version       string `json:"version"`
	Documentation string `json:"documentation"`
}

// ResourceDescriptor advertises one priced resource in the discovery document
// and in 402 response bodies.
type ResourceDescriptor struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"` // lamports, decimal string
	Resource          string          `json:"resource"`          // absolute URL
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	OutputSchema      SchemaSpec      `json:"outputSchema"`
	Extra             DescriptorExtra `json:"extra"`
}

// DiscoveryDocument is the body of /.well-known/x402 responses.
type DiscoveryDocument struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []ResourceDescriptor `json:"accepts"`
}

// NewResourceDescriptor builds a descriptor for a priced resource. The
// resource URL is absolute; path parameters stay in template form so clients
// can see the shape ({protocol}).
func NewResourceDescriptor(baseURL, path, description string, priceLamports uint64, payTo string, schema SchemaSpec) ResourceDescriptor {
	return ResourceDescriptor{
		Scheme:            SchemeExact,
		Network:           NetworkSolana,
		MaxAmountRequired: strconv.FormatUint(priceLamports, 10),
		Resource:          strings.TrimRight(baseURL, "/") + path,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: MaxTimeoutSeconds,
		Asset:             AssetSOL,
		OutputSchema:      schema,
		Extra: DescriptorExtra{
			Provider:      "solsentry",
			Version:       "1",
			Documentation: strings.TrimRight(baseURL, "/") + "/.well-known/x402",
		},
	}
}

// resourceMatches reports whether a claimed resource path satisfies a
// resource template. Template parameters ({protocol}, :protocol) match any
// single concrete segment. The claimed resource may be an absolute URL; only
// its path is compared.
func resourceMatches(template, claimed string) bool {
	claimed = stripOrigin(claimed)
	tSegs := splitPath(template)
	cSegs := splitPath(claimed)
	if len(tSegs) != len(cSegs) {
		return false
	}
	for i, t := range tSegs {
		if isParamSegment(t) {
			if cSegs[i] == "" {
				return false
			}
			continue
		}
		if t != cSegs[i] {
			return false
		}
	}
	return true
}

func stripOrigin(resource string) string {
	if i := strings.Index(resource, "://"); i >= 0 {
		rest := resource[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return resource
}

func splitPath(p string) []string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}

func isParamSegment(seg string) bool {
	return strings.HasPrefix(seg, ":") ||
		(strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"))
}
