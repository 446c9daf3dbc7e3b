package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers implements the MCP tool handlers backed by the SolSentry API.
type Handlers struct {
	client *SolSentryClient
}

// NewHandlers creates handlers backed by the given client.
func NewHandlers(client *SolSentryClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetRiskScore returns the composite risk score for a protocol.
func (h *Handlers) HandleGetRiskScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	protocol := req.GetString("protocol", "")
	if protocol == "" {
		return mcp.NewToolResultError("protocol is required"), nil
	}

	raw, err := h.client.GetRiskScore(ctx, protocol)
	if err != nil {
		return h.toolError("Failed to get risk score", err), nil
	}

	text, err := formatRiskScore(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse risk score: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListExploits lists recent exploit records.
func (h *Handlers) HandleListExploits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	protocol := req.GetString("protocol", "")
	chain := req.GetString("chain", "")

	raw, err := h.client.ListExploits(ctx, protocol, chain)
	if err != nil {
		return h.toolError("Failed to list exploits", err), nil
	}

	text, err := formatExploitList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse exploits: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAuditApprovals audits a wallet's token approvals.
func (h *Handlers) HandleAuditApprovals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wallet := req.GetString("wallet", "")
	if wallet == "" {
		return mcp.NewToolResultError("wallet is required"), nil
	}
	chain := req.GetString("chain", "")

	raw, err := h.client.AuditApprovals(ctx, wallet, chain)
	if err != nil {
		return h.toolError("Failed to audit approvals", err), nil
	}

	text, err := formatApprovalAudit(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse audit: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetPaymentInfo returns the API's x402 payment terms.
func (h *Handlers) HandleGetPaymentInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPaymentInfo(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get payment info: %v", err)), nil
	}

	text, err := formatPaymentInfo(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment info: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// toolError turns a client error into a tool result. A 402 gets the payment
// terms appended so the caller knows how to pay.
func (h *Handlers) toolError(prefix string, err error) *mcp.CallToolResult {
	var pr *ErrPaymentRequired
	if errors.As(err, &pr) {
		text, ferr := formatPaymentInfo(pr.Body)
		if ferr != nil {
			text = string(pr.Body)
		}
		return mcp.NewToolResultError(fmt.Sprintf(
			"%s: payment required. Set SOLSENTRY_PAYMENT_HEADER to a valid X-PAYMENT claim.\n\n%s",
			prefix, text))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// --- Formatting helpers ---

func formatRiskScore(raw json.RawMessage) (string, error) {
	var score struct {
		Protocol       string  `json:"protocol"`
		Score          int     `json:"score"`
		RiskLevel      string  `json:"risk_level"`
		RecentExploits int     `json:"recent_exploits"`
		TotalLossUSD   float64 `json:"total_loss_usd"`
		Recommendation string  `json:"recommendation"`
		Factors        struct {
			ExploitFrequency float64 `json:"exploit_frequency"`
			TotalLoss        float64 `json:"total_loss"`
			Recency          float64 `json:"recency"`
		} `json:"factors"`
	}
	if err := json.Unmarshal(raw, &score); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk score for %s: %d/100 (%s)\n\n", score.Protocol, score.Score, strings.ToUpper(score.RiskLevel))
	fmt.Fprintf(&sb, "Recent exploits (30d): %d\n", score.RecentExploits)
	fmt.Fprintf(&sb, "Total losses: $%s\n", formatUSD(score.TotalLossUSD))
	fmt.Fprintf(&sb, "Factors: frequency %.0f | loss magnitude %.0f | recency %.0f\n\n",
		score.Factors.ExploitFrequency, score.Factors.TotalLoss, score.Factors.Recency)
	fmt.Fprintf(&sb, "Recommendation: %s", score.Recommendation)
	return sb.String(), nil
}

func formatExploitList(raw json.RawMessage) (string, error) {
	var resp struct {
		Exploits []struct {
			Protocol     string  `json:"protocol"`
			Chain        string  `json:"chain"`
			Severity     string  `json:"severity"`
			LossUSD      float64 `json:"loss_usd"`
			Timestamp    string  `json:"timestamp"`
			Description  string  `json:"description"`
			AttackVector string  `json:"attack_vector"`
		} `json:"exploits"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Count == 0 {
		return "No exploits found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d exploit(s), newest first:\n\n", resp.Count)
	for i, e := range resp.Exploits {
		fmt.Fprintf(&sb, "%d. %s on %s [%s]\n", i+1, e.Protocol, e.Chain, strings.ToUpper(e.Severity))
		fmt.Fprintf(&sb, "   Loss: $%s | Date: %s\n", formatUSD(e.LossUSD), e.Timestamp)
		if e.AttackVector != "" {
			fmt.Fprintf(&sb, "   Vector: %s\n", e.AttackVector)
		}
		if e.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", e.Description)
		}
		if i < len(resp.Exploits)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatApprovalAudit(raw json.RawMessage) (string, error) {
	var resp struct {
		Wallet           string `json:"wallet"`
		Chain            string `json:"chain"`
		ApprovalsChecked int    `json:"approvals_checked"`
		Flags            map[string][]struct {
			Type        string `json:"type"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		} `json:"flags"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Approval audit for %s on %s\n", resp.Wallet, resp.Chain)
	fmt.Fprintf(&sb, "Approvals checked: %d | Flagged: %d\n", resp.ApprovalsChecked, len(resp.Flags))

	if len(resp.Flags) == 0 {
		sb.WriteString("\nNo risky approvals found.")
		return sb.String(), nil
	}

	for key, flags := range resp.Flags {
		fmt.Fprintf(&sb, "\n%s:\n", key)
		for _, f := range flags {
			fmt.Fprintf(&sb, "  [%s] %s: %s\n", strings.ToUpper(f.Severity), f.Type, f.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatPaymentInfo(raw json.RawMessage) (string, error) {
	var doc struct {
		X402Version int `json:"x402Version"`
		Accepts     []struct {
			Scheme            string `json:"scheme"`
			Network           string `json:"network"`
			MaxAmountRequired string `json:"maxAmountRequired"`
			Resource          string `json:"resource"`
			Description       string `json:"description"`
			PayTo             string `json:"payTo"`
			Asset             string `json:"asset"`
			MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
		} `json:"accepts"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "x402 payment terms (version %d):\n\n", doc.X402Version)
	for i, a := range doc.Accepts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, a.Resource)
		if a.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", a.Description)
		}
		fmt.Fprintf(&sb, "   Price: %s lamports (%s) on %s | Scheme: %s\n", a.MaxAmountRequired, a.Asset, a.Network, a.Scheme)
		fmt.Fprintf(&sb, "   Pay to: %s | Valid for: %ds\n", a.PayTo, a.MaxTimeoutSeconds)
		if i < len(doc.Accepts)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
