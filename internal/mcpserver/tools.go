package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var ToolGetRiskScore = mcp.NewTool("get_risk_score",
	mcp.WithDescription("Get the composite exploit risk score (0-100) for a DeFi protocol, "+
		"with risk level, recent exploit count, total losses, and a recommendation."),
	mcp.WithString("protocol",
		mcp.Required(),
		mcp.Description("Protocol slug, e.g. 'aave', 'curve', 'uniswap'"),
	),
)

var ToolListExploits = mcp.NewTool("list_exploits",
	mcp.WithDescription("List recent DeFi exploit records aggregated from multiple intelligence "+
		"sources, newest first. Optionally filter by protocol and chain."),
	mcp.WithString("protocol",
		mcp.Description("Filter by protocol slug, e.g. 'aave'"),
	),
	mcp.WithString("chain",
		mcp.Description("Filter by chain, e.g. 'ethereum', 'solana', 'arbitrum'"),
	),
)

var ToolAuditApprovals = mcp.NewTool("audit_approvals",
	mcp.WithDescription("Audit a wallet's token approvals for risk: unlimited allowances, stale "+
		"approvals, approvals to recently exploited protocols, and known-bad spenders."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("Wallet address to audit (0x-prefixed for EVM chains)"),
	),
	mcp.WithString("chain",
		mcp.Description("Chain to audit on (default: ethereum)"),
		mcp.Enum("ethereum", "arbitrum", "optimism", "polygon", "base"),
	),
)

var ToolGetPaymentInfo = mcp.NewTool("get_payment_info",
	mcp.WithDescription("Get the x402 payment terms for the SolSentry API: priced endpoints, "+
		"price in lamports, payment recipient, and network."),
)
