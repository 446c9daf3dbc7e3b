package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all SolSentry tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("solsentry", "1.0.0")
	client := NewSolSentryClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetRiskScore, h.HandleGetRiskScore)
	s.AddTool(ToolListExploits, h.HandleListExploits)
	s.AddTool(ToolAuditApprovals, h.HandleAuditApprovals)
	s.AddTool(ToolGetPaymentInfo, h.HandleGetPaymentInfo)

	return s
}
