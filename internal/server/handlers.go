package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solsentry/solsentry/internal/approvals"
	"github.com/solsentry/solsentry/internal/config"
	"github.com/solsentry/solsentry/internal/exploits"
	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/pagination"
	"github.com/solsentry/solsentry/internal/risk"
	"github.com/solsentry/solsentry/internal/x402"
)

// buildDescriptors declares the three priced resources for the discovery
// document and 402 bodies. Order matters: exploits, risk-score, approval-audit.
func buildDescriptors(cfg *config.Config) []x402.ResourceDescriptor {
	return []x402.ResourceDescriptor{
		x402.NewResourceDescriptor(cfg.PublicBaseURL, "/api/v1/exploits",
			"Recent DeFi exploit records, merged across sources and deduplicated",
			cfg.PriceLamports, cfg.PaymentWallet,
			x402.SchemaSpec{
				Input: map[string]any{
					"protocol": "optional protocol filter (query)",
					"chain":    "optional chain filter (query)",
					"limit":    "optional page size, max 200 (query)",
					"cursor":   "optional opaque continuation cursor (query)",
				},
				Output: map[string]any{
					"exploits":    "array of exploit records, newest first",
					"count":       "number of records returned",
					"next_cursor": "opaque cursor for the next page, empty when exhausted",
				},
			}),
		x402.NewResourceDescriptor(cfg.PublicBaseURL, "/api/v1/risk-score/{protocol}",
			"Composite 0-100 risk score for a protocol from its exploit history",
			cfg.PriceLamports, cfg.PaymentWallet,
			x402.SchemaSpec{
				Input: map[string]any{
					"protocol": "protocol identifier (path)",
				},
				Output: map[string]any{
					"score":          "0-100 composite risk score",
					"risk_level":     "CRITICAL | HIGH | MEDIUM | LOW",
					"recommendation": "action guidance string",
					"factors":        "component scores and severity distribution",
				},
			}),
		x402.NewResourceDescriptor(cfg.PublicBaseURL, "/api/v1/approval-audit",
			"Token approval audit for a wallet: unlimited, stale, exploited and denylisted spenders",
			cfg.PriceLamports, cfg.PaymentWallet,
			x402.SchemaSpec{
				Input: map[string]any{
					"wallet": "wallet address (body, required)",
					"chain":  "chain identifier (body, default ethereum)",
				},
				Output: map[string]any{
					"flags": "map of token-spender to risk flags; clean approvals omitted",
				},
			}),
	}
}

// discoveryHandler serves /.well-known/x402. Per convention the document
// rides on a 402 status so unpaid probes and explicit discovery look alike.
func (s *Server) discoveryHandler(c *gin.Context) {
	c.JSON(http.StatusPaymentRequired, x402.DiscoveryDocument{
		X402Version: x402.Version,
		Accepts:     s.descriptors,
	})
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// listExploitsHandler handles GET /api/v1/exploits (priced).
func (s *Server) listExploitsHandler(c *gin.Context) {
	protocol := c.Query("protocol")
	chain := c.Query("chain")

	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxPageLimit)
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed or corrupted",
		})
		return
	}

	records := s.dataService.FetchExploits(c.Request.Context(), protocol, chain)

	recordKey := func(r exploits.Record) (time.Time, string) {
		return r.Timestamp, r.Identity()
	}
	tail := pagination.ResumeAfter(records, cursor, recordKey)
	page, nextCursor, hasMore := pagination.ComputePage(tail, limit, recordKey)

	c.JSON(http.StatusOK, gin.H{
		"exploits":    page,
		"count":       len(page),
		"protocol":    protocol,
		"chain":       chain,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// riskScoreHandler handles GET /api/v1/risk-score/:protocol (priced).
func (s *Server) riskScoreHandler(c *gin.Context) {
	protocol := c.Param("protocol")

	records := s.dataService.FetchExploits(c.Request.Context(), protocol, "")
	score := s.riskEngine.ScoreProtocol(protocol, records)

	c.JSON(http.StatusOK, score)
}

// approvalAuditRequest is the body of POST /api/v1/approval-audit.
type approvalAuditRequest struct {
	Wallet string `json:"wallet" binding:"required"`
	Chain  string `json:"chain"`
}

// approvalAuditHandler handles POST /api/v1/approval-audit (priced).
func (s *Server) approvalAuditHandler(c *gin.Context) {
	var req approvalAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "wallet is required",
		})
		return
	}
	if req.Chain == "" {
		req.Chain = "ethereum"
	}
	if !approvals.ValidWallet(req.Wallet, req.Chain) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_wallet",
			"message": "wallet is not a valid address for the given chain",
		})
		return
	}
	if s.approvalFetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "approvals_unavailable",
			"message": "no approvals data source configured",
		})
		return
	}

	fetched, err := s.approvalFetcher.FetchApprovals(c.Request.Context(), req.Wallet, req.Chain)
	if err != nil {
		logging.L(c.Request.Context()).Error("approval fetch failed",
			"wallet", req.Wallet,
			"chain", req.Chain,
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "approvals_fetch_failed",
			"message": "could not fetch token approvals for this wallet",
		})
		return
	}

	flags := s.riskEngine.AuditApprovals(c.Request.Context(), fetched)
	if flags == nil {
		flags = map[string][]risk.Flag{}
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":            req.Wallet,
		"chain":             req.Chain,
		"approvals_checked": len(fetched),
		"flags":             flags,
	})
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// healthHandler reports per-source circuit state and cache counters. Source
// outages never make the API unavailable, so this always returns 200.
func (s *Server) healthHandler(c *gin.Context) {
	snapshots, cacheStats := s.dataService.Health()

	sourcesHealth := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		sourcesHealth = append(sourcesHealth, gin.H{
			"source":               snap.Key,
			"state":                snap.State,
			"consecutive_failures": snap.ConsecutiveFailures,
			"opened_at":            snap.OpenedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
		"sources": sourcesHealth,
		"cache": gin.H{
			"entries": cacheStats.Entries,
			"hits":    cacheStats.Hits,
			"misses":  cacheStats.Misses,
		},
		"verification_cache_entries": s.verifyCache.Len(),
		"feed":                       s.hub.Stats(),
		"timestamp":                  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
