// Package risk turns exploit history into deterministic protocol risk scores
// and token approvals into wallet-level risk flags. All scoring is pure
// computation over data shapes; the only I/O is the exploit-history lookup
// used for approval cross-referencing.
package risk

import (
	"context"
	"time"

	"github.com/solsentry/solsentry/internal/exploits"
)

// Level buckets a protocol risk score.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// Recommendations paired with each level.
const (
	RecommendAvoid      = "AVOID - severe recent exploit activity, do not interact"
	RecommendCaution    = "CAUTION - significant exploit history, limit exposure"
	RecommendMonitor    = "MONITOR - moderate exploit history, review approvals"
	RecommendAcceptable = "ACCEPTABLE - no significant exploit activity"
)

// Factors are the component scores behind a protocol score.
type Factors struct {
	ExploitFrequency     float64                   `json:"exploit_frequency"`
	TotalLoss            float64                   `json:"total_loss"`
	Recency              float64                   `json:"recency"`
	SeverityDistribution map[exploits.Severity]int `json:"severity_distribution"`
}

// Score is a derived protocol risk assessment. Computed fresh per request
// from the current exploit record set; never persisted.
type Score struct {
	Protocol       string  `json:"protocol"`
	Score          int     `json:"score"` // 0-100
	RiskLevel      Level   `json:"risk_level"`
	RecentExploits int     `json:"recent_exploits"`
	TotalLossUSD   float64 `json:"total_loss_usd"`
	Recommendation string  `json:"recommendation"`
	Factors        Factors `json:"factors"`
}

// TokenApproval is one normalized token allowance granted by a wallet.
type TokenApproval struct {
	TokenAddress   string    `json:"token_address"`
	TokenSymbol    string    `json:"token_symbol"`
	SpenderAddress string    `json:"spender_address"`
	Allowance      string    `json:"allowance"` // raw integer as string
	IsUnlimited    bool      `json:"is_unlimited"`
	LastUpdated    time.Time `json:"last_updated"`
}

// FlagType names an approval risk rule.
type FlagType string

const (
	FlagUnlimited         FlagType = "unlimited"
	FlagStale             FlagType = "stale"
	FlagExploitedProtocol FlagType = "exploited_protocol"
	FlagSuspiciousSpender FlagType = "suspicious_spender"
)

// Flag is a discrete typed warning attached to a specific token approval.
type Flag struct {
	Type        FlagType          `json:"type"`
	Severity    exploits.Severity `json:"severity"`
	Description string            `json:"description"`
}

// ExploitProvider supplies exploit history for cross-referencing. Satisfied
// by the resilient data service; never fails the caller.
type ExploitProvider interface {
	FetchExploits(ctx context.Context, protocol, chain string) []exploits.Record
}
