package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solsentry/solsentry/internal/exploits"
	"github.com/solsentry/solsentry/internal/logging"
)

// Scoring windows and weights.
const (
	recentWindow    = 30 * 24 * time.Hour
	crossRefWindow  = 90 * 24 * time.Hour
	staleAfterDays  = 180
	lossDenominator = 10_000_000 // USD at which total loss saturates

	weightFrequency = 0.4
	weightTotalLoss = 0.3
	weightRecency   = 0.3
)

// Engine computes protocol risk scores and approval risk flags. The router
// table and deny list are injected data, not constants, so deployments and
// tests can substitute their own.
type Engine struct {
	data     ExploitProvider
	routers  map[string]string   // normalized spender address → protocol slug
	denyList map[string]struct{} // normalized spender addresses
	logger   *slog.Logger
}

// NewEngine creates a risk engine. routers maps known router/spender
// addresses to protocol slugs; denyList holds spender addresses flagged as
// malicious. Both are matched case-insensitively.
func NewEngine(data ExploitProvider, routers map[string]string, denyList []string, logger *slog.Logger) *Engine {
	normRouters := make(map[string]string, len(routers))
	for addr, protocol := range routers {
		normRouters[normalizeAddress(addr)] = protocol
	}
	normDeny := make(map[string]struct{}, len(denyList))
	for _, addr := range denyList {
		normDeny[normalizeAddress(addr)] = struct{}{}
	}
	return &Engine{
		data:     data,
		routers:  normRouters,
		denyList: normDeny,
		logger:   logging.Component(logger, "risk_engine"),
	}
}

// ScoreProtocol derives a deterministic risk score from an exploit record
// set. Only the three component scores and the final score are rounded;
// intermediate ratios are not.
func (e *Engine) ScoreProtocol(protocol string, records []exploits.Record) Score {
	return scoreProtocolAt(protocol, records, time.Now())
}

func scoreProtocolAt(protocol string, records []exploits.Record, now time.Time) Score {
	recentCutoff := now.Add(-recentWindow)

	var (
		recentCount  int
		totalLossUSD float64
		latest       time.Time
	)
	distribution := make(map[exploits.Severity]int)

	for _, rec := range records {
		totalLossUSD += rec.LossUSD
		distribution[rec.Severity]++
		if rec.Timestamp.After(recentCutoff) {
			recentCount++
		}
		if rec.Timestamp.After(latest) {
			latest = rec.Timestamp
		}
	}

	frequencyScore := math.Round(math.Min(100, float64(recentCount)/10*100))
	lossScore := math.Round(math.Min(100, totalLossUSD/lossDenominator*100))

	// No records means days-since-latest is effectively infinite.
	var recencyScore float64
	if !latest.IsZero() {
		age := now.Sub(latest)
		switch {
		case age < 7*24*time.Hour:
			recencyScore = 100
		case age < 30*24*time.Hour:
			recencyScore = 50
		}
	}

	raw := weightFrequency*frequencyScore + weightTotalLoss*lossScore + weightRecency*recencyScore
	final := int(math.Round(raw))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}

	level, recommendation := levelFor(final)

	return Score{
		Protocol:       protocol,
		Score:          final,
		RiskLevel:      level,
		RecentExploits: recentCount,
		TotalLossUSD:   totalLossUSD,
		Recommendation: recommendation,
		Factors: Factors{
			ExploitFrequency:     frequencyScore,
			TotalLoss:            lossScore,
			Recency:              recencyScore,
			SeverityDistribution: distribution,
		},
	}
}

func levelFor(score int) (Level, string) {
	switch {
	case score >= 75:
		return LevelCritical, RecommendAvoid
	case score >= 50:
		return LevelHigh, RecommendCaution
	case score >= 25:
		return LevelMedium, RecommendMonitor
	default:
		return LevelLow, RecommendAcceptable
	}
}

// AuditApprovals evaluates every rule against every approval and returns
// flags keyed by "tokenAddress-spenderAddress". Approvals that trigger no
// rule are omitted from the result entirely.
func (e *Engine) AuditApprovals(ctx context.Context, approvals []TokenApproval) map[string][]Flag {
	result := make(map[string][]Flag)
	now := time.Now()

	for _, approval := range approvals {
		flags := e.evaluateApproval(ctx, approval, now)
		if len(flags) == 0 {
			continue
		}
		key := approval.TokenAddress + "-" + approval.SpenderAddress
		result[key] = flags
	}
	return result
}

func (e *Engine) evaluateApproval(ctx context.Context, approval TokenApproval, now time.Time) []Flag {
	var flags []Flag

	if approval.IsUnlimited {
		flags = append(flags, Flag{
			Type:     FlagUnlimited,
			Severity: exploits.SeverityHigh,
			Description: fmt.Sprintf("approval allows unlimited spending of %s",
				symbolOrAddress(approval)),
		})
	}

	if ageDays := now.Sub(approval.LastUpdated).Hours() / 24; ageDays > staleAfterDays {
		flags = append(flags, Flag{
			Type:     FlagStale,
			Severity: exploits.SeverityMedium,
			Description: fmt.Sprintf("approval has not been updated in %d days",
				int(ageDays)),
		})
	}

	spender := normalizeAddress(approval.SpenderAddress)

	if protocol, known := e.routers[spender]; known {
		if flag, ok := e.exploitedProtocolFlag(ctx, protocol, now); ok {
			flags = append(flags, flag)
		}
	}

	if _, denied := e.denyList[spender]; denied {
		flags = append(flags, Flag{
			Type:        FlagSuspiciousSpender,
			Severity:    exploits.SeverityCritical,
			Description: "spender address is on the known-malicious deny list",
		})
	}

	return flags
}

// exploitedProtocolFlag cross-references a spender's protocol against
// exploit history. Severity tiers: critical when a critical/high incident
// hit within 90 days, high for lesser incidents within 90 days, medium when
// matches exist only outside the window.
func (e *Engine) exploitedProtocolFlag(ctx context.Context, protocol string, now time.Time) (Flag, bool) {
	records := e.data.FetchExploits(ctx, protocol, "")
	if len(records) == 0 {
		return Flag{}, false
	}

	cutoff := now.Add(-crossRefWindow)
	var inWindow, severeInWindow bool
	for _, rec := range records {
		if rec.Timestamp.After(cutoff) {
			inWindow = true
			if rec.Severity == exploits.SeverityCritical || rec.Severity == exploits.SeverityHigh {
				severeInWindow = true
			}
		}
	}

	severity := exploits.SeverityMedium
	detail := "outside the last 90 days"
	switch {
	case severeInWindow:
		severity = exploits.SeverityCritical
		detail = "with critical or high severity in the last 90 days"
	case inWindow:
		severity = exploits.SeverityHigh
		detail = "in the last 90 days"
	}

	return Flag{
		Type:     FlagExploitedProtocol,
		Severity: severity,
		Description: fmt.Sprintf("spender belongs to protocol %q which has exploit history %s",
			protocol, detail),
	}, true
}

func symbolOrAddress(approval TokenApproval) string {
	if approval.TokenSymbol != "" {
		return approval.TokenSymbol
	}
	return approval.TokenAddress
}

// normalizeAddress lowercases an address for case-insensitive matching,
// canonicalizing EVM hex addresses through their checksum form first.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}
