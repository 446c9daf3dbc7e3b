// Package exploits supplies normalized DeFi exploit records from multiple
// independent upstream sources, tolerating per-source failure.
package exploits

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Severity of an exploit record.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ValidSeverity reports whether s is one of the known severity values.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Record is one normalized exploit event. Adapters produce identical shapes
// regardless of upstream origin; records are immutable downstream.
type Record struct {
	Protocol     string    `json:"protocol"`
	Chain        string    `json:"chain"`
	Severity     Severity  `json:"severity"`
	LossUSD      float64   `json:"loss_usd"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description"`
	AttackVector string    `json:"attack_vector"`
}

// Identity is the stable dedupe key for a record.
func (r Record) Identity() string {
	return strings.Join([]string{
		strings.ToLower(r.Protocol),
		strings.ToLower(r.Chain),
		strconv.FormatInt(r.Timestamp.Unix(), 10),
		r.Description,
	}, "|")
}

// Source is one upstream exploit-data provider. Implementations must honor
// ctx cancellation and return normalized records only.
type Source interface {
	Name() string
	FetchExploits(ctx context.Context, protocol, chain string) ([]Record, error)
}
