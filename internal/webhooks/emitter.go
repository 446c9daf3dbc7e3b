package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solsentry/solsentry/internal/exploits"
	"github.com/solsentry/solsentry/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solsentry",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solsentry",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit domain events. All methods are
// fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitExploitDetected emits one exploit.detected event per record.
func (e *Emitter) EmitExploitDetected(records []exploits.Record) {
	for _, rec := range records {
		e.emit(EventExploitDetected, map[string]any{
			"protocol":      rec.Protocol,
			"chain":         rec.Chain,
			"severity":      string(rec.Severity),
			"lossUsd":       rec.LossUSD,
			"occurredAt":    rec.Timestamp,
			"description":   rec.Description,
			"attackVector":  rec.AttackVector,
		})
	}
}

// EmitBreakerStateChanged emits a breaker.state_changed event for a source.
func (e *Emitter) EmitBreakerStateChanged(source, from, to string) {
	e.emit(EventBreakerStateChanged, map[string]any{
		"source": source,
		"from":   from,
		"to":     to,
	})
}
