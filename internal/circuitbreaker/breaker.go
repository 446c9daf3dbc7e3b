// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "solsentry",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// entry tracks per-key circuit state.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
}

// Snapshot is a point-in-time view of one key's circuit, exposed on the
// health endpoint.
type Snapshot struct {
	Key                 string    `json:"key"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitzero"`
}

// Breaker is a per-key circuit breaker. It tracks consecutive failure counts
// per key and trips open when failures reach the threshold. After
// openDuration, the circuit moves to half-open and allows one probe request.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	onTransition func(key string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openDuration <= 0 {
		openDuration = 60 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// OnTransition registers a callback invoked on every state change. The
// callback runs on its own goroutine and must not call back into the breaker
// synchronously with expectations about ordering.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow returns true if a request to key should be allowed.
// If the circuit is open and openDuration has elapsed, it transitions to
// half-open and admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true // No entry = closed
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Already probing; reject until the probe completes
	default:
		return true
	}
}

// RecordSuccess records a successful request. Resets the failure count and
// closes the circuit if it was half-open.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}

	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure records a failed request. If consecutive failures reach
// the threshold, trips the circuit open. A failed half-open probe reopens
// the circuit with a fresh cooldown.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = time.Now()

	if e.state == StateHalfOpen {
		// Probe failed, back to open.
		b.transition(e, key, StateOpen)
		return
	}

	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, key, StateOpen)
	}
}

// ReleaseProbe returns a half-open circuit to open without counting a
// failure. Callers use it when the probe was abandoned rather than answered,
// so the next Allow can admit a fresh probe instead of rejecting forever.
// The last-failure clock is not touched: if the cooldown already elapsed, the
// next Allow re-probes immediately.
func (b *Breaker) ReleaseProbe(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.state != StateHalfOpen {
		return
	}
	b.transition(e, key, StateOpen)
}

// State returns the current state for a key. Returns StateClosed for unknown keys.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Snapshots returns the current circuit view for the given keys, in the
// order given. Unknown keys report a closed circuit.
func (b *Breaker) Snapshots(keys []string) []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		s := Snapshot{Key: key, State: StateClosed}
		if e, ok := b.entries[key]; ok {
			s.State = e.state
			s.ConsecutiveFailures = e.failures
			s.OpenedAt = e.openedAt
		}
		out = append(out, s)
	}
	return out
}

// transition changes state and records metrics. Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	if to == StateOpen {
		e.openedAt = time.Now()
	}
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		go b.onTransition(key, from, to)
	}
}
