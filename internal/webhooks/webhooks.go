// Package webhooks delivers exploit alerts to subscriber-registered URLs.
//
// Clients register a URL plus event/protocol filters and receive signed
// POST notifications when new exploits land or a data source circuit
// changes state.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of webhook event.
type EventType string

const (
	EventExploitDetected     EventType = "exploit.detected"
	EventBreakerStateChanged EventType = "breaker.state_changed"
)

// Subscriptions that keep failing are switched off after this many
// consecutive delivery failures.
const maxConsecutiveFailures = 10

// Event is the payload POSTed to subscriber URLs.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription represents a registered webhook.
type Subscription struct {
	ID                  string      `json:"id"`
	Owner               string      `json:"owner"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // used for HMAC signing
	Events              []EventType `json:"events"`
	Protocols           []string    `json:"protocols,omitempty"` // empty = all protocols
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// wants reports whether the subscription matches the event's type and,
// for exploit events, its protocol filter.
func (s *Subscription) wants(event *Event) bool {
	matched := false
	for _, et := range s.Events {
		if et == event.Type {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if event.Type != EventExploitDetected || len(s.Protocols) == 0 {
		return true
	}
	protocol, _ := event.Data["protocol"].(string)
	for _, p := range s.Protocols {
		if strings.EqualFold(p, protocol) {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByOwner(ctx context.Context, owner string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher delivers events to matching subscriptions.
type Dispatcher struct {
	store  Store
	client *http.Client
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch sends an event to every active subscription whose filters match.
// Deliveries run async so a slow subscriber never blocks the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event) {
			continue
		}
		go d.send(ctx, sub, event)
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.recordFailure(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SolSentry-Event", string(event.Type))
	req.Header.Set("X-SolSentry-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	if sub.Secret != "" {
		req.Header.Set("X-SolSentry-Signature", sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.recordSuccess(ctx, sub)
	} else {
		d.recordFailure(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	_ = d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory Store used when no database is configured.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByOwner(ctx context.Context, owner string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Owner == owner {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
