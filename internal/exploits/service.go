package exploits

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/solsentry/solsentry/internal/circuitbreaker"
	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/metrics"
	"github.com/solsentry/solsentry/internal/syncutil"
	"github.com/solsentry/solsentry/internal/traces"
)

// ServiceConfig configures the resilient data service.
type ServiceConfig struct {
	Sources          []Source
	BreakerThreshold int           // consecutive failures before a source opens
	BreakerCooldown  time.Duration // open duration before a half-open probe
	SourceTimeout    time.Duration // per-source fetch budget
	CacheTTL         time.Duration // result cache lifetime per request shape
	Logger           *slog.Logger

	// OnNewRecords, if set, receives records that were not present in the
	// previous cached result for the same request shape (feeds the realtime hub).
	OnNewRecords func(records []Record)

	// OnBreakerTransition, if set, is notified when a source circuit changes
	// state. Runs on its own goroutine.
	OnBreakerTransition func(source string, from, to circuitbreaker.State)
}

// Service fans a fetch out over all non-open sources concurrently, merges and
// dedupes their records, and caches the merged result per request shape.
// FetchExploits never fails the caller: a source failure means that source
// contributed zero records this round.
type Service struct {
	sources      []Source
	breaker      *circuitbreaker.Breaker
	cache        *resultCache
	fills        *syncutil.KeyedMutex
	timeout      time.Duration
	logger       *slog.Logger
	onNewRecords func(records []Record)
}

// NewService creates a resilient exploit data service.
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.SourceTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	if cfg.OnBreakerTransition != nil {
		breaker.OnTransition(cfg.OnBreakerTransition)
	}
	return &Service{
		sources:      cfg.Sources,
		breaker:      breaker,
		cache:        newResultCache(cfg.CacheTTL),
		fills:        syncutil.NewKeyedMutex(),
		timeout:      timeout,
		logger:       logging.Component(cfg.Logger, "data_service"),
		onNewRecords: cfg.OnNewRecords,
	}
}

// FetchExploits returns exploit records matching the optional protocol and
// chain filters, newest first. On total upstream failure it returns an empty
// slice, never an error.
func (s *Service) FetchExploits(ctx context.Context, protocol, chain string) []Record {
	ctx, span := traces.StartSpan(ctx, "exploits.FetchExploits",
		traces.Protocol(protocol), traces.Chain(chain))
	defer span.End()

	key := cacheKey(protocol, chain)
	if records, ok := s.cache.get(key); ok {
		return records
	}

	// Single-flight per request shape: concurrent cache misses for the same
	// protocol|chain wait for one fill instead of fanning out in parallel.
	unlock, err := s.fills.Lock(ctx, key)
	if err != nil {
		return []Record{}
	}
	defer unlock()

	if records, ok := s.cache.get(key); ok {
		return records
	}

	previous := s.cache.previous(key)
	merged := s.fanOut(ctx, protocol, chain)
	s.cache.put(key, merged)

	if s.onNewRecords != nil {
		if fresh := diffRecords(previous, merged); len(fresh) > 0 {
			s.onNewRecords(fresh)
		}
	}
	return merged
}

// Health returns per-source circuit snapshots plus cache counters.
func (s *Service) Health() ([]circuitbreaker.Snapshot, CacheStats) {
	keys := make([]string, len(s.sources))
	for i, src := range s.sources {
		keys[i] = src.Name()
	}
	return s.breaker.Snapshots(keys), s.cache.stats()
}

type fetchResult struct {
	source  string
	records []Record
	err     error
}

// fanOut queries every source whose circuit admits the call, each under its
// own timeout. A slow or open source never blocks the others; breaker
// bookkeeping is recorded for every completed call even if the inbound
// request was cancelled in the meantime.
func (s *Service) fanOut(ctx context.Context, protocol, chain string) []Record {
	results := make(chan fetchResult, len(s.sources))
	inFlight := 0

	for _, src := range s.sources {
		if !s.breaker.Allow(src.Name()) {
			metrics.SourceFetchesTotal.WithLabelValues(src.Name(), "skipped").Inc()
			continue
		}
		inFlight++

		go func(src Source) {
			fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			records, err := src.FetchExploits(fetchCtx, protocol, chain)
			metrics.SourceFetchDuration.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())

			results <- fetchResult{source: src.Name(), records: records, err: err}
		}(src)
	}

	merged := make([]Record, 0)
	seen := make(map[string]struct{})
	for i := 0; i < inFlight; i++ {
		res := <-results
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				// Client abort, not a source defect: no failure is counted,
				// but an abandoned half-open probe must hand its slot back or
				// the circuit never resolves.
				s.breaker.ReleaseProbe(res.source)
				metrics.SourceFetchesTotal.WithLabelValues(res.source, "cancelled").Inc()
				continue
			}
			s.breaker.RecordFailure(res.source)
			metrics.SourceFetchesTotal.WithLabelValues(res.source, "error").Inc()
			s.logger.Warn("source fetch failed",
				"source", res.source,
				"protocol", protocol,
				"chain", chain,
				"error", res.err,
			)
			continue
		}
		s.breaker.RecordSuccess(res.source)
		metrics.SourceFetchesTotal.WithLabelValues(res.source, "ok").Inc()

		for _, rec := range res.records {
			id := rec.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, rec)
		}
	}

	if len(merged) == 0 && inFlight == 0 {
		s.logger.Warn("all sources open, returning empty result",
			"protocol", protocol, "chain", chain)
	}

	// Ties on timestamp break on identity so pagination cursors see the same
	// order on every refresh.
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		return merged[i].Identity() < merged[j].Identity()
	})
	return merged
}

func cacheKey(protocol, chain string) string {
	return protocol + "|" + chain
}

// diffRecords returns records in fresh that are absent from previous.
func diffRecords(previous, fresh []Record) []Record {
	if len(fresh) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(previous))
	for _, rec := range previous {
		known[rec.Identity()] = struct{}{}
	}
	var out []Record
	for _, rec := range fresh {
		if _, ok := known[rec.Identity()]; !ok {
			out = append(out, rec)
		}
	}
	return out
}
