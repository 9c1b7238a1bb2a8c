package authz

import (
	"time"

	"github.com/policygate/policygate/pkg/observability"
)

// Event is one of a closed set of typed observability events emitted by the
// engine and its components. How events are transported or stored is up to
// the EventSink implementation.
type Event interface {
	EventName() string
}

// EventSink receives engine events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Emit(event Event)
}

// TokenValidatedEvent is emitted after a credential passes validation.
// It never carries the raw credential or signature.
type TokenValidatedEvent struct {
	Subject      string
	TTLRemaining time.Duration
}

func (TokenValidatedEvent) EventName() string { return "token_validated" }

// LegacyOrgDefaultedEvent is emitted when a credential lacks an org_id claim
// and the default organization is substituted.
type LegacyOrgDefaultedEvent struct {
	Subject string
}

func (LegacyOrgDefaultedEvent) EventName() string { return "legacy_org_defaulted" }

// CacheHitEvent is emitted when a permission check is served from cache.
type CacheHitEvent struct {
	Key string
}

func (CacheHitEvent) EventName() string { return "decision_cache_hit" }

// CacheMissEvent is emitted when no cached decision exists for a key.
type CacheMissEvent struct {
	Key string
}

func (CacheMissEvent) EventName() string { return "decision_cache_miss" }

// DecisionCachedEvent is emitted when an upstream decision is written to
// the cache.
type DecisionCachedEvent struct {
	Key     string
	Allowed bool
	TTL     time.Duration
}

func (DecisionCachedEvent) EventName() string { return "decision_cached" }

// UpstreamCallEvent is emitted after every attempted policy authority call.
type UpstreamCallEvent struct {
	Key     string
	Status  CallStatus
	Latency time.Duration
	Slow    bool
}

func (UpstreamCallEvent) EventName() string { return "upstream_call" }

// BreakerTransitionEvent is emitted on every circuit breaker state change.
type BreakerTransitionEvent struct {
	Breaker string
	From    BreakerState
	To      BreakerState
	At      time.Time
}

func (BreakerTransitionEvent) EventName() string { return "breaker_transition" }

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink
func (NopSink) Emit(event Event) {}

// LogSink forwards events to a logger and metrics client.
type LogSink struct {
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewLogSink creates an EventSink backed by the given logger and metrics
// client.
func NewLogSink(logger observability.Logger, metrics observability.MetricsClient) *LogSink {
	return &LogSink{
		logger:  logger.WithPrefix("authz"),
		metrics: metrics,
	}
}

// Emit implements EventSink
func (s *LogSink) Emit(event Event) {
	switch e := event.(type) {
	case TokenValidatedEvent:
		s.metrics.IncrementCounter("authz.token.validated", 1)
		s.logger.Debug("token validated", map[string]interface{}{
			"subject":        e.Subject,
			"expires_in_sec": int(e.TTLRemaining.Seconds()),
		})
	case LegacyOrgDefaultedEvent:
		s.metrics.IncrementCounter("authz.token.legacy_org_defaulted", 1)
		s.logger.Warn("credential missing org_id, default organization substituted", map[string]interface{}{
			"subject": e.Subject,
		})
	case CacheHitEvent:
		s.metrics.IncrementCounter("authz.cache.hit", 1)
		s.logger.Debug("decision cache hit", map[string]interface{}{
			"key": e.Key,
		})
	case CacheMissEvent:
		s.metrics.IncrementCounter("authz.cache.miss", 1)
		s.logger.Debug("decision cache miss", map[string]interface{}{
			"key": e.Key,
		})
	case DecisionCachedEvent:
		s.logger.Debug("decision cached", map[string]interface{}{
			"key":     e.Key,
			"allowed": e.Allowed,
			"ttl":     e.TTL.String(),
		})
	case UpstreamCallEvent:
		s.metrics.IncrementCounterWithLabels("authz.upstream.calls", 1, map[string]string{
			"status": e.Status.String(),
		})
		s.metrics.RecordTimer("authz.upstream.duration", e.Latency, nil)
		if e.Slow {
			s.logger.Warn("slow policy authority call", map[string]interface{}{
				"key":        e.Key,
				"latency_ms": e.Latency.Milliseconds(),
				"status":     e.Status.String(),
			})
		}
	case BreakerTransitionEvent:
		s.metrics.IncrementCounterWithLabels("authz.breaker.transitions", 1, map[string]string{
			"from": e.From.String(),
			"to":   e.To.String(),
		})
		s.logger.Info("circuit breaker state change", map[string]interface{}{
			"breaker": e.Breaker,
			"from":    e.From.String(),
			"to":      e.To.String(),
			"at":      e.At.Format(time.RFC3339),
		})
	}
}
