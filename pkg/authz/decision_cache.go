package authz

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/policygate/policygate/pkg/cache"
	"github.com/policygate/policygate/pkg/observability"
)

// DecisionCache stores prior permission outcomes keyed by
// (organization, subject, permission). Writes replace entries wholesale, so
// conflicting allow/deny decisions for one key never coexist.
type DecisionCache struct {
	store  cache.Cache
	sink   EventSink
	logger observability.Logger
}

// NewDecisionCache wraps a cache backend as a decision store. A nil sink
// discards events.
func NewDecisionCache(store cache.Cache, sink EventSink, logger observability.Logger) *DecisionCache {
	if sink == nil {
		sink = NopSink{}
	}
	return &DecisionCache{
		store:  store,
		sink:   sink,
		logger: logger.WithPrefix("decision-cache"),
	}
}

// Get returns the cached decision for key, or ok=false on a miss. Hits and
// misses are both emitted as events; hit rate is hits/(hits+misses).
func (c *DecisionCache) Get(ctx context.Context, key DecisionKey) (*Decision, bool) {
	var decision Decision
	err := c.store.Get(ctx, key.String(), &decision)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			// Backend trouble reads as a miss; the breaker guards the
			// upstream call that follows.
			c.logger.Warn("decision cache read failed", map[string]interface{}{
				"key":   key.String(),
				"error": err.Error(),
			})
		}
		c.sink.Emit(CacheMissEvent{Key: key.String()})
		return nil, false
	}

	decision.Source = SourceCache
	c.sink.Emit(CacheHitEvent{Key: key.String()})
	return &decision, true
}

// Put caches a decision for ttl. Last writer wins.
func (c *DecisionCache) Put(ctx context.Context, key DecisionKey, decision *Decision, ttl time.Duration) error {
	if err := c.store.Set(ctx, key.String(), decision, ttl); err != nil {
		c.logger.Warn("decision cache write failed", map[string]interface{}{
			"key":   key.String(),
			"error": err.Error(),
		})
		return err
	}
	c.sink.Emit(DecisionCachedEvent{
		Key:     key.String(),
		Allowed: decision.Allowed,
		TTL:     ttl,
	})
	return nil
}

// Invalidate drops every cached decision for a subject within an
// organization, used when permissions are revoked.
func (c *DecisionCache) Invalidate(ctx context.Context, organizationID, subject string) error {
	err := c.store.DeleteByPrefix(ctx, subjectKeyPrefix(organizationID, subject))
	if err != nil {
		return errors.Wrap(err, "invalidating cached decisions")
	}
	c.logger.Info("cached decisions invalidated", map[string]interface{}{
		"organization_id": organizationID,
		"subject":         subject,
	})
	return nil
}
