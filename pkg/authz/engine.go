package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/policygate/policygate/pkg/observability"
)

// Engine orchestrates the decision cache, circuit breaker, and policy
// client into fail-closed permission checks. Safe for concurrent use;
// checks for unrelated keys never serialize on each other.
type Engine struct {
	cache      *DecisionCache
	breaker    *CircuitBreaker
	client     PolicyChecker
	classifier RiskClassifier
	ttl        TTLPolicy
	failOpen   bool
	flight     singleflight.Group
	logger     observability.Logger
}

// EngineConfig holds engine tuning.
type EngineConfig struct {
	TTL TTLPolicy
	// Classifier tiers permissions for cache expiry; defaults to
	// DefaultRiskClassifier
	Classifier RiskClassifier
	// FailOpen allows requests through while the breaker is open. An
	// explicit availability-over-security escape hatch; always defaults
	// to fail-closed.
	FailOpen bool
}

// NewEngine creates the authorization engine. The breaker instance is
// injected so its state can be shared with health reporting.
func NewEngine(cache *DecisionCache, breaker *CircuitBreaker, client PolicyChecker, config EngineConfig, logger observability.Logger) *Engine {
	if config.Classifier == nil {
		config.Classifier = DefaultRiskClassifier
	}
	if config.TTL == (TTLPolicy{}) {
		config.TTL = DefaultTTLPolicy()
	}
	return &Engine{
		cache:      cache,
		breaker:    breaker,
		client:     client,
		classifier: config.Classifier,
		ttl:        config.TTL,
		failOpen:   config.FailOpen,
		logger:     logger.WithPrefix("authz-engine"),
	}
}

// CheckPermission resolves one permission for the given claims. It returns
// a decision when one could be reached (allowed or denied) and an error
// when the authority could not answer: ErrAuthorityUnavailable while the
// breaker is open, ErrAuthorityError when the upstream call failed.
func (e *Engine) CheckPermission(ctx context.Context, claims *Claims, permission string) (*Decision, error) {
	if claims == nil {
		return nil, ErrTokenInvalid
	}
	if !claims.ExpiresAt.After(time.Now()) {
		return nil, ErrTokenExpired
	}

	key := DecisionKey{
		OrganizationID: claims.OrganizationID,
		Subject:        claims.Subject,
		Permission:     permission,
	}

	if decision, ok := e.cache.Get(ctx, key); ok {
		return decision, nil
	}

	// Collapse concurrent misses for the same key into one upstream
	// resolution. DoChan runs the resolution on its own goroutine, so a
	// cancelled waiter abandons the call without aborting it: the shared
	// resolution still completes and updates cache and breaker state.
	ch := e.flight.DoChan(key.String(), func() (interface{}, error) {
		return e.resolve(key, permission)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ErrAuthorityUnavailable, ctx.Err().Error())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Decision), nil
	}
}

// resolve performs the upstream check for a cache miss. It runs detached
// from any caller context; the policy client bounds its own latency.
func (e *Engine) resolve(key DecisionKey, permission string) (*Decision, error) {
	result, err := e.breaker.Execute(context.Background(), func() (interface{}, error) {
		return e.client.CheckPermission(context.Background(), key.OrganizationID, key.Subject, permission)
	})
	if err != nil {
		if errors.Is(err, ErrAuthorityUnavailable) {
			if e.failOpen {
				e.logger.Warn("breaker open, failing open by configuration", map[string]interface{}{
					"key": key.String(),
				})
				return &Decision{
					ID:             uuid.NewString(),
					OrganizationID: key.OrganizationID,
					Subject:        key.Subject,
					Permission:     permission,
					Allowed:        true,
					Source:         SourceFailOpen,
					Reason:         "policy authority unavailable, fail-open enabled",
				}, nil
			}
			return nil, ErrAuthorityUnavailable
		}
		// An upstream error is not a policy decision: fail closed and
		// never cache it.
		return nil, errors.Wrap(ErrAuthorityError, err.Error())
	}

	upstream := result.(*UpstreamResult)
	ttl := e.ttl.For(e.classifier(permission), upstream.Allowed, upstream.TTL)

	decision := &Decision{
		ID:             uuid.NewString(),
		OrganizationID: key.OrganizationID,
		Subject:        key.Subject,
		Permission:     permission,
		Allowed:        upstream.Allowed,
		TTLSeconds:     int(ttl.Seconds()),
		Source:         SourceUpstream,
		Reason:         upstream.Reason,
	}

	// Best effort: a failed cache write costs a future upstream call, not
	// correctness.
	_ = e.cache.Put(context.Background(), key, decision, ttl)

	return decision, nil
}

// RequirePermission returns nil when the claims hold the permission,
// ErrPermissionDenied on a definitive no, and an unavailability error when
// the authority could not answer.
func (e *Engine) RequirePermission(ctx context.Context, claims *Claims, permission string) error {
	decision, err := e.CheckPermission(ctx, claims, permission)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		if decision.Reason != "" {
			return errors.Wrap(ErrPermissionDenied, decision.Reason)
		}
		return ErrPermissionDenied
	}
	return nil
}

// RequireAny returns nil when any of the permissions is allowed,
// short-circuiting on the first allow. When none is allowed and at least
// one check could not be answered, the unavailability error wins over the
// denial so callers never mistake "can't tell" for "no".
func (e *Engine) RequireAny(ctx context.Context, claims *Claims, permissions []string) error {
	if len(permissions) == 0 {
		return ErrPermissionDenied
	}

	var unavailable error
	for _, permission := range permissions {
		decision, err := e.CheckPermission(ctx, claims, permission)
		if err != nil {
			if errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
				return err
			}
			unavailable = err
			continue
		}
		if decision.Allowed {
			return nil
		}
	}
	if unavailable != nil {
		return unavailable
	}
	return ErrPermissionDenied
}

// RequireAll returns nil when every permission is allowed, short-circuiting
// on the first denial or unanswered check.
func (e *Engine) RequireAll(ctx context.Context, claims *Claims, permissions []string) error {
	for _, permission := range permissions {
		if err := e.RequirePermission(ctx, claims, permission); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateSubject drops every cached decision for a subject, used when
// the upstream authority revokes permissions.
func (e *Engine) InvalidateSubject(ctx context.Context, organizationID, subject string) error {
	return e.cache.Invalidate(ctx, organizationID, subject)
}

// Health reports the engine's liveness value from the breaker state:
// "healthy" while CLOSED or HALF_OPEN, "degraded" while OPEN.
func (e *Engine) Health() string {
	return e.breaker.Health()
}
