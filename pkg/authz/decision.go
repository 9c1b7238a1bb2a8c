package authz

import (
	"fmt"
	"strings"
	"time"
)

// DecisionSource records where a permission decision came from.
type DecisionSource string

// Decision sources
const (
	SourceCache    DecisionSource = "cache"
	SourceUpstream DecisionSource = "upstream"
	SourceFailOpen DecisionSource = "fail_open"
)

// Decision is the allow/deny outcome for one (organization, subject,
// permission) tuple. Cached decisions are immutable; refreshes replace the
// entry wholesale.
type Decision struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Subject        string         `json:"subject"`
	Permission     string         `json:"permission"`
	Allowed        bool           `json:"allowed"`
	TTLSeconds     int            `json:"ttl_seconds"`
	Source         DecisionSource `json:"source"`
	Reason         string         `json:"reason,omitempty"`
}

// DecisionKey identifies one cached decision.
type DecisionKey struct {
	OrganizationID string
	Subject        string
	Permission     string
}

// decisionKeyPrefix is the namespace shared with any external cache store.
const decisionKeyPrefix = "auth:permission"

// String renders the key in its textual cache form
// auth:permission:{org}:{sub}:{permission}.
func (k DecisionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", decisionKeyPrefix, k.OrganizationID, k.Subject, k.Permission)
}

// subjectKeyPrefix is the prefix covering every permission cached for one
// (organization, subject) pair, used for bulk invalidation on revocation.
func subjectKeyPrefix(organizationID, subject string) string {
	return fmt.Sprintf("%s:%s:%s:", decisionKeyPrefix, organizationID, subject)
}

// RiskTier buckets permissions by how quickly a cached allow must be
// re-verified.
type RiskTier int

// Risk tiers
const (
	// TierStandard covers mutating but non-escalating permissions
	TierStandard RiskTier = iota
	// TierHigh covers privilege-escalating permissions; cached allows
	// expire within tens of seconds
	TierHigh
	// TierLow covers read-only permissions
	TierLow
)

func (t RiskTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierLow:
		return "low"
	default:
		return "standard"
	}
}

// RiskClassifier maps a permission identifier to its risk tier.
type RiskClassifier func(permission string) RiskTier

// highRiskActions are actions that grant or remove capability.
var highRiskActions = map[string]bool{
	"admin":  true,
	"delete": true,
	"grant":  true,
	"revoke": true,
	"manage": true,
}

// lowRiskActions are read-only actions.
var lowRiskActions = map[string]bool{
	"read": true,
	"get":  true,
	"list": true,
	"view": true,
}

// DefaultRiskClassifier tiers a "resource:action" permission by its action
// suffix. Unknown actions land in the standard tier.
func DefaultRiskClassifier(permission string) RiskTier {
	idx := strings.LastIndex(permission, ":")
	action := permission
	if idx >= 0 {
		action = permission[idx+1:]
	}
	switch {
	case highRiskActions[action]:
		return TierHigh
	case lowRiskActions[action]:
		return TierLow
	default:
		return TierStandard
	}
}

// TTLPolicy holds the per-tier cache lifetimes for decisions.
type TTLPolicy struct {
	HighRisk time.Duration `mapstructure:"high_risk"`
	Standard time.Duration `mapstructure:"standard"`
	LowRisk  time.Duration `mapstructure:"low_risk"`
	// Denial applies to every allowed=false decision regardless of tier:
	// long enough to avoid hammering upstream, short enough to pick up
	// newly granted access promptly.
	Denial time.Duration `mapstructure:"denial"`
}

// DefaultTTLPolicy returns the reference tier lifetimes.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		HighRisk: 30 * time.Second,
		Standard: 2 * time.Minute,
		LowRisk:  5 * time.Minute,
		Denial:   2 * time.Minute,
	}
}

// For picks the cache TTL for a decision. upstreamTTL, when positive, caps
// the tier value: the policy authority may demand faster re-verification
// but never extend it.
func (p TTLPolicy) For(tier RiskTier, allowed bool, upstreamTTL time.Duration) time.Duration {
	var ttl time.Duration
	if !allowed {
		ttl = p.Denial
	} else {
		switch tier {
		case TierHigh:
			ttl = p.HighRisk
		case TierLow:
			ttl = p.LowRisk
		default:
			ttl = p.Standard
		}
	}
	if upstreamTTL > 0 && upstreamTTL < ttl {
		ttl = upstreamTTL
	}
	return ttl
}
