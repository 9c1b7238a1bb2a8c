package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// DefaultOrganization is substituted when a legacy credential carries no
// org_id claim. Validation never fails solely for a missing organization.
const DefaultOrganization = "default"

// Claims holds the identity attributes extracted from a validated
// credential. Immutable for the lifetime of a request.
type Claims struct {
	Subject        string                 `json:"subject"`
	OrganizationID string                 `json:"organization_id"`
	IssuedAt       time.Time              `json:"issued_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// registeredClaimNames are lifted into Claims fields; everything else lands
// in Claims.Extra untouched.
var registeredClaimNames = map[string]bool{
	"sub":    true,
	"org_id": true,
	"exp":    true,
	"iat":    true,
	"nbf":    true,
}

// TokenValidator verifies and decodes bearer credentials into Claims.
type TokenValidator struct {
	secret     []byte
	defaultOrg string
	sink       EventSink
}

// NewTokenValidator creates a validator for HMAC-signed credentials. A nil
// sink discards events.
func NewTokenValidator(secret string, defaultOrg string, sink EventSink) *TokenValidator {
	if defaultOrg == "" {
		defaultOrg = DefaultOrganization
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &TokenValidator{
		secret:     []byte(secret),
		defaultOrg: defaultOrg,
		sink:       sink,
	}
}

// Validate verifies the credential's structure, signature, and expiry and
// returns the embedded claims. Expiry comparison is direct, with no skew
// tolerance. The raw credential is never logged.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.Wrap(ErrTokenInvalid, "empty credential")
	}

	raw := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(ErrTokenInvalid, err.Error())
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	subject, _ := raw["sub"].(string)
	if subject == "" {
		return nil, errors.Wrap(ErrTokenInvalid, "missing sub claim")
	}

	exp, ok := raw["exp"].(float64)
	if !ok {
		return nil, errors.Wrap(ErrTokenInvalid, "missing exp claim")
	}
	expiresAt := time.Unix(int64(exp), 0)
	if !expiresAt.After(time.Now()) {
		return nil, ErrTokenExpired
	}

	claims := &Claims{
		Subject:   subject,
		ExpiresAt: expiresAt,
	}
	if iat, ok := raw["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}

	if org, ok := raw["org_id"].(string); ok && org != "" {
		claims.OrganizationID = org
	} else {
		// Backward compatibility for legacy credentials issued before
		// organizations existed.
		claims.OrganizationID = v.defaultOrg
		v.sink.Emit(LegacyOrgDefaultedEvent{Subject: subject})
	}

	for name, value := range raw {
		if registeredClaimNames[name] {
			continue
		}
		if claims.Extra == nil {
			claims.Extra = make(map[string]interface{})
		}
		claims.Extra[name] = value
	}

	v.sink.Emit(TokenValidatedEvent{
		Subject:      subject,
		TTLRemaining: time.Until(expiresAt),
	})

	return claims, nil
}
