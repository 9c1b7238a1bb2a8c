package authz

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(sink EventSink) *TokenValidator {
	return NewTokenValidator(testSecret, "", sink)
}

func TestValidateToken(t *testing.T) {
	sink := &recordingSink{}
	v := newTestValidator(sink)

	now := time.Now()
	token := signToken(jwt.MapClaims{
		"sub":    "alice",
		"org_id": "org-1",
		"iat":    now.Add(-time.Minute).Unix(),
		"exp":    now.Add(time.Hour).Unix(),
		"role":   "editor",
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt, 2*time.Second)
	assert.Equal(t, "editor", claims.Extra["role"])

	assert.Equal(t, 1, sink.count("token_validated"))
	assert.Equal(t, 0, sink.count("legacy_org_defaulted"))
}

func TestValidateTokenExpired(t *testing.T) {
	v := newTestValidator(nil)

	token := signToken(jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenBadSignature(t *testing.T) {
	v := newTestValidator(nil)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := other.SignedString([]byte("a-different-secret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateTokenMalformed(t *testing.T) {
	v := newTestValidator(nil)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"missing sub", signToken(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{"missing exp", signToken(jwt.MapClaims{"sub": "alice"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.token)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestValidateTokenRejectsUnexpectedAlg(t *testing.T) {
	v := newTestValidator(nil)

	// alg=none must never be accepted even with a well-formed payload.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateTokenLegacyOrgDefaulted(t *testing.T) {
	sink := &recordingSink{}
	v := newTestValidator(sink)

	token := signToken(jwt.MapClaims{
		"sub": "legacy-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, DefaultOrganization, claims.OrganizationID)
	assert.Equal(t, 1, sink.count("legacy_org_defaulted"))
	assert.Equal(t, 1, sink.count("token_validated"))
}

func TestValidateTokenCustomDefaultOrg(t *testing.T) {
	v := NewTokenValidator(testSecret, "acme", &recordingSink{})

	token := signToken(jwt.MapClaims{
		"sub": "legacy-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.OrganizationID)
}
