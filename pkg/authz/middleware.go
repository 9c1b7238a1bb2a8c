package authz

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/gin-gonic/gin"

	"github.com/policygate/policygate/pkg/observability"
)

// ClaimsContextKey is the gin context key holding the validated claims.
const ClaimsContextKey = "authz_claims"

// Middleware wires the validator and engine into gin handlers. The engine
// itself stays transport-agnostic; this is the thin HTTP collaborator.
type Middleware struct {
	validator *TokenValidator
	engine    *Engine
	logger    observability.Logger
}

// NewMiddleware creates the gin middleware set.
func NewMiddleware(validator *TokenValidator, engine *Engine, logger observability.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		engine:    engine,
		logger:    logger.WithPrefix("authz-middleware"),
	}
}

// Authenticate validates the bearer credential and stores the claims in the
// request context. Requests without a valid credential get a 401.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		claims, err := m.validator.Validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			m.logger.Warn("authentication failed", map[string]interface{}{
				"error": err.Error(),
				"ip":    c.ClientIP(),
				"path":  c.Request.URL.Path,
			})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			c.Abort()
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Next()
	}
}

// RequirePermission aborts with 403 when the permission is denied and 503
// when the policy authority cannot answer.
func (m *Middleware) RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.require(c, func(claims *Claims) error {
			return m.engine.RequirePermission(c.Request.Context(), claims, permission)
		})
	}
}

// RequireAny passes when any of the permissions is allowed.
func (m *Middleware) RequireAny(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.require(c, func(claims *Claims) error {
			return m.engine.RequireAny(c.Request.Context(), claims, permissions)
		})
	}
}

// RequireAll passes only when every permission is allowed.
func (m *Middleware) RequireAll(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.require(c, func(claims *Claims) error {
			return m.engine.RequireAll(c.Request.Context(), claims, permissions)
		})
	}
}

func (m *Middleware) require(c *gin.Context, check func(*Claims) error) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
		return
	}

	if err := check(claims); err != nil {
		status, message := statusForError(err)
		c.JSON(status, gin.H{"error": message})
		c.Abort()
		return
	}
	c.Next()
}

// ClaimsFromContext returns the validated claims stored by Authenticate.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	value, exists := c.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*Claims)
	return claims, ok
}

// statusForError maps the error taxonomy onto HTTP statuses: 401 for bad
// credentials, 403 for a definitive no, 503 for "can't tell".
func statusForError(err error) (int, string) {
	switch {
	case IsUnavailable(err):
		return http.StatusServiceUnavailable, "authorization service unavailable"
	case errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, "invalid credential"
	default:
		return http.StatusForbidden, "permission denied"
	}
}
