// Command policygate runs the authorization gatekeeper service: it
// validates bearer credentials and answers permission checks against a
// remote policy authority, caching decisions and failing closed when the
// authority is unavailable.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/policygate/policygate/pkg/authz"
	"github.com/policygate/policygate/pkg/cache"
	"github.com/policygate/policygate/pkg/config"
	"github.com/policygate/policygate/pkg/observability"
)

func main() {
	logger := observability.NewStandardLogger("policygate")
	metrics := observability.NewNoopMetricsClient()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}

	store, err := buildCache(cfg)
	if err != nil {
		logger.Fatal("failed to initialize cache backend", map[string]interface{}{
			"backend": cfg.Cache.Backend,
			"error":   err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	sink := authz.NewLogSink(logger, metrics)

	validator := authz.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.DefaultOrg, sink)
	decisionCache := authz.NewDecisionCache(store, sink, logger)
	breaker := authz.NewCircuitBreaker("policy-authority", authz.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, sink, logger)
	client := authz.NewHTTPPolicyClient(cfg.Upstream, sink, logger)

	engine := authz.NewEngine(decisionCache, breaker, client, authz.EngineConfig{
		TTL:      cfg.Cache.TTL,
		FailOpen: cfg.Breaker.FailOpen,
	}, logger)

	middleware := authz.NewMiddleware(validator, engine, logger)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		health := engine.Health()
		status := http.StatusOK
		if health == authz.HealthDegraded {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": health})
	})

	v1 := router.Group("/v1", middleware.Authenticate())
	v1.POST("/check", func(c *gin.Context) {
		var body struct {
			Permission string `json:"permission" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "permission is required"})
			return
		}

		claims, _ := authz.ClaimsFromContext(c)
		decision, err := engine.CheckPermission(c.Request.Context(), claims, body.Permission)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authorization service unavailable"})
			return
		}
		c.JSON(http.StatusOK, decision)
	})

	server := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}

	go func() {
		logger.Info("policygate listening", map[string]interface{}{
			"addr":    cfg.Server.Listen,
			"backend": cfg.Cache.Backend,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisCache(cfg.Cache.Redis)
	}
	return cache.NewMemoryCache(cfg.Cache.MaxItems)
}
