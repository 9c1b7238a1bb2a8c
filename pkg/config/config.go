// Package config loads the policygate service configuration from an
// optional YAML file plus POLICYGATE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/policygate/policygate/pkg/authz"
	"github.com/policygate/policygate/pkg/cache"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// AuthConfig holds credential validation settings.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	DefaultOrg string `mapstructure:"default_org"`
}

// BreakerConfig extends the breaker tuning with the fail-open toggle. The
// toggle trades security for availability while the breaker is open and
// must always be set explicitly.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	FailOpen         bool          `mapstructure:"fail_open"`
}

// CacheConfig selects and tunes the decision cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend  string            `mapstructure:"backend"`
	MaxItems int               `mapstructure:"max_items"`
	Redis    cache.RedisConfig `mapstructure:"redis"`
	TTL      authz.TTLPolicy   `mapstructure:"ttl"`
}

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Auth     AuthConfig               `mapstructure:"auth"`
	Upstream authz.PolicyClientConfig `mapstructure:"upstream"`
	Breaker  BreakerConfig            `mapstructure:"breaker"`
	Cache    CacheConfig              `mapstructure:"cache"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("POLICYGATE_CONFIG_FILE")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("POLICYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is not required if environment variables are set
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	// Environment values arrive as strings; weak typing converts them to
	// the numeric and boolean fields.
	err := v.Unmarshal(&config, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	})
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")

	// Required settings get empty defaults so viper knows the keys and
	// picks up their environment overrides.
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.default_org", authz.DefaultOrganization)

	v.SetDefault("upstream.timeout", 3*time.Second)
	v.SetDefault("upstream.slow_threshold", 500*time.Millisecond)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", 30*time.Second)
	v.SetDefault("breaker.fail_open", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_items", 10000)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.dial_timeout", 5*time.Second)
	v.SetDefault("cache.redis.read_timeout", 3*time.Second)
	v.SetDefault("cache.redis.write_timeout", 3*time.Second)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.min_idle_conns", 2)
	v.SetDefault("cache.redis.max_retries", 3)

	ttl := authz.DefaultTTLPolicy()
	v.SetDefault("cache.ttl.high_risk", ttl.HighRisk)
	v.SetDefault("cache.ttl.standard", ttl.Standard)
	v.SetDefault("cache.ttl.low_risk", ttl.LowRisk)
	v.SetDefault("cache.ttl.denial", ttl.Denial)
}
