// Package config provides configuration management for the webapp service.
// It loads configuration from YAML files and environment variables using Viper
// and validates the result before any component is constructed.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath is the configuration file used when no --config flag is given.
const DefaultConfigPath = ""

// Supported environments.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config represents the complete configuration for the webapp service.
//
// Configuration can be loaded from:
//   - YAML file (config/config.yaml)
//   - Environment variables (prefixed with WEBAPP_)
//   - The bare variables PORT, NODE_ENV, LOG_LEVEL, ALLOWED_ORIGINS,
//     BUILD_NUMBER and GIT_COMMIT
//
// Example:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Service       ServiceConfig       `mapstructure:"service"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
	Security      SecurityConfig      `mapstructure:"security"`
	Validation    ValidationConfig    `mapstructure:"validation"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
}

// ServiceConfig identifies the running build.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Build   string `mapstructure:"build"`
	Commit  string `mapstructure:"commit"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the network interface to bind to (e.g., "0.0.0.0", "localhost")
	Host string `mapstructure:"host"`

	// Port is the HTTP server port (default: 3000)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the grace period in-flight requests get to drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// BodyLimitBytes caps JSON and form request bodies
	BodyLimitBytes int64 `mapstructure:"body_limit_bytes"`

	// GinMode sets the Gin framework mode ("debug", "release", "test")
	GinMode string `mapstructure:"gin_mode"`
}

// ObservabilityConfig contains logging and metrics configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level sets the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level"`

	// Format sets the console format ("json", "console")
	Format string `mapstructure:"format"`

	// Console enables the stdout sink
	Console bool `mapstructure:"console"`

	// CombinedFile receives every record; empty disables the sink
	CombinedFile string `mapstructure:"combined_file"`

	// ErrorFile receives error-level records only; empty disables the sink
	ErrorFile string `mapstructure:"error_file"`

	// BufferSize is the per-file write buffer in bytes
	BufferSize int `mapstructure:"buffer_size"`

	// FlushInterval bounds how long a buffered record may wait before reaching disk
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Path is the HTTP path for metrics endpoint (default: "/metrics")
	Path string `mapstructure:"path"`

	// Namespace is prefixed to every metric name when set
	Namespace string `mapstructure:"namespace"`

	// DurationBuckets are the request duration histogram boundaries in seconds
	DurationBuckets []float64 `mapstructure:"duration_buckets"`

	// EnableGoMetrics enables Go runtime metrics
	EnableGoMetrics bool `mapstructure:"enable_go_metrics"`

	// EnableProcessMetrics enables process metrics
	EnableProcessMetrics bool `mapstructure:"enable_process_metrics"`
}

// HealthConfig controls the readiness cache refresh.
type HealthConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CheckTimeout    time.Duration `mapstructure:"check_timeout"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	Headers   HeadersConfig   `mapstructure:"headers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// HeadersConfig configures the security headers middleware.
type HeadersConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ContentSecurityPolicy string `mapstructure:"content_security_policy"`
	HSTSMaxAge            int    `mapstructure:"hsts_max_age"`
	HSTSIncludeSubDomains bool   `mapstructure:"hsts_include_subdomains"`
	HSTSPreload           bool   `mapstructure:"hsts_preload"`
}

// RateLimitConfig configures the Redis-backed rate limiter.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// ValidationConfig contains OpenAPI request validation configuration.
type ValidationConfig struct {
	// Enabled enables OpenAPI request validation for /api/v1
	Enabled bool `mapstructure:"enabled"`

	// SpecPath is the path to a custom OpenAPI specification file
	// If empty, the embedded spec will be used
	SpecPath string `mapstructure:"spec_path"`
}

// StorageConfig selects and configures the user store.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis client configuration.
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string `mapstructure:"address"`

	// Password for Redis authentication (optional)
	Password string `mapstructure:"password"`

	// DB is the Redis database number (0-15)
	DB int `mapstructure:"db"`

	// PoolSize is the maximum number of socket connections
	PoolSize int `mapstructure:"pool_size"`

	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int `mapstructure:"max_retries"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig contains database configuration.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// MessagingConfig enables the Redis stream event publisher.
type MessagingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Stream    string `mapstructure:"stream"`
	MaxLength int64  `mapstructure:"max_length"`
}

// IsDevelopment reports whether detailed error messages may be exposed.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == StorageRedis || c.Messaging.Enabled || c.Security.RateLimit.Enabled
}

// Load loads configuration from the specified file path and environment variables.
// Environment variables override file values and should be prefixed with WEBAPP_
// (e.g., WEBAPP_SERVER_PORT=8080).
//
// Returns an error if the configuration file cannot be read or parsed.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webapp")
	}

	v.SetEnvPrefix("WEBAPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional if all values come from env vars
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv maps the un-prefixed variables deployments already set.
// The prefixed name keeps precedence.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":                   {"WEBAPP_SERVER_PORT", "PORT"},
		"environment":                   {"WEBAPP_ENVIRONMENT", "NODE_ENV"},
		"observability.logging.level":   {"WEBAPP_OBSERVABILITY_LOGGING_LEVEL", "LOG_LEVEL"},
		"security.cors.allowed_origins": {"WEBAPP_SECURITY_CORS_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		"service.build":                 {"WEBAPP_SERVICE_BUILD", "BUILD_NUMBER"},
		"service.commit":                {"WEBAPP_SERVICE_COMMIT", "GIT_COMMIT"},
		"storage.postgres.dsn":          {"WEBAPP_STORAGE_POSTGRES_DSN", "DATABASE_URL"},
	}

	keys := make([]string, 0, len(bindings))
	for key := range bindings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		args := append([]string{key}, bindings[key]...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	// Service defaults
	v.SetDefault("service.name", "webapp")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.build", "local")
	v.SetDefault("service.commit", "unknown")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_header_bytes", 1048576) // 1MB
	v.SetDefault("server.body_limit_bytes", 10<<20)  // 10MB
	v.SetDefault("server.gin_mode", "release")

	// Logging defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.console", true)
	v.SetDefault("observability.logging.combined_file", "logs/combined.log")
	v.SetDefault("observability.logging.error_file", "logs/error.log")
	v.SetDefault("observability.logging.buffer_size", 256*1024)
	v.SetDefault("observability.logging.flush_interval", "1s")

	// Metrics defaults
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.metrics.namespace", "")
	v.SetDefault("observability.metrics.duration_buckets", []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10})
	v.SetDefault("observability.metrics.enable_go_metrics", true)
	v.SetDefault("observability.metrics.enable_process_metrics", true)

	// Health defaults
	v.SetDefault("health.refresh_interval", "15s")
	v.SetDefault("health.check_timeout", "2s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE"})
	v.SetDefault("security.cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("security.cors.allow_credentials", true)
	v.SetDefault("security.cors.max_age", 600)
	v.SetDefault("security.headers.enabled", true)
	v.SetDefault("security.headers.content_security_policy",
		"default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; img-src 'self' data: https:")
	v.SetDefault("security.headers.hsts_max_age", 31536000) // 1 year
	v.SetDefault("security.headers.hsts_include_subdomains", true)
	v.SetDefault("security.headers.hsts_preload", true)
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_second", 100)
	v.SetDefault("security.rate_limit.burst", 200)

	// Validation defaults
	v.SetDefault("validation.enabled", true)
	v.SetDefault("validation.spec_path", "")

	// Storage defaults
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.max_retries", 3)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 4)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.migrate", true)

	// Messaging defaults
	v.SetDefault("messaging.enabled", false)
	v.SetDefault("messaging.stream", "events:users")
	v.SetDefault("messaging.max_length", 10000)
}

// Validate validates the configuration and returns an error if any values are invalid.
// This should be called after Load() to ensure the configuration is valid before use.
func (c *Config) Validate() error {
	if err := c.validateEnvironment(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateObservability(); err != nil {
		return err
	}

	if err := c.validateHealth(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	return nil
}

// validateEnvironment validates the deployment environment name.
func (c *Config) validateEnvironment() error {
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvStaging, EnvProduction:
		return nil
	default:
		return fmt.Errorf("invalid environment: %s (must be development, test, staging, or production)", c.Environment)
	}
}

// validateServer validates the server configuration.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.GinMode != "debug" && c.Server.GinMode != "release" && c.Server.GinMode != "test" {
		return fmt.Errorf("invalid gin_mode: %s (must be debug, release, or test)", c.Server.GinMode)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout: %s (must be > 0)", c.Server.ShutdownTimeout)
	}

	if c.Server.BodyLimitBytes <= 0 {
		return fmt.Errorf("invalid body_limit_bytes: %d (must be > 0)", c.Server.BodyLimitBytes)
	}

	return nil
}

// validateObservability validates the observability configuration.
func (c *Config) validateObservability() error {
	if err := c.validateLogging(); err != nil {
		return err
	}

	return c.validateMetrics()
}

// validateLogging validates the logging configuration.
func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Observability.Logging.Level)
	}

	if c.Observability.Logging.Format != "json" && c.Observability.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s (must be json or console)", c.Observability.Logging.Format)
	}

	return nil
}

// validateMetrics validates the metrics configuration.
func (c *Config) validateMetrics() error {
	m := c.Observability.Metrics
	if !m.Enabled {
		return nil
	}

	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q (must start with /)", m.Path)
	}

	if len(m.DurationBuckets) == 0 {
		return fmt.Errorf("metrics duration_buckets cannot be empty")
	}

	for i := 1; i < len(m.DurationBuckets); i++ {
		if m.DurationBuckets[i] <= m.DurationBuckets[i-1] {
			return fmt.Errorf("metrics duration_buckets must be strictly ascending: %v", m.DurationBuckets)
		}
	}

	return nil
}

// validateHealth validates the readiness refresh settings.
func (c *Config) validateHealth() error {
	if c.Health.RefreshInterval < time.Second {
		return fmt.Errorf("invalid health refresh_interval: %s (must be >= 1s)", c.Health.RefreshInterval)
	}

	if c.Health.CheckTimeout <= 0 || c.Health.CheckTimeout > c.Health.RefreshInterval {
		return fmt.Errorf("invalid health check_timeout: %s (must be > 0 and <= refresh_interval)", c.Health.CheckTimeout)
	}

	return nil
}

// validateSecurity validates the security configuration.
func (c *Config) validateSecurity() error {
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.RequestsPerSecond < 1 {
			return fmt.Errorf("invalid rate_limit requests_per_second: %d (must be > 0)",
				c.Security.RateLimit.RequestsPerSecond)
		}

		if c.Security.RateLimit.Burst < c.Security.RateLimit.RequestsPerSecond {
			return fmt.Errorf("invalid rate_limit burst: %d (must be >= requests_per_second)",
				c.Security.RateLimit.Burst)
		}
	}

	for _, origin := range c.Security.CORS.AllowedOrigins {
		if origin == "*" && c.Security.CORS.AllowCredentials {
			return fmt.Errorf("cors allowed_origins cannot contain * when allow_credentials is set")
		}
	}

	return nil
}

// validateStorage validates the storage and messaging configuration.
func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage postgres dsn is required for the postgres backend")
		}
	case StorageRedis:
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, redis, or postgres)", c.Storage.Backend)
	}

	if c.UsesRedis() {
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage redis address cannot be empty")
		}

		if c.Storage.Redis.DB < 0 || c.Storage.Redis.DB > 15 {
			return fmt.Errorf("invalid redis db: %d (must be 0-15)", c.Storage.Redis.DB)
		}
	}

	if c.Messaging.Enabled && c.Messaging.Stream == "" {
		return fmt.Errorf("messaging stream cannot be empty when messaging is enabled")
	}

	return nil
}
