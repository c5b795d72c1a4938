package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/webapp/internal/config"
)

// writeConfig writes the YAML to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad tests the Load function with various scenarios.
func TestLoad(t *testing.T) {
	tests := []struct {
		name       string
		configYAML string
		envVars    map[string]string
		wantErr    bool
		validate   func(*testing.T, *config.Config)
	}{
		{
			name:       "defaults only",
			configYAML: "server:\n  host: 0.0.0.0\n",
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, config.EnvDevelopment, cfg.Environment)
				assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, int64(10<<20), cfg.Server.BodyLimitBytes)
				assert.Equal(t, []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10}, cfg.Observability.Metrics.DurationBuckets)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Security.CORS.AllowedOrigins)
				assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
				assert.Equal(t, "1.0.0", cfg.Service.Version)
				assert.Equal(t, "local", cfg.Service.Build)
			},
		},
		{
			name: "complete config",
			configYAML: `
environment: production
service:
  name: webapp
  version: 2.1.0
server:
  host: 127.0.0.1
  port: 9090
  shutdown_timeout: 20s
  gin_mode: debug
observability:
  logging:
    level: debug
    format: console
    combined_file: ""
  metrics:
    path: /prometheus
    namespace: webapp
    duration_buckets: [0.05, 0.5, 5]
health:
  refresh_interval: 30s
  check_timeout: 5s
security:
  cors:
    allowed_origins:
      - https://app.example.com
  rate_limit:
    enabled: true
    requests_per_second: 10
    burst: 20
storage:
  backend: redis
  redis:
    address: redis:6379
    db: 2
messaging:
  enabled: true
`,
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.EnvProduction, cfg.Environment)
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, "2.1.0", cfg.Service.Version)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, "console", cfg.Observability.Logging.Format)
				assert.Empty(t, cfg.Observability.Logging.CombinedFile)
				assert.Equal(t, "/prometheus", cfg.Observability.Metrics.Path)
				assert.Equal(t, []float64{0.05, 0.5, 5}, cfg.Observability.Metrics.DurationBuckets)
				assert.Equal(t, 30*time.Second, cfg.Health.RefreshInterval)
				assert.Equal(t, []string{"https://app.example.com"}, cfg.Security.CORS.AllowedOrigins)
				assert.True(t, cfg.Security.RateLimit.Enabled)
				assert.Equal(t, "redis:6379", cfg.Storage.Redis.Address)
				assert.Equal(t, 2, cfg.Storage.Redis.DB)
				assert.True(t, cfg.UsesRedis())
			},
		},
		{
			name:       "prefixed environment variable override",
			configYAML: "server:\n  port: 8080\n",
			envVars: map[string]string{
				"WEBAPP_SERVER_PORT":                 "9999",
				"WEBAPP_OBSERVABILITY_LOGGING_LEVEL": "warn",
				"WEBAPP_STORAGE_BACKEND":             "postgres",
			},
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 9999, cfg.Server.Port)
				assert.Equal(t, "warn", cfg.Observability.Logging.Level)
				assert.Equal(t, config.StoragePostgres, cfg.Storage.Backend)
			},
		},
		{
			name:       "bare environment variables",
			configYAML: "server:\n  host: 0.0.0.0\n",
			envVars: map[string]string{
				"PORT":            "4000",
				"NODE_ENV":        "staging",
				"LOG_LEVEL":       "error",
				"ALLOWED_ORIGINS": "https://a.example.com,https://b.example.com",
				"BUILD_NUMBER":    "42",
				"GIT_COMMIT":      "abc123",
			},
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 4000, cfg.Server.Port)
				assert.Equal(t, config.EnvStaging, cfg.Environment)
				assert.Equal(t, "error", cfg.Observability.Logging.Level)
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.CORS.AllowedOrigins)
				assert.Equal(t, "42", cfg.Service.Build)
				assert.Equal(t, "abc123", cfg.Service.Commit)
			},
		},
		{
			name: "invalid yaml",
			configYAML: `
server:
  port: [not, a, number
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := config.Load(writeConfig(t, tt.configYAML))
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

// validConfig returns a configuration that passes Validate.
func validConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid environment",
			mutate:  func(c *config.Config) { c.Environment = "qa" },
			wantErr: "invalid environment",
		},
		{
			name:    "port out of range",
			mutate:  func(c *config.Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "invalid gin mode",
			mutate:  func(c *config.Config) { c.Server.GinMode = "loud" },
			wantErr: "invalid gin_mode",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *config.Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "invalid shutdown_timeout",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Observability.Logging.Level = "trace" },
			wantErr: "invalid logging level",
		},
		{
			name:    "unsorted buckets",
			mutate:  func(c *config.Config) { c.Observability.Metrics.DurationBuckets = []float64{1, 0.5} },
			wantErr: "strictly ascending",
		},
		{
			name:    "metrics path without slash",
			mutate:  func(c *config.Config) { c.Observability.Metrics.Path = "metrics" },
			wantErr: "invalid metrics path",
		},
		{
			name:    "check timeout above interval",
			mutate:  func(c *config.Config) { c.Health.CheckTimeout = time.Minute },
			wantErr: "invalid health check_timeout",
		},
		{
			name: "wildcard origin with credentials",
			mutate: func(c *config.Config) {
				c.Security.CORS.AllowedOrigins = []string{"*"}
				c.Security.CORS.AllowCredentials = true
			},
			wantErr: "cors allowed_origins",
		},
		{
			name: "rate limit burst below rate",
			mutate: func(c *config.Config) {
				c.Security.RateLimit.Enabled = true
				c.Security.RateLimit.RequestsPerSecond = 10
				c.Security.RateLimit.Burst = 5
			},
			wantErr: "invalid rate_limit burst",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "mongo" },
			wantErr: "invalid storage backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *config.Config) { c.Storage.Backend = config.StoragePostgres },
			wantErr: "dsn is required",
		},
		{
			name: "redis db out of range",
			mutate: func(c *config.Config) {
				c.Storage.Backend = config.StorageRedis
				c.Storage.Redis.DB = 16
			},
			wantErr: "invalid redis db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUsesRedis(t *testing.T) {
	cfg := validConfig(t)
	assert.False(t, cfg.UsesRedis())

	cfg.Messaging.Enabled = true
	assert.True(t, cfg.UsesRedis())
}
