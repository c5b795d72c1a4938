// Package main is the entry point for the webapp service.
//
// The application performs the following initialization sequence:
//  1. Load configuration from config file and environment variables
//  2. Initialize structured logging with zap
//  3. Build the metric registry and the request lifecycle tracker
//  4. Connect the user store and, when enabled, Redis for caching,
//     rate limiting and event publishing
//  5. Register readiness dependencies with the health reporter
//  6. Configure the HTTP server with routes and middleware
//  7. Serve until SIGINT or SIGTERM, then drain and release resources
//
// Example usage:
//
//	# Start with default config
//	./webapp
//
//	# Start with custom config file
//	./webapp --config=/etc/webapp/config.yaml
//
//	# Start with environment variable overrides
//	export WEBAPP_SERVER_PORT=9090
//	export WEBAPP_STORAGE_BACKEND=redis
//	./webapp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/config"
	"github.com/piwi3910/webapp/internal/events"
	"github.com/piwi3910/webapp/internal/middleware"
	"github.com/piwi3910/webapp/internal/observability"
	"github.com/piwi3910/webapp/internal/server"
	"github.com/piwi3910/webapp/internal/storage"
)

// ServiceName is the name of this service.
const ServiceName = "webapp"

// Version is the application version (set via build flags).
var Version = "1.0.0"

var (
	// Command-line flags.
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		if _, err := fmt.Fprintf(os.Stdout, "%s version %s\n", ServiceName, Version); err != nil {
			panic(err)
		}
		os.Exit(0)
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the main application logic.
// It returns an error if any critical initialization or runtime error occurs.
func run(ctx context.Context) error {
	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, flush, err := observability.NewLogger(cfg.Observability.Logging, cfg.Environment, cfg.Service.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("webapp starting",
		zap.String("version", cfg.Service.Version),
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Storage.Backend),
	)

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		flush()
		return err
	}

	return serve(ctx, cfg, logger, flush, components)
}

// loadConfiguration loads and validates the application configuration.
func loadConfiguration(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applicationComponents holds all initialized application components.
type applicationComponents struct {
	redis     redis.UniversalClient
	store     storage.Store
	publisher *events.RedisPublisher
	health    *observability.HealthReporter
	server    *server.Server
}

// Close releases the store and the shared Redis client.
func (c *applicationComponents) Close(logger *zap.Logger) error {
	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("failed to close Redis connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// initializeComponents builds every component the server depends on. On
// failure whatever was already opened is closed again.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*applicationComponents, error) {
	registry, tracker, err := initializeMetrics(cfg, logger)
	if err != nil {
		return nil, err
	}

	components := &applicationComponents{}
	fail := func(err error) (*applicationComponents, error) {
		_ = components.Close(logger)
		return nil, err
	}

	if cfg.UsesRedis() {
		components.redis, err = initializeRedis(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
	}

	components.store, err = initializeStore(ctx, cfg, components.redis, logger)
	if err != nil {
		return fail(err)
	}

	if cfg.Messaging.Enabled {
		components.publisher, err = events.NewRedisPublisher(components.redis, events.StreamConfig{
			Stream:    cfg.Messaging.Stream,
			MaxLength: cfg.Messaging.MaxLength,
		}, registry, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create event publisher: %w", err))
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		limiter, err = middleware.NewRateLimiter(ctx, components.redis, middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
			Burst:             cfg.Security.RateLimit.Burst,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create rate limiter: %w", err))
		}
	}

	components.health = initializeHealth(cfg, components, logger)

	deps := server.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Registry:    registry,
		Tracker:     tracker,
		Health:      components.health,
		Store:       components.store,
		RateLimiter: limiter,
	}
	if components.publisher != nil {
		deps.Publisher = components.publisher
	}

	components.server, err = server.New(deps)
	if err != nil {
		return fail(fmt.Errorf("failed to create server: %w", err))
	}

	logger.Info("HTTP server created",
		zap.String("address", components.server.Addr()),
		zap.String("mode", cfg.Server.GinMode),
	)
	return components, nil
}

// initializeMetrics creates the registry and the lifecycle tracker. Metric
// registration errors are fatal.
func initializeMetrics(cfg *config.Config, logger *zap.Logger) (*observability.Registry, *observability.LifecycleTracker, error) {
	metrics := cfg.Observability.Metrics
	registry := observability.NewRegistry(metrics.Namespace)

	if err := registry.RegisterRuntimeCollectors(metrics.EnableGoMetrics, metrics.EnableProcessMetrics); err != nil {
		return nil, nil, fmt.Errorf("failed to register runtime collectors: %w", err)
	}

	tracker, err := observability.NewLifecycleTracker(registry, observability.NewRequestLogger(logger), logger, metrics.DurationBuckets)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create lifecycle tracker: %w", err)
	}
	return registry, tracker, nil
}

// initializeRedis creates the shared Redis client and verifies connectivity.
func initializeRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	client := storage.NewRedisClient(cfg.Storage.Redis)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connectivity check failed: %w", err)
	}

	logger.Info("Redis connectivity verified", zap.String("address", cfg.Storage.Redis.Address))
	return client, nil
}

// initializeStore opens the configured user store.
func initializeStore(ctx context.Context, cfg *config.Config, client redis.UniversalClient, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		if client == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		return storage.NewRedisStore(client, ""), nil
	case config.StoragePostgres:
		store, err := storage.OpenPostgres(ctx, cfg.Storage.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

// initializeHealth registers the readiness dependencies. The in-memory store
// and an unused cache are declared connected; everything backed by a network
// connection is checked.
func initializeHealth(cfg *config.Config, c *applicationComponents, logger *zap.Logger) *observability.HealthReporter {
	health := observability.NewHealthReporter(cfg.Environment, cfg.Service.Version,
		cfg.Health.RefreshInterval, cfg.Health.CheckTimeout, logger)

	if cfg.Storage.Backend == config.StorageMemory {
		health.RegisterStatic("database", observability.StatusConnected)
	} else {
		health.RegisterCheck("database", c.store.Ping)
	}

	if c.redis != nil {
		health.RegisterCheck("cache", func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		})
	} else {
		health.RegisterStatic("cache", observability.StatusConnected)
	}

	if c.publisher != nil {
		health.RegisterCheck("messaging", c.publisher.Ping)
	}

	logger.Info("readiness dependencies registered", zap.Strings("dependencies", health.Dependencies()))
	return health
}

// serve starts the health refresher and the HTTP server and blocks until
// shutdown has completed.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, flush func(), c *applicationComponents) error {
	healthCtx, stopHealth := context.WithCancel(ctx)
	c.health.Refresh(healthCtx)
	go c.health.Run(healthCtx)

	coordinator := server.NewShutdownCoordinator(c.server.HTTPServer(), cfg.Server.ShutdownTimeout, logger)
	coordinator.OnShutdown("logger", func(context.Context) error {
		flush()
		return nil
	})
	coordinator.OnShutdown("connections", func(context.Context) error {
		return c.Close(logger)
	})
	coordinator.OnShutdown("health", func(context.Context) error {
		stopHealth()
		return nil
	})

	ln, err := net.Listen("tcp", c.server.Addr())
	if err != nil {
		stopHealth()
		_ = c.Close(logger)
		flush()
		return fmt.Errorf("failed to listen on %s: %w", c.server.Addr(), err)
	}

	logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
	c.health.MarkStarted()

	return coordinator.Run(ctx, func() error {
		return c.server.HTTPServer().Serve(ln)
	})
}
