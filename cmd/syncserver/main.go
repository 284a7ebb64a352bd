// Package main provides the entry point for the sync server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/storesync/internal/codec"
	"github.com/devrev/storesync/internal/config"
	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/handler"
	"github.com/devrev/storesync/internal/health"
	"github.com/devrev/storesync/internal/metrics"
	"github.com/devrev/storesync/internal/middleware"
	"github.com/devrev/storesync/internal/mutator"
	"github.com/devrev/storesync/internal/scope"
	"github.com/devrev/storesync/internal/server"
	"github.com/devrev/storesync/internal/service"
	"github.com/devrev/storesync/internal/store"
)

// backends are the storage dependencies selected by configuration.
type backends struct {
	records   store.RecordStore
	ledger    store.MutationLedger
	cache     store.Cache
	cacheType string
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting sync server",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	b, err := openBackends(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open backends", zap.Error(err))
	}
	defer b.close()

	cacheCodec, err := codec.New(cfg.Cache.Codec)
	if err != nil {
		logger.Fatal("failed to create cache codec", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	partitioner := scope.NewPartitioner(logger)
	readThrough := service.NewReadThroughService(b.cache, cacheCodec, b.cacheType, m, logger)
	partitioner.OnRebind(readThrough.OnRebind)

	errorHandler := errors.NewHandler(logger)
	handlers := handler.NewHandlers(
		service.NewReconcilerService(b.records, b.ledger, mutator.NewStorefrontRegistry(), partitioner, cfg.Reconciler.MaxConflictRetries, m, logger),
		service.NewPullService(b.records, b.ledger, partitioner, cfg.Pull.DefaultLimit, cfg.Pull.MaxLimit, m, logger),
		service.NewCatalogService(b.records, readThrough, cfg.Cache.TTL, logger),
		partitioner,
		errorHandler,
		logger,
		cfg.Server.RequestTimeout,
	)

	healthCheck := health.NewHealthChecker(map[string]health.Pinger{
		"record_store": b.records,
		"ledger":       b.ledger,
		"cache":        b.cache,
	}, logger)

	httpServer := server.NewServer(cfg, handlers, healthCheck, middleware.NewHeaderSessionResolver(), errorHandler, m, logger)
	httpServer.SetupRoutes()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown metrics server", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("sync server shutdown complete")
}

// openBackends creates the record store, ledger and cache named by cfg.
func openBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		client, err := store.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		redisClient = client
		b.closers = append(b.closers, func() { _ = redisClient.Close() })
	}

	switch cfg.Store.Backend {
	case "postgres":
		pg, err := store.NewPostgresRecordStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			b.close()
			return nil, err
		}
		b.records = pg
		b.closers = append(b.closers, pg.Close)
	default:
		b.records = store.NewMemoryRecordStore(logger)
	}

	switch cfg.Ledger.Backend {
	case "redis":
		b.ledger = store.NewRedisLedgerFromClient(redisClient, cfg.Ledger.TTL, logger)
	default:
		ledger := store.NewMemoryLedger(cfg.Ledger.TTL, logger)
		b.ledger = ledger
		b.closers = append(b.closers, func() { _ = ledger.Close() })
	}

	switch cfg.Cache.Backend {
	case "redis":
		b.cache = store.NewRedisCache(redisClient, cfg.Cache.KeyPrefix, logger)
		b.cacheType = "redis"
	default:
		cache, err := store.NewMemoryCache(cfg.Cache.MaxSize, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.cache = cache
		b.cacheType = "memory"
	}

	return b, nil
}

// initLogger initializes the zap logger.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
