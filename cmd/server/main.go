package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/analytics"
	"github.com/sjpalmer/wikivandal/internal/cache"
	"github.com/sjpalmer/wikivandal/internal/config"
	"github.com/sjpalmer/wikivandal/internal/events"
	"github.com/sjpalmer/wikivandal/internal/history"
	api "github.com/sjpalmer/wikivandal/internal/httpapi"
	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/resilience"
	"github.com/sjpalmer/wikivandal/internal/warmer"
	"github.com/sjpalmer/wikivandal/internal/wikipedia"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	portOverride := flag.Int("port", 0, "Override API port (default from config)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *portOverride > 0 {
		cfg.API.Port = *portOverride
	}

	level, _ := zerolog.ParseLevel(cfg.Logging.Level)
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "wikivandal").Logger().Level(level)
	logger.Info().Str("config", cfgPath).Int("port", cfg.API.Port).Msg("starting wikivandal reconstitution server")

	// ---- Metrics ----
	metrics.InitMetrics()
	metricsServer := metrics.NewServer(cfg.API.MetricsPort, logger)
	if err := metricsServer.Start(); err != nil {
		logger.Warn().Err(err).Int("port", cfg.API.MetricsPort).Msg("metrics server failed to start (non-fatal)")
	} else {
		logger.Info().Int("port", cfg.API.MetricsPort).Msg("metrics server started")
	}

	// ---- Redis (shared by cache, hot-title tracker, rate limiter) ----
	timeouts := resilience.DefaultTimeoutConfig()
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" || cfg.Warmer.Enabled || cfg.API.RateLimiting.Enabled {
		redisAddr := strings.TrimPrefix(cfg.Redis.URL, "redis://")
		redisClient = redis.NewClient(&redis.Options{
			Addr:         redisAddr,
			DialTimeout:  timeouts.Redis.DialTimeout,
			ReadTimeout:  timeouts.Redis.ReadTimeout,
			WriteTimeout: timeouts.Redis.WriteTimeout,
			PoolTimeout:  timeouts.Redis.PoolTimeout,
			PoolSize:     50,
		})
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Redis.DialTimeout)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis not reachable at startup (will retry on requests)")
		} else {
			logger.Info().Str("addr", redisAddr).Msg("connected to redis")
		}
		cancel()
	}

	// ---- Wikipedia API client ----
	wikiClient := wikipedia.NewClient(wikipedia.Config{
		BaseURL:           cfg.Wikipedia.BaseURL,
		UserAgent:         cfg.Wikipedia.UserAgent,
		RequestsPerSecond: cfg.Wikipedia.RequestsPerSecond,
		Burst:             cfg.Wikipedia.Burst,
		Timeout:           cfg.Wikipedia.Timeout,
	}, logger)

	// ---- Response cache ----
	var respCache cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		respCache = cache.NewRedisCache(redisClient)
	default:
		respCache = cache.NewMemoryCache()
	}

	// ---- Optional history store (SQLite) ----
	var historyStore *history.Store
	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0755); err != nil {
			logger.Warn().Err(err).Str("path", cfg.History.Path).Msg("failed to create history directory, history disabled")
		} else {
			historyStore, err = history.NewStore(cfg.History.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", cfg.History.Path).Msg("failed to open history store, history disabled")
				historyStore = nil
			} else {
				logger.Info().Str("path", cfg.History.Path).Msg("history store ready")
			}
		}
	}

	// ---- Optional Elasticsearch analytics sink ----
	var analyticsClient *analytics.Client
	if cfg.Elasticsearch.Enabled {
		analyticsClient, err = analytics.NewClient(cfg.Elasticsearch, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect to elasticsearch, analytics disabled")
			analyticsClient = nil
		} else {
			analyticsClient.StartBulkProcessor()
			logger.Info().Str("url", cfg.Elasticsearch.URL).Msg("connected to elasticsearch")
		}
	}

	// ---- Optional Kafka event publisher ----
	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to start event publisher, events disabled")
			publisher = nil
		} else if err := publisher.Start(); err != nil {
			logger.Warn().Err(err).Msg("event publisher failed to start, events disabled")
			publisher = nil
		} else {
			logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("event publisher started")
		}
	}

	// ---- Optional hot-title tracker + recentchanges warmer ----
	var hotTitles *warmer.HotTitleTracker
	var watcher *warmer.RecentChangeWatcher
	if cfg.Warmer.Enabled {
		hotTitles = warmer.NewHotTitleTracker(redisClient, cfg.Warmer, logger)
		hotTitles.StartCleanup()

		refresh := func(ctx context.Context, title string) {
			canonical, err := wikiClient.ResolveTitle(ctx, title)
			if err != nil {
				logger.Warn().Err(err).Str("title", title).Msg("warmer: failed to resolve title")
				return
			}
			revisions, err := wikiClient.RevisionLog(ctx, canonical)
			if err != nil || len(revisions) == 0 {
				return
			}
			if _, err := wikiClient.RevisionContent(ctx, revisions[0].RevID); err != nil {
				logger.Warn().Err(err).Str("title", canonical).Msg("warmer: failed to refresh content")
			}
		}
		watcher = warmer.NewRecentChangeWatcher(cfg.Warmer, hotTitles, refresh, logger)
		if err := watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("recentchanges watcher failed to start, warming disabled")
			watcher = nil
		} else {
			logger.Info().Msg("recentchanges warmer started")
		}
	}

	// ---- Degradation manager ----
	features := config.NewFeatureFlags(logger)
	degradation := resilience.NewDegradationManager(features, logger)

	// ---- HTTP server ----
	deps := api.Dependencies{
		Wikipedia:   wikiClient,
		Cache:       respCache,
		History:     historyStore,
		Analytics:   analyticsClient,
		Events:      publisher,
		HotTitles:   hotTitles,
		Degradation: degradation,
		Redis:       redisClient,
	}
	apiServer := api.NewAPIServer(deps, cfg, logger)
	httpServer := apiServer.ListenAndServe("")

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	_ = apiServer.Shutdown(shutdownCtx)

	if watcher != nil {
		watcher.Stop()
	}
	if hotTitles != nil {
		hotTitles.Shutdown()
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("event publisher close error")
		}
	}
	if analyticsClient != nil {
		analyticsClient.Stop()
	}
	if historyStore != nil {
		if err := historyStore.Close(); err != nil {
			logger.Error().Err(err).Msg("history store close error")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("wikivandal server stopped")
}
