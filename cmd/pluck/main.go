package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/use-agent/pluck/api"
	"github.com/use-agent/pluck/api/handler"
	"github.com/use-agent/pluck/cache"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/fetcher"
	"github.com/use-agent/pluck/gate"
	"github.com/use-agent/pluck/ratelimit"
	"github.com/use-agent/pluck/scraper"
	"github.com/use-agent/pluck/urlguard"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	logger := initLogger(cfg.Log)
	logger.Info("pluck starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"gate_store", cfg.Gate.Store,
		"cache", cfg.Cache.Backend,
	)

	// ── 3. Shared Redis connection (only when a backend needs it) ──
	var rdb *redis.Client
	if cfg.Gate.Store == "redis" || cfg.Cache.Backend == "redis" {
		var err error
		rdb, err = newRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Address, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// ── 4. Admission gate ───────────────────────────────────────────
	var store ratelimit.Store
	if cfg.Gate.Store == "redis" {
		store = ratelimit.NewRedisStore(rdb)
	} else {
		mem := ratelimit.NewMemoryStore()
		defer mem.Close()
		store = mem
	}
	g := gate.New(store, gate.Config{
		PathPrefix:   cfg.Gate.PathPrefix,
		HealthPath:   cfg.Gate.HealthPath,
		IPLimit:      cfg.Gate.IPLimit,
		IPWindow:     cfg.Gate.IPWindow,
		DomainLimit:  cfg.Gate.DomainLimit,
		DomainWindow: cfg.Gate.DomainWindow,
		GlobalLimit:  cfg.Gate.GlobalLimit,
		GlobalWindow: cfg.Gate.GlobalWindow,
		Production:   cfg.Server.IsProduction(),
	}, logger)

	// ── 5. URL guard and fetcher ────────────────────────────────────
	validator := urlguard.New(urlguard.Options{
		MaxURLLength:      cfg.URLGuard.MaxURLLength,
		DeniedHosts:       cfg.URLGuard.DeniedHosts,
		Resolver:          net.DefaultResolver,
		RequireResolvable: cfg.URLGuard.RequireResolvable,
	})

	fetchOpts := []fetcher.Option{fetcher.WithLogger(logger)}
	if cfg.URLGuard.DialGuard {
		fetchOpts = append(fetchOpts, fetcher.WithDialControl(validator.DialControl))
	}
	f := fetcher.New(fetcher.Config{
		Timeout:        cfg.Fetcher.Timeout,
		MaxRetries:     cfg.Fetcher.MaxRetries,
		UserAgent:      cfg.Fetcher.UserAgent,
		InitialBackoff: cfg.Fetcher.InitialBackoff,
		MaxBackoff:     cfg.Fetcher.MaxBackoff,
		MaxBodyBytes:   cfg.Fetcher.MaxBodyBytes,
		HostRPS:        cfg.Fetcher.HostRPS,
		HostBurst:      cfg.Fetcher.HostBurst,
		ChromeTLS:      cfg.Fetcher.ChromeTLS,
	}, fetchOpts...)
	defer f.Close()

	// ── 6. Cache ────────────────────────────────────────────────────
	var pageCache cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		pageCache = cache.NewRedis(rdb)
	case "none":
		pageCache = cache.Nop{}
	default:
		mem := cache.NewMemory(cfg.Cache.MaxEntries)
		defer mem.Close()
		pageCache = mem
	}

	// ── 7. Pipeline ─────────────────────────────────────────────────
	pipeline := scraper.NewPipeline(scraper.Deps{
		Validator: validator,
		Fetcher:   f,
		Cache:     pageCache,
		Logger:    logger,
	}, scraper.Options{
		CacheTTL: cfg.Cache.TTL,
		Timeout:  f.WorstCase(),
	})

	// ── 8. Router ───────────────────────────────────────────────────
	var ping handler.Pinger
	if rdb != nil {
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Extractor: pipeline,
		Gate:      g,
		Logger:    logger,
		StartTime: time.Now(),
		Ping:      ping,
	})

	// ── 9. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ───────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
	} else {
		logger.Info("HTTP server drained gracefully")
	}
	logger.Info("pluck stopped")
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// initLogger configures slog from LogConfig and installs it as default.
func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
