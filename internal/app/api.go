package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasview/layerd/internal/coordinator"
	v1 "github.com/atlasview/layerd/internal/infrastructure/http/v1"
	"github.com/atlasview/layerd/internal/infrastructure/http/v1/handler"
	"github.com/atlasview/layerd/internal/orchestrator"
	"github.com/atlasview/layerd/internal/reliability"
	"github.com/atlasview/layerd/internal/repository/cache"
	"github.com/atlasview/layerd/internal/repository/sqlite"
	"github.com/atlasview/layerd/internal/session"
	"github.com/atlasview/layerd/internal/state"
	"github.com/atlasview/layerd/internal/upstream"
	"github.com/atlasview/layerd/pkg/config"
	"github.com/atlasview/layerd/pkg/http_server"
	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/telemetry"
	"github.com/go-playground/validator/v10"
)

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger.Level)

	l.Info("app config", "cfg", cfg)

	// Initialize OpenTelemetry if enabled
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
	}

	// Local durable store
	db, err := sqlite.Open(cfg.Cache.SQLitePath, l)
	if err != nil {
		l.Fatal("failed to initialize sqlite store", "error", err)
	}
	defer db.Close()

	// Durable cache tier: redis when enabled, local sqlite otherwise
	var durable cache.DurableStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			StaleRetention: cfg.Cache.StaleRetention,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize redis store", "error", err)
		}
		defer redisStore.Close()
		durable = redisStore
	} else {
		durable = cache.NewSQLiteStore(db, l)
	}

	cacheStore := cache.NewStore(durable, l)

	gate := reliability.NewGate(reliability.Config{
		FailureThreshold: cfg.Reliability.FailureThreshold,
		Cooldown:         cfg.Reliability.Cooldown,
		MaxCooldown:      cfg.Reliability.MaxCooldown,
		MaxAttempts:      cfg.Reliability.MaxAttempts,
		BackoffBase:      cfg.Reliability.BackoffBase,
	}, l)

	coord := coordinator.New(l)
	machine := state.NewMachine(l)
	sessionMemory := session.NewMemory(session.NewSQLiteStore(db, l), cfg.Session.Debounce, l)
	client := upstream.NewHTTPClient(cfg.Upstream.BaseURL, cfg.Upstream.UserAgent, l)
	registry := orchestrator.DefaultRegistry(cfg.Cache.DefaultTTL, cfg.Upstream.Timeout)

	orch := orchestrator.New(cacheStore, gate, coord, machine, sessionMemory, client, registry, l)

	restoreCtx := logger.WithLogger(context.Background(), l)
	snap := orch.RestoreSession(restoreCtx)
	l.Info("session loaded", "enabled_layers", len(snap.EnabledLayers))

	validate := validator.New()
	h := handler.NewHandler(validate, orch)
	router := v1.NewRouter(h, l, cfg.Telemetry.Enabled)

	httpServer := http_server.NewServer(cfg.HTTP.Server, router)

	go func() {
		l.Info("starting http server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	l.Info("shutting down http server...", "address", httpServer.Addr)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("http server shutdown failed", "error", err)
	}

	if err := orch.Shutdown(); err != nil {
		l.Error("orchestrator shutdown failed", "error", err)
	}

	l.Info("application shutdown completed")
}
