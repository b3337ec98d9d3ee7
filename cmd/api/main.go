package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"thebestitaly/internal/adapters/directus"
	server "thebestitaly/internal/adapters/http_server"
	"thebestitaly/internal/adapters/observability"
	redisad "thebestitaly/internal/adapters/redis"
	"thebestitaly/internal/app"
	"thebestitaly/internal/domain"
	"thebestitaly/internal/shared"
	"thebestitaly/internal/storage/snapshot"
	mysqlrepo "thebestitaly/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api", cfg.LogLevel)

	reg := observability.InitRegistry()
	metricsSrv := observability.Serve(cfg.MetricsAddr, reg)

	client, err := directus.New(cfg.DirectusURL, cfg.DirectusToken, cfg.DirectusRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Directus client")
	}

	// optional shared live cache
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, live cache disabled")
			_ = rc.Close()
		} else {
			defer rc.Close()
			cache = rc
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis connection ok")
		}
	}

	// optional run log
	var runs domain.RunLog
	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		defer db.Close()
		runs = mysqlrepo.New(db)
		log.Info().Msg("database connection ok")
	}

	// deps
	live := app.NewLiveSource(client, cache, cfg.CacheTTL)
	store := snapshot.New(cfg.SnapshotDir)
	snaps := app.NewSnapshotCache(store, cfg.SnapshotTTL, cfg.SnapshotRecheck)
	queries := app.NewDestinationQueries(snaps, live, cfg.LiveMemoTTL)
	svc := app.NewSnapshotService(app.SnapshotDeps{
		Source:       live.Uncached(),
		Languages:    live,
		Store:        store,
		Cache:        snaps,
		Queries:      queries,
		Purger:       live,
		Runs:         runs,
		FetchWorkers: cfg.FetchWorkers,
		LangWorkers:  cfg.LangWorkers,
		Defaults:     cfg.DefaultLanguages,
		TTL:          cfg.SnapshotTTL,
	})

	admin := &server.Admin{
		Svc:     svc,
		Memory:  snaps,
		Token:   cfg.AdminToken,
		Runs:    runs,
		Timeout: cfg.AdminTimeout,
	}

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: queries})
	srv.MountAdmin(admin)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("snapshots", store.Dir()).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
