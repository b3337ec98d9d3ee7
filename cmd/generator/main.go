package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"thebestitaly/internal/adapters/directus"
	"thebestitaly/internal/adapters/observability"
	redisad "thebestitaly/internal/adapters/redis"
	"thebestitaly/internal/app"
	"thebestitaly/internal/domain"
	"thebestitaly/internal/shared"
	"thebestitaly/internal/storage/snapshot"
	mysqlrepo "thebestitaly/internal/storage/mysql"
)

const usage = `usage: generator <command> [languages...]

commands:
  generate [lang...]    build snapshots (default: CMS languages, else DEFAULT_LANGUAGES)
  status   [lang...]    print snapshot freshness
  fix      [lang...]    refetch empty province/municipality lists (default: it)
  invalidate [lang...]  tombstone snapshots (default: all languages)
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "generator", cfg.LogLevel)

	svc, cleanup := wire(ctx, cfg, cmd)
	defer cleanup()

	var failed bool
	switch cmd {
	case "generate":
		failed = generate(ctx, svc, args)
	case "status":
		printJSON(svc.Status(args...))
	case "fix":
		failed = fix(ctx, svc, args, cfg.LangWorkers)
	case "invalidate":
		done, err := svc.Invalidate(ctx, args...)
		if err != nil {
			log.Error().Err(err).Msg("invalidate failed")
			failed = true
		}
		printJSON(map[string]any{"invalidated": done})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if failed {
		cleanup()
		os.Exit(1)
	}
}

// wire builds the snapshot service. The CMS client is only required by
// commands that fetch.
func wire(ctx context.Context, cfg shared.Config, cmd string) (*app.SnapshotService, func()) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	deps := app.SnapshotDeps{
		Store:        snapshot.New(cfg.SnapshotDir),
		FetchWorkers: cfg.FetchWorkers,
		LangWorkers:  cfg.LangWorkers,
		Defaults:     cfg.DefaultLanguages,
		TTL:          cfg.SnapshotTTL,
	}

	if cmd == "generate" || cmd == "fix" {
		client, err := directus.New(cfg.DirectusURL, cfg.DirectusToken, cfg.DirectusRPS)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Directus client")
		}
		live := app.NewLiveSource(client, nil, 0)
		deps.Source = live
		deps.Languages = live
	}

	// purge the API's live cache together with the snapshot
	if cmd == "invalidate" && cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		closers = append(closers, func() { _ = rc.Close() })
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, live cache not purged")
		} else {
			deps.Purger = app.NewLiveSource(nil, rc, 0)
		}
	}

	if cfg.MySQLDSN != "" && cmd != "status" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("db.Ping failed, runs will not be recorded")
		} else {
			deps.Runs = mysqlrepo.New(db)
			log.Info().Msg("db ping ok")
		}
	}
	return app.NewSnapshotService(deps), cleanup
}

func generate(ctx context.Context, svc *app.SnapshotService, args []string) bool {
	langs := svc.ResolveLanguages(ctx, args)
	log.Info().Strs("langs", langs).Msg("generation starting")

	start := time.Now()
	results := svc.GenerateStaticDestinations(ctx, langs)
	printJSON(results)

	failed := false
	for _, r := range results {
		if !r.OK {
			failed = true
		}
	}
	log.Info().Dur("took", time.Since(start)).Bool("failed", failed).Msg("generation completed")
	return failed
}

func fix(ctx context.Context, svc *app.SnapshotService, args []string, workers int) bool {
	if len(args) == 0 {
		args = []string{domain.DefaultLanguage}
	}
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []app.FixReport
		failed  bool
	)
	for _, lang := range args {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Error().Err(err).Msg("semaphore acquire failed")
			mu.Lock()
			failed = true
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			defer sem.Release(1)

			rep, err := svc.FixMissingProvinces(ctx, lang)
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, rep)
			if err != nil || len(rep.Failed) > 0 {
				log.Warn().Str("lang", lang).Err(err).Strs("failed", rep.Failed).Msg("fix incomplete")
				failed = true
			}
		}(lang)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Language < reports[j].Language })
	printJSON(reports)
	return failed
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("write output failed")
	}
}
