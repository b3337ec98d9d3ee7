package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	DirectusURL   string
	DirectusToken string
	DirectusRPS   int

	SnapshotDir      string
	SnapshotTTL      time.Duration
	SnapshotRecheck  time.Duration
	LiveMemoTTL      time.Duration
	CacheTTL         time.Duration
	FetchWorkers     int
	LangWorkers      int
	DefaultLanguages []string

	AdminToken   string
	AdminTimeout time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
		}
		return def
	}
	seconds := func(k string, def int) time.Duration { return time.Duration(atoi(k, def)) * time.Second }

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		MySQLDSN:    env("MYSQL_DSN", ""),
		RedisAddr:   env("REDIS_ADDR", ""),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		DirectusURL:   env("DIRECTUS_URL", "http://localhost:8055"),
		DirectusToken: env("DIRECTUS_TOKEN", ""),
		DirectusRPS:   atoi("DIRECTUS_RPS", 10),

		SnapshotDir:      env("SNAPSHOT_DIR", ".next/static-destinations"),
		SnapshotTTL:      time.Duration(atoi("SNAPSHOT_TTL_HOURS", 168)) * time.Hour,
		SnapshotRecheck:  seconds("SNAPSHOT_RECHECK_SECONDS", 30),
		LiveMemoTTL:      seconds("LIVE_MEMO_SECONDS", 60),
		CacheTTL:         seconds("CACHE_TTL_SECONDS", 86400),
		FetchWorkers:     atoi("FETCH_WORKERS", 4),
		LangWorkers:      atoi("LANG_WORKERS", 2),
		DefaultLanguages: splitList(env("DEFAULT_LANGUAGES", "it,en,fr,de,es")),

		AdminToken:   env("ADMIN_TOKEN", ""),
		AdminTimeout: seconds("ADMIN_TIMEOUT_SECONDS", 600),
	}
	if c.DirectusToken == "" {
		log.Warn().Msg("DIRECTUS_TOKEN is empty")
	}
	if c.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty; admin routes are unauthenticated")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
