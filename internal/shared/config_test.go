package shared

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SNAPSHOT_DIR", "SNAPSHOT_TTL_HOURS", "DEFAULT_LANGUAGES", "REDIS_DB", "ADMIN_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}
	c := Load()
	if c.SnapshotDir != ".next/static-destinations" || c.SnapshotTTL != 7*24*time.Hour {
		t.Fatalf("snapshot defaults: %q %v", c.SnapshotDir, c.SnapshotTTL)
	}
	if !reflect.DeepEqual(c.DefaultLanguages, []string{"it", "en", "fr", "de", "es"}) {
		t.Fatalf("default languages %v", c.DefaultLanguages)
	}
	if c.AdminTimeout != 10*time.Minute || c.RedisDB != 0 {
		t.Fatalf("admin timeout %v redis db %d", c.AdminTimeout, c.RedisDB)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DEFAULT_LANGUAGES", " it , ja,,")
	t.Setenv("SNAPSHOT_TTL_HOURS", "2")
	t.Setenv("FETCH_WORKERS", "many")

	c := Load()
	if c.RedisDB != 3 {
		t.Fatalf("REDIS_DB not applied: %d", c.RedisDB)
	}
	if !reflect.DeepEqual(c.DefaultLanguages, []string{"it", "ja"}) {
		t.Fatalf("languages %v", c.DefaultLanguages)
	}
	if c.SnapshotTTL != 2*time.Hour || c.FetchWorkers != 4 {
		t.Fatalf("ttl %v workers %d", c.SnapshotTTL, c.FetchWorkers)
	}
}
