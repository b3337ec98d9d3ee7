package app_test

import (
	"context"
	"os"
	"testing"
	"time"

	"thebestitaly/internal/app"
	"thebestitaly/internal/domain"
	"thebestitaly/internal/storage/snapshot"
)

const (
	testTTL     = 7 * 24 * time.Hour
	testRecheck = 30 * time.Second
	testMemoTTL = time.Minute
)

type harness struct {
	src     *fakeSource
	store   *snapshot.Store
	cache   *app.SnapshotCache
	queries *app.DestinationQueries
	svc     *app.SnapshotService
	runs    *fakeRuns
	purger  *fakePurger
	clk     *clock
}

func newHarness(t *testing.T, src *fakeSource, opts ...func(*app.SnapshotDeps)) *harness {
	t.Helper()
	h := &harness{src: src, runs: &fakeRuns{}, purger: &fakePurger{}, clk: newClock()}
	h.store = snapshot.New(t.TempDir()).WithClock(h.clk.Now)
	h.cache = app.NewSnapshotCache(h.store, testTTL, testRecheck).WithClock(h.clk.Now)
	h.queries = app.NewDestinationQueries(h.cache, src, testMemoTTL).WithClock(h.clk.Now)
	deps := app.SnapshotDeps{
		Source:       src,
		Store:        h.store,
		Cache:        h.cache,
		Queries:      h.queries,
		Purger:       h.purger,
		Runs:         h.runs,
		FetchWorkers: 3,
		LangWorkers:  2,
		Defaults:     []string{"it", "en"},
		TTL:          testTTL,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = app.NewSnapshotService(deps).WithClock(h.clk.Now)
	return h
}

func (h *harness) readFile(t *testing.T, lang string) []byte {
	t.Helper()
	b, err := os.ReadFile(h.store.Path(lang))
	if err != nil {
		t.Fatalf("read snapshot %s: %v", lang, err)
	}
	return b
}

func (h *harness) mustGenerate(t *testing.T, langs ...string) []app.LangResult {
	t.Helper()
	res := h.svc.GenerateStaticDestinations(context.Background(), langs)
	for _, r := range res {
		if !r.OK {
			t.Fatalf("generate %s failed: %v", r.Language, r.Err)
		}
	}
	return res
}

func load(t *testing.T, st *snapshot.Store, lang string) *domain.Snapshot {
	t.Helper()
	s, err := st.Load(lang)
	if err != nil {
		t.Fatalf("load %s: %v", lang, err)
	}
	return s
}

type fakePurger struct {
	langs []string
}

func (p *fakePurger) Purge(ctx context.Context, lang string) (int, error) {
	p.langs = append(p.langs, lang)
	return 0, nil
}
