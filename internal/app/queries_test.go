package app_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"thebestitaly/internal/app"
	"thebestitaly/internal/domain"
)

func TestGetDestinationDetails_FallbackForMissingNode(t *testing.T) {
	src := lazio()
	h := newHarness(t, src)
	h.mustGenerate(t, "it")
	before := h.readFile(t, "it")

	// present upstream, absent from the snapshot
	src.add(dest(101, domain.TypeMunicipality, 1, 10, map[string]string{"it": "Fiumicino"}))

	d, err := h.queries.GetDestinationDetails(context.Background(), "fiumicino", "it", domain.TypeMunicipality)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if d.ID != 101 || d.Translations["it"].Name != "Fiumicino" {
		t.Fatalf("unexpected destination %+v", d)
	}
	if !bytes.Equal(before, h.readFile(t, "it")) {
		t.Fatalf("fallback mutated the snapshot on disk")
	}
	if _, err := h.queries.GetDestinationDetails(context.Background(), "fiumicino", "it", domain.TypeMunicipality); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
}

func TestGetDestinationDetails_NotFoundAnywhere(t *testing.T) {
	h := newHarness(t, lazio())
	h.mustGenerate(t, "it")

	_, err := h.queries.GetDestinationDetails(context.Background(), "atlantide", "it", domain.TypeRegion)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetDestinationDetails_WrongTypeIsNotAHit(t *testing.T) {
	h := newHarness(t, lazio())
	h.mustGenerate(t, "it")

	// "roma" is a province slug; asking for a region must not return it
	_, err := h.queries.GetDestinationDetails(context.Background(), "roma", "it", domain.TypeRegion)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	d, err := h.queries.GetDestinationDetails(context.Background(), "roma", "it", "")
	if err != nil || d.ID != 10 {
		t.Fatalf("untyped lookup: %+v %v", d, err)
	}
}

func TestLists_NoSnapshotGoesLiveOnce(t *testing.T) {
	src := lazio()
	src.delay = 20 * time.Millisecond
	h := newHarness(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps, err := h.queries.GetProvincesForRegion(context.Background(), 1, "it")
			if err != nil || len(ps) != 1 {
				t.Errorf("provinces: %v %v", ps, err)
			}
		}()
	}
	wg.Wait()
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("live calls = %d, want 1", got)
	}

	// memoized within the TTL
	_, _ = h.queries.GetProvincesForRegion(context.Background(), 1, "it")
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("memo ignored: %d calls", got)
	}

	h.clk.Advance(testMemoTTL + time.Second)
	_, _ = h.queries.GetProvincesForRegion(context.Background(), 1, "it")
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("memo not expired: %d calls", got)
	}
}

func TestLists_StaleSnapshotGoesLive(t *testing.T) {
	src := lazio()
	h := newHarness(t, src)
	h.mustGenerate(t, "it")

	h.clk.Advance(testTTL + time.Millisecond)
	calls := src.calls.Load()
	ms, err := h.queries.GetMunicipalitiesForProvince(context.Background(), 10, "it")
	if err != nil || len(ms) != 1 {
		t.Fatalf("municipalities: %v %v", ms, err)
	}
	if src.calls.Load() != calls+1 {
		t.Fatalf("stale snapshot was served")
	}
}

func TestLists_FallbackFailureIsNotFound(t *testing.T) {
	src := lazio()
	src.failLang("it", errors.New("boom"))
	h := newHarness(t, src)

	_, err := h.queries.GetMunicipalitiesForProvince(context.Background(), 10, "it")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if h.queries.MemoSize() != 0 {
		t.Fatalf("failures must not be memoized")
	}
}

func TestLists_UnknownParentIsEmpty(t *testing.T) {
	h := newHarness(t, lazio())
	h.mustGenerate(t, "it")

	ps, err := h.queries.GetProvincesForRegion(context.Background(), 999, "it")
	if err != nil {
		t.Fatalf("provinces: %v", err)
	}
	if ps == nil || len(ps) != 0 {
		t.Fatalf("want empty list, got %v", ps)
	}
}

// slowSource blocks province lookups until released or until ctx is done.
type slowSource struct {
	*fakeSource
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func (s *slowSource) ProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.fakeSource.ProvincesForRegion(ctx, regionID, lang)
}

func TestFallback_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	src := &slowSource{fakeSource: lazio(), started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, src.fakeSource)
	q := app.NewDestinationQueries(h.cache, src, testMemoTTL).WithClock(h.clk.Now)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := q.GetProvincesForRegion(ctxA, 1, "it")
		errA <- err
	}()
	<-src.started

	type result struct {
		ps  []domain.Destination
		err error
	}
	resB := make(chan result, 1)
	go func() {
		ps, err := q.GetProvincesForRegion(context.Background(), 1, "it")
		resB <- result{ps, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: want context.Canceled, got %v", err)
	}
	close(src.release)

	b := <-resB
	if b.err != nil || len(b.ps) != 1 || b.ps[0].ID != 10 {
		t.Fatalf("other caller: %+v %v", b.ps, b.err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("live calls = %d, want 1", got)
	}
}
