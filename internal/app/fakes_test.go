package app_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"thebestitaly/internal/domain"
)

// ---- destination fixtures ----

func dest(id int64, typ domain.DestinationType, region, province int64, names map[string]string) domain.Destination {
	d := domain.Destination{ID: id, Type: typ, Translations: map[string]domain.Translation{}}
	if region != 0 {
		r := region
		d.RegionID = &r
	}
	if province != 0 {
		p := province
		d.ProvinceID = &p
	}
	for lang, name := range names {
		d.Translations[lang] = domain.Translation{
			Name: name,
			Slug: strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		}
	}
	return d
}

// lazio is the Lazio > Roma > Roma comune tree, translated into it and en.
func lazio() *fakeSource {
	return newFakeSource(
		dest(1, domain.TypeRegion, 0, 0, map[string]string{"it": "Lazio", "en": "Lazio"}),
		dest(10, domain.TypeProvince, 1, 0, map[string]string{"it": "Roma", "en": "Rome"}),
		dest(100, domain.TypeMunicipality, 1, 10, map[string]string{"it": "Roma comune", "en": "Rome city"}),
	)
}

// ---- fake destination source ----

type fakeSource struct {
	mu    sync.Mutex
	all   []domain.Destination
	fail  map[string]error // lang -> error returned by MunicipalitiesForProvince
	delay time.Duration

	calls atomic.Int32
}

func newFakeSource(ds ...domain.Destination) *fakeSource {
	return &fakeSource{all: ds, fail: map[string]error{}}
}

func (f *fakeSource) add(ds ...domain.Destination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, ds...)
}

func (f *fakeSource) failLang(lang string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[lang] = err
}

func (f *fakeSource) filter(lang string, keep func(domain.Destination) bool) []domain.Destination {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Destination{}
	for _, d := range f.all {
		if !keep(d) {
			continue
		}
		if d, ok := d.ForLanguage(lang); ok {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeSource) Regions(ctx context.Context, lang string) ([]domain.Destination, error) {
	return f.filter(lang, func(d domain.Destination) bool { return d.Type == domain.TypeRegion }), nil
}

func (f *fakeSource) ProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error) {
	return f.filter(lang, func(d domain.Destination) bool {
		return d.Type == domain.TypeProvince && domain.DerefID(d.RegionID) == regionID
	}), nil
}

func (f *fakeSource) MunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]domain.Destination, error) {
	f.mu.Lock()
	err := f.fail[lang]
	f.mu.Unlock()
	if err != nil {
		f.calls.Add(1)
		return nil, &domain.UpstreamFetchError{Lang: lang, Level: domain.LevelMunicipalities, ParentID: provinceID, Err: err}
	}
	return f.filter(lang, func(d domain.Destination) bool {
		return d.Type == domain.TypeMunicipality && domain.DerefID(d.ProvinceID) == provinceID
	}), nil
}

func (f *fakeSource) DestinationBySlug(ctx context.Context, slug, lang string, typ domain.DestinationType) (*domain.Destination, error) {
	ds := f.filter(lang, func(d domain.Destination) bool {
		t, ok := d.Translations[lang]
		return ok && t.Slug == slug && (typ == "" || d.Type == typ)
	})
	if len(ds) == 0 {
		return nil, nil
	}
	return &ds[0], nil
}

func (f *fakeSource) DestinationByID(ctx context.Context, id int64, lang string) (*domain.Destination, error) {
	ds := f.filter(lang, func(d domain.Destination) bool { return d.ID == id })
	if len(ds) == 0 {
		return nil, nil
	}
	return &ds[0], nil
}

// ---- fake run log ----

type fakeRuns struct {
	mu     sync.Mutex
	runs   []domain.GenerationRun
	misses []string
}

func (r *fakeRuns) RecordRun(ctx context.Context, run domain.GenerationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRuns) LogMiss(ctx context.Context, lang, level string, parentID int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses = append(r.misses, lang+":"+level)
	return nil
}

func (r *fakeRuns) LastRuns(ctx context.Context) (map[string]domain.GenerationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]domain.GenerationRun{}
	for _, run := range r.runs {
		out[run.Lang] = run
	}
	return out, nil
}

// ---- fake cache (JSON round trip, like Redis) ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func (c *fakeCache) DelPrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// ---- clock ----

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.UnixMilli(1_750_000_000_000)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
