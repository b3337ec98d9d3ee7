package app

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"thebestitaly/internal/adapters/observability"
	"thebestitaly/internal/domain"
)

// ErrSnapshotStale is returned by SnapshotCache.Get for a snapshot past its TTL.
var ErrSnapshotStale = fmt.Errorf("stale: %w", domain.ErrSnapshotMissing)

// SnapshotCache holds one parsed snapshot per language for the life of the
// process. Concurrent first reads of a language share a single disk load.
// Languages that could not be served are re-read from disk at most once per
// recheck interval. A loaded snapshot has its file header compared once per
// recheck interval, so files replaced or tombstoned by another process are
// picked up.
type SnapshotCache struct {
	store   domain.SnapshotStore
	ttl     time.Duration
	recheck time.Duration
	now     func() time.Time

	sfg     singleflight.Group
	m       sync.Map // lang -> *snapshotEntry
	gen     sync.Map // lang -> *atomic.Uint64, bumped on invalidate
	loads   atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
	invalid atomic.Int64
}

type snapshotEntry struct {
	view     *SnapshotView // nil when nothing usable was on disk
	err      error
	loadedAt time.Time
	checked  atomic.Int64 // unix nanos of the last header comparison
}

func NewSnapshotCache(store domain.SnapshotStore, ttl, recheck time.Duration) *SnapshotCache {
	return &SnapshotCache{store: store, ttl: ttl, recheck: recheck, now: time.Now}
}

// WithClock replaces the time source; tests drive TTL expiry through it.
func (c *SnapshotCache) WithClock(now func() time.Time) *SnapshotCache {
	c.now = now
	return c
}

// Get returns the snapshot for lang. The error wraps domain.ErrSnapshotMissing
// whenever the snapshot cannot be used (absent, unparsable, foreign version,
// or stale), so callers can fall back uniformly.
func (c *SnapshotCache) Get(lang string) (*SnapshotView, error) {
	if ent, ok := c.lookup(lang); ok {
		return c.serve(ent)
	}

	gen := c.generation(lang)
	v, _, _ := c.sfg.Do(lang, func() (any, error) {
		// Double-check after singleflight barrier.
		if ent, ok := c.lookup(lang); ok {
			return ent, nil
		}
		ent := c.load(lang)
		if c.generation(lang) == gen {
			c.m.Store(lang, ent)
		}
		return ent, nil
	})
	return c.serve(v.(*snapshotEntry))
}

// Invalidate forgets lang (or every language when none is given), so the
// next Get reads the file again.
func (c *SnapshotCache) Invalidate(langs ...string) {
	if len(langs) == 0 {
		c.m.Range(func(k, _ any) bool {
			langs = append(langs, k.(string))
			return true
		})
	}
	for _, l := range langs {
		c.bump(l)
		c.m.Delete(l)
		c.sfg.Forget(l)
	}
	c.invalid.Add(int64(len(langs)))
}

type CacheStats struct {
	DiskLoads     int64               `json:"disk_loads"`
	Hits          int64               `json:"hits"`
	Misses        int64               `json:"misses"`
	Invalidations int64               `json:"invalidations"`
	Languages     []LanguageCacheStat `json:"languages"`
}

type LanguageCacheStat struct {
	Language     string    `json:"language"`
	Loaded       bool      `json:"loaded"`
	Valid        bool      `json:"valid"`
	Timestamp    int64     `json:"timestamp,omitempty"`
	Destinations int       `json:"destinations"`
	LoadedAt     time.Time `json:"loaded_at"`
	Error        string    `json:"error,omitempty"`
}

func (c *SnapshotCache) Stats() CacheStats {
	st := CacheStats{
		DiskLoads:     c.loads.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalid.Load(),
	}
	now := c.now()
	c.m.Range(func(k, v any) bool {
		ent := v.(*snapshotEntry)
		ls := LanguageCacheStat{Language: k.(string), LoadedAt: ent.loadedAt}
		if ent.view != nil {
			ls.Loaded = true
			ls.Valid = ent.view.snap.Valid(now, c.ttl)
			ls.Timestamp = ent.view.snap.Timestamp
			ls.Destinations = len(ent.view.byID)
		}
		if ent.err != nil {
			ls.Error = ent.err.Error()
		}
		st.Languages = append(st.Languages, ls)
		return true
	})
	sort.Slice(st.Languages, func(i, j int) bool { return st.Languages[i].Language < st.Languages[j].Language })
	return st
}

// DiskLoads is the number of snapshot files read so far.
func (c *SnapshotCache) DiskLoads() int64 { return c.loads.Load() }

// lookup returns a cached entry unless it is unusable and due for a re-read.
func (c *SnapshotCache) lookup(lang string) (*snapshotEntry, bool) {
	v, ok := c.m.Load(lang)
	if !ok {
		return nil, false
	}
	ent := v.(*snapshotEntry)
	now := c.now()
	if ent.view != nil && ent.view.snap.Valid(now, c.ttl) {
		if now.Sub(time.Unix(0, ent.checked.Load())) < c.recheck || c.unchanged(lang, ent, now) {
			return ent, true
		}
		return nil, false
	}
	if now.Sub(ent.loadedAt) >= c.recheck {
		return nil, false
	}
	return ent, true
}

// unchanged reports whether the file on disk still carries the loaded
// snapshot's version and timestamp.
func (c *SnapshotCache) unchanged(lang string, ent *snapshotEntry, now time.Time) bool {
	h, exists, err := c.store.Header(lang)
	if err == nil && exists && h.Version == domain.SnapshotVersion && h.Timestamp == ent.view.snap.Timestamp {
		ent.checked.Store(now.UnixNano())
		return true
	}
	log.Debug().Str("lang", lang).Str("version", h.Version).Bool("exists", exists).Err(err).Msg("snapshot changed on disk")
	return false
}

func (c *SnapshotCache) serve(ent *snapshotEntry) (*SnapshotView, error) {
	if ent.view == nil {
		c.misses.Add(1)
		return nil, ent.err
	}
	if !ent.view.snap.Valid(c.now(), c.ttl) {
		c.misses.Add(1)
		return nil, ErrSnapshotStale
	}
	c.hits.Add(1)
	return ent.view, nil
}

func (c *SnapshotCache) load(lang string) *snapshotEntry {
	c.loads.Add(1)
	ent := &snapshotEntry{loadedAt: c.now()}
	ent.checked.Store(ent.loadedAt.UnixNano())

	snap, err := c.store.Load(lang)
	switch {
	case err == nil:
		ent.view = newSnapshotView(snap, lang)
		observability.ObserveDiskLoad(lang, "ok")
		log.Debug().Str("lang", lang).Int("destinations", len(ent.view.byID)).Msg("snapshot loaded")
	case errors.Is(err, domain.ErrSnapshotMissing):
		ent.err = err
		observability.ObserveDiskLoad(lang, "missing")
	default:
		// unparsable and foreign-version files are served as missing
		ent.err = fmt.Errorf("%w: %w", err, domain.ErrSnapshotMissing)
		observability.ObserveDiskLoad(lang, "invalid")
		log.Warn().Str("lang", lang).Err(err).Msg("snapshot unreadable")
	}
	return ent
}

func (c *SnapshotCache) generation(lang string) uint64 {
	v, _ := c.gen.LoadOrStore(lang, new(atomic.Uint64))
	return v.(*atomic.Uint64).Load()
}

func (c *SnapshotCache) bump(lang string) {
	v, _ := c.gen.LoadOrStore(lang, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

// SnapshotView is an immutable, indexed snapshot for one language.
type SnapshotView struct {
	lang   string
	snap   *domain.Snapshot
	byID   map[int64]domain.Destination
	bySlug map[string]domain.Destination // "<type>|<slug>"
}

func newSnapshotView(snap *domain.Snapshot, lang string) *SnapshotView {
	v := &SnapshotView{
		lang:   lang,
		snap:   snap,
		byID:   make(map[int64]domain.Destination, len(snap.Data.DestinationDetails)),
		bySlug: make(map[string]domain.Destination, len(snap.Data.DestinationDetails)),
	}
	for _, byLang := range snap.Data.DestinationDetails {
		d, ok := byLang[lang]
		if !ok {
			continue
		}
		v.byID[d.ID] = d
		tr, ok := d.Translation(lang)
		if !ok || tr.Slug == "" {
			continue
		}
		k := slugKey(d.Type, tr.Slug)
		// same slug under different parents: lowest id wins, independent of map order
		if prev, dup := v.bySlug[k]; !dup || d.ID < prev.ID {
			v.bySlug[k] = d
		}
	}
	return v
}

func slugKey(t domain.DestinationType, slug string) string { return string(t) + "|" + slug }

func (v *SnapshotView) Timestamp() int64 { return v.snap.Timestamp }

// Destination resolves identifier as a numeric id first, then as a slug.
// typ may be empty to match any type.
func (v *SnapshotView) Destination(identifier string, typ domain.DestinationType) (domain.Destination, bool) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		if d, ok := v.byID[id]; ok && (typ == "" || d.Type == typ) {
			return d, true
		}
	}
	if typ != "" {
		d, ok := v.bySlug[slugKey(typ, identifier)]
		return d, ok
	}
	for _, t := range []domain.DestinationType{domain.TypeRegion, domain.TypeProvince, domain.TypeMunicipality} {
		if d, ok := v.bySlug[slugKey(t, identifier)]; ok {
			return d, true
		}
	}
	return domain.Destination{}, false
}

// Provinces returns the region's provinces; ok is false when the region is
// absent from the snapshot.
func (v *SnapshotView) Provinces(regionID int64) ([]domain.Destination, bool) {
	return v.snap.Provinces(strconv.FormatInt(regionID, 10), v.lang)
}

func (v *SnapshotView) Municipalities(provinceID int64) ([]domain.Destination, bool) {
	return v.snap.Municipalities(strconv.FormatInt(provinceID, 10), v.lang)
}

// Regions lists the regions present in the snapshot, ordered by id.
func (v *SnapshotView) Regions() []domain.Destination {
	var out []domain.Destination
	for _, d := range v.byID {
		if d.Type == domain.TypeRegion {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
