package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"thebestitaly/internal/adapters/observability"
	"thebestitaly/internal/domain"
)

const (
	memoMaxEntries = 10_000
	// fallbackTimeout bounds a shared live fetch, which outlives the request
	// that started it.
	fallbackTimeout = 15 * time.Second
)

// DestinationQueries serves reads from the in-memory snapshot and falls back
// to the live source when the snapshot cannot answer. Fallback results are
// memoized briefly and never written to disk.
type DestinationQueries struct {
	snaps *SnapshotCache
	live  domain.DestinationSource
	memo  *memo
	sfg   singleflight.Group
}

func NewDestinationQueries(snaps *SnapshotCache, live domain.DestinationSource, memoTTL time.Duration) *DestinationQueries {
	return &DestinationQueries{snaps: snaps, live: live, memo: newMemo(memoTTL, memoMaxEntries)}
}

// WithClock replaces the memo's time source.
func (q *DestinationQueries) WithClock(now func() time.Time) *DestinationQueries {
	q.memo.now = now
	return q
}

// GetDestinationDetails looks up a destination by numeric id or slug. typ may
// be empty. Returns domain.ErrNotFound when neither the snapshot nor the CMS
// has it.
func (q *DestinationQueries) GetDestinationDetails(ctx context.Context, identifier, lang string, typ domain.DestinationType) (*domain.Destination, error) {
	lang = domain.NormalizeLanguage(lang)
	if view, ok := q.snapshot(lang); ok {
		if d, ok := view.Destination(identifier, typ); ok {
			observability.ObserveSnapshot(lang, "hit")
			return &d, nil
		}
		observability.ObserveSnapshot(lang, "miss")
		log.Info().Str("lang", lang).Str("id", identifier).Str("type", string(typ)).Msg("destination not in snapshot")
	}

	key := fmt.Sprintf("%s|detail|%s|%s", lang, typ, identifier)
	v, err := q.fallback(ctx, lang, key, func(ctx context.Context) (any, error) {
		if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
			d, err := q.live.DestinationByID(ctx, id, lang)
			if err != nil || (d != nil && (typ == "" || d.Type == typ)) {
				return d, err
			}
		}
		return q.live.DestinationBySlug(ctx, identifier, lang, typ)
	})
	if err != nil {
		return nil, q.fallbackFailed(lang, key, err)
	}
	d, _ := v.(*domain.Destination)
	if d == nil {
		observability.ObserveSnapshot(lang, "fallback_miss")
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// GetProvincesForRegion returns the region's provinces in upstream order.
func (q *DestinationQueries) GetProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error) {
	lang = domain.NormalizeLanguage(lang)
	if view, ok := q.snapshot(lang); ok {
		if ps, ok := view.Provinces(regionID); ok && len(ps) > 0 {
			observability.ObserveSnapshot(lang, "hit")
			return ps, nil
		}
		observability.ObserveSnapshot(lang, "miss")
	}
	key := fmt.Sprintf("%s|provinces|%d", lang, regionID)
	return q.fallbackList(ctx, lang, key, func(ctx context.Context) (any, error) {
		return q.live.ProvincesForRegion(ctx, regionID, lang)
	})
}

// GetMunicipalitiesForProvince returns the province's municipalities in upstream order.
func (q *DestinationQueries) GetMunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]domain.Destination, error) {
	lang = domain.NormalizeLanguage(lang)
	if view, ok := q.snapshot(lang); ok {
		if ms, ok := view.Municipalities(provinceID); ok && len(ms) > 0 {
			observability.ObserveSnapshot(lang, "hit")
			return ms, nil
		}
		observability.ObserveSnapshot(lang, "miss")
	}
	key := fmt.Sprintf("%s|municipalities|%d", lang, provinceID)
	return q.fallbackList(ctx, lang, key, func(ctx context.Context) (any, error) {
		return q.live.MunicipalitiesForProvince(ctx, provinceID, lang)
	})
}

// Forget drops memoized fallbacks for lang.
func (q *DestinationQueries) Forget(lang string) int {
	return q.memo.dropPrefix(lang + "|")
}

// MemoSize is the number of memoized fallback results.
func (q *DestinationQueries) MemoSize() int { return q.memo.len() }

func (q *DestinationQueries) snapshot(lang string) (*SnapshotView, bool) {
	view, err := q.snaps.Get(lang)
	if err == nil {
		return view, true
	}
	if errors.Is(err, ErrSnapshotStale) {
		observability.ObserveSnapshot(lang, "stale")
		log.Info().Str("lang", lang).Msg("snapshot stale, serving live")
	} else {
		observability.ObserveSnapshot(lang, "miss")
		log.Debug().Str("lang", lang).Err(err).Msg("snapshot unavailable, serving live")
	}
	return nil, false
}

func (q *DestinationQueries) fallbackList(ctx context.Context, lang, key string, fetch func(context.Context) (any, error)) ([]domain.Destination, error) {
	v, err := q.fallback(ctx, lang, key, fetch)
	if err != nil {
		return nil, q.fallbackFailed(lang, key, err)
	}
	out, _ := v.([]domain.Destination)
	if out == nil {
		out = []domain.Destination{}
	}
	return out, nil
}

// fallback runs fetch once per key across concurrent callers and memoizes
// successful results. The shared fetch is detached from any single caller;
// each caller stops waiting when its own ctx is done.
func (q *DestinationQueries) fallback(ctx context.Context, lang, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := q.memo.get(key); ok {
		return v, nil
	}
	ch := q.sfg.DoChan(key, func() (any, error) {
		if v, ok := q.memo.get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		q.memo.put(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			observability.ObserveSnapshot(lang, "fallback")
		}
		return res.Val, res.Err
	}
}

func (q *DestinationQueries) fallbackFailed(lang, key string, err error) error {
	observability.ObserveSnapshot(lang, "fallback_miss")
	log.Warn().Str("lang", lang).Str("key", key).Err(err).Msg("live fallback failed")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
}
