package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thebestitaly/internal/domain"
)

// LiveSource reads destinations straight from the CMS. With a cache attached
// it is read-through; the writer always uses it uncached.
type LiveSource struct {
	cms      domain.CMSClient
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewLiveSource(cms domain.CMSClient, cache domain.Cache, ttl time.Duration) *LiveSource {
	return &LiveSource{cms: cms, cache: cache, cacheTTL: ttl}
}

// Uncached returns a source over the same CMS client without the cache.
func (s *LiveSource) Uncached() *LiveSource {
	return &LiveSource{cms: s.cms}
}

// CacheKeyPrefix is shared by every live cache entry of one language.
func CacheKeyPrefix(lang string) string { return "destinations:" + lang + ":" }

// Purge drops all cached live entries for lang.
func (s *LiveSource) Purge(ctx context.Context, lang string) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.DelPrefix(ctx, CacheKeyPrefix(lang))
}

// Languages returns the language codes configured in the CMS.
func (s *LiveSource) Languages(ctx context.Context) ([]string, error) {
	rows, err := s.cms.ListLanguages(ctx)
	if err != nil {
		return nil, &domain.UpstreamFetchError{Level: domain.LevelLanguages, Err: err}
	}
	return mapLanguages(rows), nil
}

func (s *LiveSource) Regions(ctx context.Context, lang string) ([]domain.Destination, error) {
	return readThrough(ctx, s, CacheKeyPrefix(lang)+"regions:all", func() ([]domain.Destination, error) {
		return s.list(ctx, domain.DestinationQuery{Type: domain.TypeRegion, Lang: lang}, domain.LevelRegions, 0)
	})
}

func (s *LiveSource) ProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error) {
	key := fmt.Sprintf("%sprovinces:%d", CacheKeyPrefix(lang), regionID)
	return readThrough(ctx, s, key, func() ([]domain.Destination, error) {
		q := domain.DestinationQuery{Type: domain.TypeProvince, RegionID: regionID, Lang: lang}
		return s.list(ctx, q, domain.LevelProvinces, regionID)
	})
}

func (s *LiveSource) MunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]domain.Destination, error) {
	key := fmt.Sprintf("%smunicipalities:%d", CacheKeyPrefix(lang), provinceID)
	return readThrough(ctx, s, key, func() ([]domain.Destination, error) {
		q := domain.DestinationQuery{Type: domain.TypeMunicipality, ProvinceID: provinceID, Lang: lang}
		return s.list(ctx, q, domain.LevelMunicipalities, provinceID)
	})
}

// DestinationBySlug returns nil without error when the CMS has no such
// destination translated into lang.
func (s *LiveSource) DestinationBySlug(ctx context.Context, slug, lang string, typ domain.DestinationType) (*domain.Destination, error) {
	key := fmt.Sprintf("%sslug:%s:%s", CacheKeyPrefix(lang), typ, slug)
	return readThrough(ctx, s, key, func() (*domain.Destination, error) {
		raw, err := s.cms.GetDestinationBySlug(ctx, slug, lang, typ)
		return s.one(raw, err, lang, typ)
	})
}

func (s *LiveSource) DestinationByID(ctx context.Context, id int64, lang string) (*domain.Destination, error) {
	key := fmt.Sprintf("%sid:%d", CacheKeyPrefix(lang), id)
	return readThrough(ctx, s, key, func() (*domain.Destination, error) {
		raw, err := s.cms.GetDestinationByID(ctx, id, lang)
		return s.one(raw, err, lang, "")
	})
}

func (s *LiveSource) list(ctx context.Context, q domain.DestinationQuery, level string, parent int64) ([]domain.Destination, error) {
	rows, err := s.cms.ListDestinations(ctx, q)
	if err != nil {
		return nil, &domain.UpstreamFetchError{Lang: q.Lang, Level: level, ParentID: parent, Err: err}
	}
	return mapDestinations(rows, q.Lang), nil
}

func (s *LiveSource) one(raw map[string]any, err error, lang string, typ domain.DestinationType) (*domain.Destination, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.UpstreamFetchError{Lang: lang, Level: domain.LevelDestination, Err: err}
	}
	d, ok := mapDestination(raw, lang)
	if !ok || (typ != "" && d.Type != typ) {
		return nil, nil
	}
	if d, ok = d.ForLanguage(lang); !ok {
		return nil, nil
	}
	return &d, nil
}

// readThrough serves key from the cache when present, otherwise calls fetch
// and stores non-empty results. Cache failures never fail the read.
func readThrough[T any](ctx context.Context, s *LiveSource, key string, fetch func() (T, error)) (T, error) {
	var out T
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	if s.cache != nil && !isEmpty(v) {
		_ = s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds()))
	}
	return v, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *domain.Destination:
		return x == nil
	case []domain.Destination:
		return len(x) == 0
	}
	return false
}

var _ domain.DestinationSource = (*LiveSource)(nil)
