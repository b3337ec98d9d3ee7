package app

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"thebestitaly/internal/domain"
)

// languageIndex is implemented by stores that can enumerate their files.
type languageIndex interface {
	Languages() ([]string, error)
}

// Status reports freshness per language, computed from the files on disk.
// Without arguments it covers the default languages plus any language that
// has a file.
func (s *SnapshotService) Status(langs ...string) map[string]domain.CacheStatus {
	if len(langs) == 0 {
		langs = s.statusLanguages()
	}
	now := s.now()
	out := make(map[string]domain.CacheStatus, len(langs))
	for _, raw := range langs {
		lang := domain.NormalizeLanguage(raw)
		st := domain.CacheStatus{Refreshing: s.Refreshing(lang)}

		h, exists, err := s.d.Store.Header(lang)
		st.Exists = exists
		switch {
		case !exists:
		case err != nil:
			log.Debug().Str("lang", lang).Err(err).Msg("snapshot header unreadable")
		default:
			ts := h.Timestamp
			if ts != 0 {
				st.Timestamp = &ts
			}
			snap := domain.Snapshot{Version: h.Version, Timestamp: h.Timestamp}
			st.Valid = snap.Valid(now, s.d.TTL)
		}
		out[lang] = st
	}
	return out
}

func (s *SnapshotService) statusLanguages() []string {
	set := map[string]struct{}{}
	for _, l := range s.d.Defaults {
		set[domain.NormalizeLanguage(l)] = struct{}{}
	}
	if idx, ok := s.d.Store.(languageIndex); ok {
		onDisk, err := idx.Languages()
		if err != nil {
			log.Warn().Err(err).Msg("list snapshot files failed")
		}
		for _, l := range onDisk {
			if domain.IsSupportedLanguage(l) {
				set[l] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Invalidate tombstones the snapshot of each language (every supported
// language when none is given) and drops everything derived from it: the
// in-memory snapshot, memoized fallbacks and the shared live cache. Reads go
// live until the next generation. It returns the languages whose file was
// tombstoned. Unsupported codes fail the call before anything is touched.
func (s *SnapshotService) Invalidate(ctx context.Context, langs ...string) ([]string, error) {
	if len(langs) == 0 {
		langs = domain.SupportedLanguages
	}
	norm := make([]string, 0, len(langs))
	for _, raw := range langs {
		l := domain.NormalizeLanguage(raw)
		if !domain.IsSupportedLanguage(l) {
			return nil, &domain.UnsupportedLanguageError{Lang: raw}
		}
		norm = append(norm, l)
	}

	var (
		done []string
		errs []error
	)
	for _, l := range dedupe(norm) {
		ok, err := s.d.Store.Tombstone(l)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			done = append(done, l)
		}
		if s.d.Cache != nil {
			s.d.Cache.Invalidate(l)
		}
		if s.d.Queries != nil {
			s.d.Queries.Forget(l)
		}
		if s.d.Purger != nil {
			if n, err := s.d.Purger.Purge(ctx, l); err != nil {
				log.Warn().Str("lang", l).Err(err).Msg("live cache purge failed")
			} else if n > 0 {
				log.Debug().Str("lang", l).Int("keys", n).Msg("live cache purged")
			}
		}
	}
	if len(done) > 0 {
		log.Info().Strs("langs", done).Msg("snapshots invalidated")
	}
	return done, errors.Join(errs...)
}
