package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"thebestitaly/internal/adapters/observability"
	"thebestitaly/internal/domain"
)

// LanguageLister reports the languages configured upstream.
type LanguageLister interface {
	Languages(ctx context.Context) ([]string, error)
}

// Purger drops derived cache entries for a language.
type Purger interface {
	Purge(ctx context.Context, lang string) (int, error)
}

type SnapshotDeps struct {
	Source    domain.DestinationSource // uncached; the writer must see the CMS as it is
	Languages LanguageLister           // optional
	Store     domain.SnapshotStore
	Cache     *SnapshotCache      // optional
	Queries   *DestinationQueries // optional
	Purger    Purger              // optional
	Runs      domain.RunLog       // optional

	FetchWorkers int
	LangWorkers  int
	Defaults     []string
	TTL          time.Duration
}

// SnapshotService writes, repairs, reports on and invalidates snapshots.
type SnapshotService struct {
	d   SnapshotDeps
	now func() time.Time

	mu         sync.Mutex
	refreshing map[string]int
}

func NewSnapshotService(d SnapshotDeps) *SnapshotService {
	if d.FetchWorkers <= 0 {
		d.FetchWorkers = 4
	}
	if d.LangWorkers <= 0 {
		d.LangWorkers = 1
	}
	if len(d.Defaults) == 0 {
		d.Defaults = []string{"it", "en", "fr", "de", "es"}
	}
	if d.TTL <= 0 {
		d.TTL = 7 * 24 * time.Hour
	}
	return &SnapshotService{d: d, now: time.Now, refreshing: map[string]int{}}
}

// WithClock replaces the time source used for timestamps and validity.
func (s *SnapshotService) WithClock(now func() time.Time) *SnapshotService {
	s.now = now
	return s
}

func (s *SnapshotService) DefaultLanguages() []string {
	return append([]string(nil), s.d.Defaults...)
}

type LangResult struct {
	Language       string        `json:"language"`
	OK             bool          `json:"success"`
	Regions        int           `json:"regions"`
	Provinces      int           `json:"provinces"`
	Municipalities int           `json:"municipalities"`
	Skipped        int           `json:"skipped,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	Error          string        `json:"error,omitempty"`
	TookMS         int64         `json:"took_ms"`
	Duration       time.Duration `json:"-"`
	Err            error         `json:"-"`
}

// ResolveLanguages returns requested when given, otherwise the CMS languages
// that are also supported, falling back to the configured defaults.
func (s *SnapshotService) ResolveLanguages(ctx context.Context, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	if s.d.Languages != nil {
		codes, err := s.d.Languages.Languages(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not list CMS languages, using defaults")
		}
		var out []string
		for _, c := range codes {
			if domain.IsSupportedLanguage(c) {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return s.DefaultLanguages()
}

// GenerateStaticDestinations builds and writes one snapshot per language.
// Languages are independent: an unsupported code or a failed fetch is
// reported for that language and the others still run. Results follow the
// order of langs, duplicates removed.
func (s *SnapshotService) GenerateStaticDestinations(ctx context.Context, langs []string) []LangResult {
	langs = dedupe(langs)
	results := make([]LangResult, len(langs))
	sem := semaphore.NewWeighted(int64(s.d.LangWorkers))
	var wg sync.WaitGroup

	for i, raw := range langs {
		lang := domain.NormalizeLanguage(raw)
		results[i].Language = lang
		if !domain.IsSupportedLanguage(lang) {
			err := &domain.UnsupportedLanguageError{Lang: raw}
			results[i].Err, results[i].Error = err, err.Error()
			log.Warn().Str("lang", raw).Msg("skip unsupported language")
			continue
		}

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err, results[i].Error = err, err.Error()
			continue
		}
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.generateOne(ctx, lang)
		}(i, lang)
	}

	wg.Wait()
	return results
}

func (s *SnapshotService) generateOne(ctx context.Context, lang string) LangResult {
	s.markRefreshing(lang, true)
	defer s.markRefreshing(lang, false)

	start := s.now()
	res := LangResult{Language: lang}
	snap, stats, err := s.build(ctx, lang)
	if err == nil {
		snap.Timestamp = s.now().UnixMilli()
		err = s.d.Store.Save(lang, snap)
	}
	res.Regions, res.Provinces, res.Municipalities = stats.regions, stats.provinces, stats.municipalities
	res.Skipped, res.Warnings = stats.skipped, stats.warnings
	res.Duration = s.now().Sub(start)
	res.TookMS = res.Duration.Milliseconds()

	if err != nil {
		res.Err, res.Error = err, err.Error()
		ev := log.Error().Str("lang", lang).Err(err)
		var uf *domain.UpstreamFetchError
		if errors.As(err, &uf) {
			ev = ev.Str("level", uf.Level).Int64("parent_id", uf.ParentID)
			s.logMiss(ctx, lang, uf)
		}
		ev.Msg("snapshot generation failed")
	} else {
		res.OK = true
		if s.d.Cache != nil {
			s.d.Cache.Invalidate(lang)
		}
		if s.d.Queries != nil {
			s.d.Queries.Forget(lang)
		}
		log.Info().
			Str("lang", lang).
			Int("regions", res.Regions).
			Int("provinces", res.Provinces).
			Int("municipalities", res.Municipalities).
			Int("skipped", res.Skipped).
			Dur("took", res.Duration).
			Msg("snapshot written")
	}

	observability.ObserveGeneration(lang, string(domain.RunGenerate), err, res.Duration)
	s.recordRun(ctx, domain.RunGenerate, res, start)
	return res
}

type buildStats struct {
	regions, provinces, municipalities int
	skipped                            int
	warnings                           []string
}

func (b *buildStats) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// build fetches the whole hierarchy for lang, level by level. Nothing is
// written here; any fetch error aborts the language.
func (s *SnapshotService) build(ctx context.Context, lang string) (*domain.Snapshot, buildStats, error) {
	var st buildStats
	snap := domain.NewSnapshot()

	regions, err := s.d.Source.Regions(ctx, lang)
	if err != nil {
		return nil, st, err
	}
	regions = s.keepUniqueSlugs(regions, lang, "root", &st)

	provinces, err := fanOut(ctx, s.d.FetchWorkers, regions, func(ctx context.Context, r domain.Destination) ([]domain.Destination, error) {
		return s.d.Source.ProvincesForRegion(ctx, r.ID, lang)
	})
	if err != nil {
		return nil, st, err
	}

	var allProvinces []domain.Destination
	for i, r := range regions {
		snap.PutDetail(r, lang)
		ps := s.attachProvinces(r, provinces[i], lang, &st)
		snap.SetProvinces(r.Key(), lang, ps)
		for _, p := range ps {
			snap.PutDetail(p, lang)
		}
		allProvinces = append(allProvinces, ps...)
	}

	municipalities, err := fanOut(ctx, s.d.FetchWorkers, allProvinces, func(ctx context.Context, p domain.Destination) ([]domain.Destination, error) {
		return s.d.Source.MunicipalitiesForProvince(ctx, p.ID, lang)
	})
	if err != nil {
		return nil, st, err
	}
	for i, p := range allProvinces {
		ms := s.attachMunicipalities(p, municipalities[i], lang, &st)
		snap.SetMunicipalities(p.Key(), lang, ms)
		for _, m := range ms {
			snap.PutDetail(m, lang)
		}
		st.municipalities += len(ms)
	}

	st.regions, st.provinces = len(regions), len(allProvinces)
	if issues := snap.CheckConsistency(lang); len(issues) > 0 {
		return nil, st, fmt.Errorf("inconsistent snapshot for %s: %d issues, first: %s", lang, len(issues), issues[0])
	}
	return snap, st, nil
}

// attachProvinces pins each province to r and drops those that claim another region.
func (s *SnapshotService) attachProvinces(r domain.Destination, in []domain.Destination, lang string, st *buildStats) []domain.Destination {
	out := make([]domain.Destination, 0, len(in))
	for _, p := range in {
		if p.RegionID == nil {
			rid := r.ID
			p.RegionID = &rid
		}
		if *p.RegionID != r.ID {
			st.skipped++
			st.warn("province %d belongs to region %d, listed under %d", p.ID, *p.RegionID, r.ID)
			continue
		}
		out = append(out, p)
	}
	return s.keepUniqueSlugs(out, lang, "region "+r.Key(), st)
}

// attachMunicipalities pins each municipality to p; a municipality whose
// stated region differs from its province's region is dropped.
func (s *SnapshotService) attachMunicipalities(p domain.Destination, in []domain.Destination, lang string, st *buildStats) []domain.Destination {
	out := make([]domain.Destination, 0, len(in))
	for _, m := range in {
		if m.ProvinceID == nil {
			pid := p.ID
			m.ProvinceID = &pid
		}
		if *m.ProvinceID != p.ID {
			st.skipped++
			st.warn("municipality %d belongs to province %d, listed under %d", m.ID, *m.ProvinceID, p.ID)
			continue
		}
		if m.RegionID == nil && p.RegionID != nil {
			rid := *p.RegionID
			m.RegionID = &rid
		}
		if m.RegionID != nil && p.RegionID != nil && *m.RegionID != *p.RegionID {
			st.skipped++
			st.warn("municipality %d states region %d, province %d is in region %d", m.ID, *m.RegionID, p.ID, *p.RegionID)
			continue
		}
		out = append(out, m)
	}
	return s.keepUniqueSlugs(out, lang, "province "+p.Key(), st)
}

// keepUniqueSlugs drops later siblings that reuse a slug; first wins.
func (s *SnapshotService) keepUniqueSlugs(in []domain.Destination, lang, parent string, st *buildStats) []domain.Destination {
	seen := make(map[string]int64, len(in))
	out := make([]domain.Destination, 0, len(in))
	for _, d := range in {
		tr, _ := d.Translation(lang)
		if prev, dup := seen[tr.Slug]; dup && tr.Slug != "" {
			st.skipped++
			st.warn("%s: slug %q of %d already used by %d", parent, tr.Slug, d.ID, prev)
			continue
		}
		seen[tr.Slug] = d.ID
		out = append(out, d)
	}
	return out
}

// fanOut runs fetch for every parent with at most limit calls in flight and
// returns the results in parent order. The first error cancels the rest.
func fanOut(ctx context.Context, limit int, parents []domain.Destination, fetch func(context.Context, domain.Destination) ([]domain.Destination, error)) ([][]domain.Destination, error) {
	out := make([][]domain.Destination, len(parents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range parents {
		i, p := i, p
		g.Go(func() error {
			children, err := fetch(gctx, p)
			if err != nil {
				return err
			}
			out[i] = children
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- repair ----

type FixReport struct {
	Language string   `json:"language"`
	Checked  int      `json:"checked"`
	Fixed    int      `json:"fixed"`
	Failed   []string `json:"failed,omitempty"`
	Written  bool     `json:"written"`
}

// FixMissingProvinces refetches only the parts of lang's snapshot that came
// out empty: regions without provinces, then provinces without
// municipalities (including those just recovered). The file is rewritten
// only when something was recovered.
func (s *SnapshotService) FixMissingProvinces(ctx context.Context, lang string) (FixReport, error) {
	raw := lang
	lang = domain.NormalizeLanguage(lang)
	rep := FixReport{Language: lang}
	if !domain.IsSupportedLanguage(lang) {
		return rep, &domain.UnsupportedLanguageError{Lang: raw}
	}
	snap, err := s.d.Store.Load(lang)
	if err != nil {
		return rep, err
	}

	s.markRefreshing(lang, true)
	defer s.markRefreshing(lang, false)
	start := s.now()
	var st buildStats

	// regions with an empty (or absent) province list
	var emptyRegions []domain.Destination
	for _, byLang := range snap.Data.DestinationDetails {
		d, ok := byLang[lang]
		if !ok || d.Type != domain.TypeRegion {
			continue
		}
		if ps, _ := snap.Provinces(d.Key(), lang); len(ps) == 0 {
			emptyRegions = append(emptyRegions, d)
		}
	}
	sortByID(emptyRegions)
	rep.Checked += len(emptyRegions)

	found := s.repair(ctx, emptyRegions, &rep, func(ctx context.Context, r domain.Destination) ([]domain.Destination, error) {
		return s.d.Source.ProvincesForRegion(ctx, r.ID, lang)
	})
	for i, r := range emptyRegions {
		if len(found[i]) == 0 {
			continue
		}
		ps := s.attachProvinces(r, found[i], lang, &st)
		if len(ps) == 0 {
			continue
		}
		snap.SetProvinces(r.Key(), lang, ps)
		for _, p := range ps {
			snap.PutDetail(p, lang)
		}
		rep.Fixed++
	}

	// provinces with an empty (or absent) municipality list, including the
	// ones recovered above
	var emptyProvinces []domain.Destination
	seen := map[int64]bool{}
	for _, byLang := range snap.Data.RegionProvinces {
		for _, p := range byLang[lang] {
			if ms, _ := snap.Municipalities(p.Key(), lang); len(ms) == 0 && !seen[p.ID] {
				seen[p.ID] = true
				emptyProvinces = append(emptyProvinces, p)
			}
		}
	}
	sortByID(emptyProvinces)
	rep.Checked += len(emptyProvinces)

	found = s.repair(ctx, emptyProvinces, &rep, func(ctx context.Context, p domain.Destination) ([]domain.Destination, error) {
		return s.d.Source.MunicipalitiesForProvince(ctx, p.ID, lang)
	})
	for i, p := range emptyProvinces {
		ms := s.attachMunicipalities(p, found[i], lang, &st)
		if len(ms) == 0 {
			// keep an explicit empty list for recovered provinces
			if _, ok := snap.Municipalities(p.Key(), lang); !ok {
				snap.SetMunicipalities(p.Key(), lang, []domain.Destination{})
			}
			continue
		}
		snap.SetMunicipalities(p.Key(), lang, ms)
		for _, m := range ms {
			snap.PutDetail(m, lang)
		}
		rep.Fixed++
	}

	var runErr error
	if rep.Fixed > 0 {
		if issues := snap.CheckConsistency(lang); len(issues) > 0 {
			runErr = fmt.Errorf("repaired snapshot for %s is inconsistent: %s", lang, issues[0])
		} else {
			snap.Timestamp = s.now().UnixMilli()
			if runErr = s.d.Store.Save(lang, snap); runErr == nil {
				rep.Written = true
				if s.d.Cache != nil {
					s.d.Cache.Invalidate(lang)
				}
				if s.d.Queries != nil {
					s.d.Queries.Forget(lang)
				}
			}
		}
	}

	dur := s.now().Sub(start)
	observability.ObserveGeneration(lang, string(domain.RunFix), runErr, dur)
	res := LangResult{Language: lang, OK: runErr == nil, Municipalities: rep.Fixed, Duration: dur, Err: runErr}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	s.recordRun(ctx, domain.RunFix, res, start)

	log.Info().
		Str("lang", lang).
		Int("checked", rep.Checked).
		Int("fixed", rep.Fixed).
		Int("failed", len(rep.Failed)).
		Bool("written", rep.Written).
		Msg("snapshot repair finished")
	return rep, runErr
}

// repair refetches children for each parent; failures are recorded in rep
// and do not stop the other parents.
func (s *SnapshotService) repair(ctx context.Context, parents []domain.Destination, rep *FixReport, fetch func(context.Context, domain.Destination) ([]domain.Destination, error)) [][]domain.Destination {
	out := make([][]domain.Destination, len(parents))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.d.FetchWorkers)
	for i, p := range parents {
		i, p := i, p
		g.Go(func() error {
			children, err := fetch(gctx, p)
			if err != nil {
				mu.Lock()
				rep.Failed = append(rep.Failed, fmt.Sprintf("%s %d: %v", p.Type, p.ID, err))
				mu.Unlock()
				var uf *domain.UpstreamFetchError
				if errors.As(err, &uf) {
					s.logMiss(ctx, rep.Language, uf)
				}
				return nil
			}
			out[i] = children
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ---- refreshing state ----

func (s *SnapshotService) markRefreshing(lang string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.refreshing[lang]++
		return
	}
	if s.refreshing[lang]--; s.refreshing[lang] <= 0 {
		delete(s.refreshing, lang)
	}
}

// Refreshing reports whether a generation or repair for lang is in progress.
func (s *SnapshotService) Refreshing(lang string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing[lang] > 0
}

// ---- run log ----

func (s *SnapshotService) recordRun(ctx context.Context, kind domain.RunKind, res LangResult, start time.Time) {
	if s.d.Runs == nil {
		return
	}
	run := domain.GenerationRun{
		Lang:           res.Language,
		Kind:           kind,
		OK:             res.OK,
		Regions:        res.Regions,
		Provinces:      res.Provinces,
		Municipalities: res.Municipalities,
		Error:          res.Error,
		StartedAt:      start.UTC(),
		Duration:       res.Duration,
	}
	// the run log is best effort; a snapshot is never failed because of it
	if err := s.d.Runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Str("lang", res.Language).Err(err).Msg("record run failed")
	}
}

func (s *SnapshotService) logMiss(ctx context.Context, lang string, uf *domain.UpstreamFetchError) {
	if s.d.Runs == nil {
		return
	}
	if err := s.d.Runs.LogMiss(context.WithoutCancel(ctx), lang, uf.Level, uf.ParentID, uf.Err.Error()); err != nil {
		log.Warn().Str("lang", lang).Err(err).Msg("log miss failed")
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		k := domain.NormalizeLanguage(l)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}

func sortByID(ds []domain.Destination) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
}
