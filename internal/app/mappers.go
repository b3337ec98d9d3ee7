package app

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"thebestitaly/internal/domain"
)

/********** alias registries (single source of truth) **********/

var destinationAliases = map[string][]string{
	"id":          {"id"},
	"uuid":        {"uuid_id", "uuid"},
	"type":        {"type"},
	"region_id":   {"region_id.id", "region_id", "region.id"},
	"province_id": {"province_id.id", "province_id", "province.id"},
	"lat":         {"lat", "latitude", "coordinates.lat"},
	"long":        {"long", "lng", "longitude", "coordinates.long"},
	"image":       {"image.id", "image", "image.filename_disk"},
}

var translationAliases = map[string][]string{
	"lang":        {"languages_code.code", "languages_code", "language", "lang"},
	"name":        {"destination_name", "name", "title"},
	"slug":        {"slug_permalink", "slug"},
	"seo_title":   {"seo_title"},
	"seo_summary": {"seo_summary"},
	"description": {"description"},
}

/********** tiny helpers **********/

// lookupAny walks a dotted path through nested maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstAlias(m map[string]any, aliases map[string][]string, key string) string {
	for _, p := range aliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// firstInt64Flexible: int64 from several paths (float64/int/string).
func firstInt64Flexible(m map[string]any, paths ...string) *int64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			x := int64(v)
			return &x
		case int:
			x := int64(v)
			return &x
		case int64:
			x := v
			return &x
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

/********** destinations **********/

// mapDestination decodes one Directus row. Translations without a language
// code are attributed to lang, which is what a deep-filtered request returns.
// ok is false when the row has no usable id or type.
func mapDestination(raw map[string]any, lang string) (domain.Destination, bool) {
	id := firstInt64Flexible(raw, destinationAliases["id"]...)
	if id == nil || *id <= 0 {
		return domain.Destination{}, false
	}
	typ, err := domain.ParseDestinationType(firstAlias(raw, destinationAliases, "type"))
	if err != nil {
		log.Debug().Int64("id", *id).Err(err).Msg("skip destination")
		return domain.Destination{}, false
	}

	d := domain.Destination{
		ID:           *id,
		UUID:         firstAlias(raw, destinationAliases, "uuid"),
		Type:         typ,
		Image:        firstAlias(raw, destinationAliases, "image"),
		Translations: map[string]domain.Translation{},
	}
	if typ != domain.TypeRegion {
		d.RegionID = positive(firstInt64Flexible(raw, destinationAliases["region_id"]...))
	}
	if typ == domain.TypeMunicipality {
		d.ProvinceID = positive(firstInt64Flexible(raw, destinationAliases["province_id"]...))
	}
	lat := getFloatFlexible(raw, destinationAliases["lat"]...)
	lng := getFloatFlexible(raw, destinationAliases["long"]...)
	if lat != nil && lng != nil {
		d.Coords = &domain.Coords{Lat: *lat, Long: *lng}
	}

	rows, _ := lookupAny(raw, "translations").([]any)
	for _, r := range rows {
		tm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		code := domain.NormalizeLanguage(firstAlias(tm, translationAliases, "lang"))
		if code == "" {
			code = lang
		}
		if _, dup := d.Translations[code]; dup {
			continue
		}
		tr := domain.Translation{
			Name:        firstAlias(tm, translationAliases, "name"),
			Slug:        firstAlias(tm, translationAliases, "slug"),
			SEOTitle:    firstAlias(tm, translationAliases, "seo_title"),
			SEOSummary:  firstAlias(tm, translationAliases, "seo_summary"),
			Description: firstAlias(tm, translationAliases, "description"),
		}
		if tr.Name == "" && tr.Slug == "" {
			continue
		}
		d.Translations[code] = tr
	}
	return d, true
}

// mapDestinations decodes rows and keeps only those translated into lang,
// in upstream order.
func mapDestinations(rows []map[string]any, lang string) []domain.Destination {
	out := make([]domain.Destination, 0, len(rows))
	for _, raw := range rows {
		d, ok := mapDestination(raw, lang)
		if !ok {
			continue
		}
		if d, ok = d.ForLanguage(lang); ok {
			out = append(out, d)
		}
	}
	return out
}

// mapLanguages extracts sorted, de-duplicated language codes.
func mapLanguages(rows []map[string]any) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range rows {
		code := domain.NormalizeLanguage(lookupStr(r, "code"))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func positive(p *int64) *int64 {
	if p == nil || *p <= 0 {
		return nil
	}
	return p
}
