package domain

import (
	"sort"
	"strconv"
	"strings"
)

// SupportedLanguages is the fixed set of site languages. Any code outside it
// is rejected at the writer boundary.
var SupportedLanguages = []string{
	"af", "am", "ar", "az", "bg", "bn", "ca", "cs", "da", "de",
	"el", "en", "es", "et", "fa", "fi", "fr", "he", "hi", "hr",
	"hu", "hy", "id", "is", "it", "ja", "ka", "ko", "lt", "lv",
	"mk", "ms", "nl", "pl", "pt", "ro", "ru", "sk", "sl", "sr",
	"sv", "sw", "th", "tl", "tk", "uk", "ur", "vi", "zh", "zh-tw",
}

// DefaultLanguage is served when negotiation finds nothing better.
const DefaultLanguage = "it"

var supported = func() map[string]struct{} {
	m := make(map[string]struct{}, len(SupportedLanguages))
	for _, l := range SupportedLanguages {
		m[l] = struct{}{}
	}
	return m
}()

func NormalizeLanguage(code string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
}

func IsSupportedLanguage(code string) bool {
	_, ok := supported[NormalizeLanguage(code)]
	return ok
}

// NegotiateLanguage picks the best supported language from an Accept-Language
// header. Region-qualified tags fall back to their base language, except
// zh-TW/zh-HK which map to zh-tw.
func NegotiateLanguage(acceptLanguage string) string {
	type cand struct {
		tag string
		q   float64
	}
	var cands []cand
	for _, part := range strings.Split(acceptLanguage, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		q := 1.0
		tag := part
		if semi := strings.IndexByte(part, ';'); semi >= 0 {
			tag = strings.TrimSpace(part[:semi])
			param := strings.TrimSpace(part[semi+1:])
			if strings.HasPrefix(param, "q=") {
				if f, err := strconv.ParseFloat(param[2:], 64); err == nil {
					q = f
				}
			}
		}
		if q <= 0 {
			continue
		}
		cands = append(cands, cand{tag: NormalizeLanguage(tag), q: q})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })

	for _, c := range cands {
		if c.tag == "zh-hk" || c.tag == "zh-hant" || strings.HasPrefix(c.tag, "zh-hant-") {
			return "zh-tw"
		}
		if IsSupportedLanguage(c.tag) {
			return c.tag
		}
		if base, _, ok := strings.Cut(c.tag, "-"); ok && IsSupportedLanguage(base) {
			return base
		}
	}
	return DefaultLanguage
}
