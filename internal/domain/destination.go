package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type DestinationType string

const (
	TypeRegion       DestinationType = "region"
	TypeProvince     DestinationType = "province"
	TypeMunicipality DestinationType = "municipality"
)

func ParseDestinationType(s string) (DestinationType, error) {
	switch t := DestinationType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeRegion, TypeProvince, TypeMunicipality:
		return t, nil
	}
	return "", fmt.Errorf("unknown destination type %q", s)
}

type Destination struct {
	ID           int64                  `json:"id"`
	UUID         string                 `json:"uuid,omitempty"`
	Type         DestinationType        `json:"type"`
	RegionID     *int64                 `json:"region_id,omitempty"`
	ProvinceID   *int64                 `json:"province_id,omitempty"`
	Coords       *Coords                `json:"coordinates,omitempty"`
	Image        string                 `json:"image,omitempty"`
	Translations map[string]Translation `json:"translations"`
}

type Coords struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

type Translation struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	SEOTitle    string `json:"seo_title,omitempty"`
	SEOSummary  string `json:"seo_summary,omitempty"`
	Description string `json:"description,omitempty"`
}

// Translation returns the record for lang; ok is false when the destination
// has not been translated into that language.
func (d Destination) Translation(lang string) (Translation, bool) {
	t, ok := d.Translations[lang]
	return t, ok
}

// ForLanguage returns a copy carrying only the lang translation.
func (d Destination) ForLanguage(lang string) (Destination, bool) {
	t, ok := d.Translations[lang]
	if !ok {
		return Destination{}, false
	}
	out := d
	out.Translations = map[string]Translation{lang: t}
	return out, true
}

// Key is the id as used for snapshot map keys.
func (d Destination) Key() string { return strconv.FormatInt(d.ID, 10) }

func DerefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
