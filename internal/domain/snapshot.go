package domain

import (
	"fmt"
	"strconv"
	"time"
)

// SnapshotVersion is bumped whenever the on-disk layout changes; files
// carrying any other version are treated as missing.
const SnapshotVersion = "4.0"

// InvalidatedVersion marks a tombstoned snapshot file.
const InvalidatedVersion = "invalidated"

type Snapshot struct {
	Version   string       `json:"version"`
	Timestamp int64        `json:"timestamp"` // epoch ms
	Data      SnapshotData `json:"data"`
}

// SnapshotData is keyed by id, then by language code. Inside a
// per-language file the inner maps hold a single entry.
type SnapshotData struct {
	RegionProvinces        map[string]map[string][]Destination `json:"regionProvinces"`
	ProvinceMunicipalities map[string]map[string][]Destination `json:"provinceMunicipalities"`
	DestinationDetails     map[string]map[string]Destination   `json:"destinationDetails"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		Data: SnapshotData{
			RegionProvinces:        map[string]map[string][]Destination{},
			ProvinceMunicipalities: map[string]map[string][]Destination{},
			DestinationDetails:     map[string]map[string]Destination{},
		},
	}
}

func (s *Snapshot) CreatedAt() time.Time { return time.UnixMilli(s.Timestamp) }

// Valid reports whether the snapshot has the current version and is younger than ttl.
func (s *Snapshot) Valid(now time.Time, ttl time.Duration) bool {
	if s == nil || s.Version != SnapshotVersion {
		return false
	}
	return now.Sub(s.CreatedAt()) < ttl
}

func (s *Snapshot) Provinces(regionID, lang string) ([]Destination, bool) {
	byLang, ok := s.Data.RegionProvinces[regionID]
	if !ok {
		return nil, false
	}
	out, ok := byLang[lang]
	return out, ok
}

func (s *Snapshot) Municipalities(provinceID, lang string) ([]Destination, bool) {
	byLang, ok := s.Data.ProvinceMunicipalities[provinceID]
	if !ok {
		return nil, false
	}
	out, ok := byLang[lang]
	return out, ok
}

func (s *Snapshot) PutDetail(d Destination, lang string) {
	k := d.Key()
	if s.Data.DestinationDetails[k] == nil {
		s.Data.DestinationDetails[k] = map[string]Destination{}
	}
	s.Data.DestinationDetails[k][lang] = d
}

func (s *Snapshot) SetProvinces(regionID, lang string, ps []Destination) {
	if s.Data.RegionProvinces[regionID] == nil {
		s.Data.RegionProvinces[regionID] = map[string][]Destination{}
	}
	s.Data.RegionProvinces[regionID][lang] = ps
}

func (s *Snapshot) SetMunicipalities(provinceID, lang string, ms []Destination) {
	if s.Data.ProvinceMunicipalities[provinceID] == nil {
		s.Data.ProvinceMunicipalities[provinceID] = map[string][]Destination{}
	}
	s.Data.ProvinceMunicipalities[provinceID][lang] = ms
}

// CheckConsistency returns one line per broken reference between the parent
// maps and destinationDetails for lang. An empty result means the tree is
// internally consistent.
func (s *Snapshot) CheckConsistency(lang string) []string {
	var issues []string
	detail := func(id string) (Destination, bool) {
		d, ok := s.Data.DestinationDetails[id][lang]
		return d, ok
	}
	for regionID, byLang := range s.Data.RegionProvinces {
		r, ok := detail(regionID)
		if !ok || r.Type != TypeRegion {
			issues = append(issues, fmt.Sprintf("region %s: missing detail", regionID))
		}
		for _, p := range byLang[lang] {
			if _, ok := detail(p.Key()); !ok {
				issues = append(issues, fmt.Sprintf("province %d: missing detail", p.ID))
			}
			if p.RegionID == nil || strconv.FormatInt(*p.RegionID, 10) != regionID {
				issues = append(issues, fmt.Sprintf("province %d: region mismatch (want %s)", p.ID, regionID))
			}
		}
	}
	for provinceID, byLang := range s.Data.ProvinceMunicipalities {
		p, ok := detail(provinceID)
		if !ok || p.Type != TypeProvince {
			issues = append(issues, fmt.Sprintf("province %s: missing detail", provinceID))
			continue
		}
		for _, m := range byLang[lang] {
			if _, ok := detail(m.Key()); !ok {
				issues = append(issues, fmt.Sprintf("municipality %d: missing detail", m.ID))
			}
			if m.ProvinceID == nil || strconv.FormatInt(*m.ProvinceID, 10) != provinceID {
				issues = append(issues, fmt.Sprintf("municipality %d: province mismatch (want %s)", m.ID, provinceID))
			}
			if m.RegionID != nil && p.RegionID != nil && *m.RegionID != *p.RegionID {
				issues = append(issues, fmt.Sprintf("municipality %d: region %d differs from province region %d", m.ID, *m.RegionID, *p.RegionID))
			}
		}
	}
	return issues
}

// CacheStatus is derived from the file on disk; it is never stored.
type CacheStatus struct {
	Exists     bool   `json:"exists"`
	Valid      bool   `json:"valid"`
	Timestamp  *int64 `json:"timestamp,omitempty"`
	Refreshing bool   `json:"refreshing"`
}

// SnapshotHeader is the version/timestamp prefix of a snapshot file.
type SnapshotHeader struct {
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}
