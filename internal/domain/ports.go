package domain

import (
	"context"
	"time"
)

// CMSClient is the raw Directus surface; records come back undecoded.
type CMSClient interface {
	ListDestinations(ctx context.Context, q DestinationQuery) ([]map[string]any, error)
	GetDestinationBySlug(ctx context.Context, slug, lang string, typ DestinationType) (map[string]any, error)
	GetDestinationByID(ctx context.Context, id int64, lang string) (map[string]any, error)
	ListLanguages(ctx context.Context) ([]map[string]any, error)
}

type DestinationQuery struct {
	Type       DestinationType
	RegionID   int64
	ProvinceID int64
	Lang       string
	Limit      int // <= 0 means all
}

// DestinationSource serves mapped destinations for one language.
type DestinationSource interface {
	Regions(ctx context.Context, lang string) ([]Destination, error)
	ProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]Destination, error)
	MunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]Destination, error)
	DestinationBySlug(ctx context.Context, slug, lang string, typ DestinationType) (*Destination, error)
	DestinationByID(ctx context.Context, id int64, lang string) (*Destination, error)
}

// SnapshotStore persists one snapshot file per language.
type SnapshotStore interface {
	Load(lang string) (*Snapshot, error)
	Header(lang string) (SnapshotHeader, bool, error)
	Save(lang string, s *Snapshot) error
	Tombstone(lang string) (bool, error)
	Path(lang string) string
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// RunLog records generation and repair runs for auditing.
type RunLog interface {
	RecordRun(ctx context.Context, r GenerationRun) error
	LogMiss(ctx context.Context, lang, level string, parentID int64, reason string) error
	LastRuns(ctx context.Context) (map[string]GenerationRun, error)
}

type RunKind string

const (
	RunGenerate RunKind = "generate"
	RunFix      RunKind = "fix"
)

type GenerationRun struct {
	Lang           string        `json:"language"`
	Kind           RunKind       `json:"kind"`
	OK             bool          `json:"ok"`
	Regions        int           `json:"regions"`
	Provinces      int           `json:"provinces"`
	Municipalities int           `json:"municipalities"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}
