package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrSnapshotMissing = errors.New("snapshot missing")
	ErrUnsupportedLang = errors.New("unsupported language")
)

// Hierarchy levels used in UpstreamFetchError.
const (
	LevelLanguages      = "languages"
	LevelRegions        = "regions"
	LevelProvinces      = "provinces"
	LevelMunicipalities = "municipalities"
	LevelDestination    = "destination"
)

type UnsupportedLanguageError struct {
	Lang string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language %q", e.Lang)
}

func (e *UnsupportedLanguageError) Unwrap() error { return ErrUnsupportedLang }

// UpstreamFetchError carries enough context to retry a single subtree.
type UpstreamFetchError struct {
	Lang     string
	Level    string
	ParentID int64
	Err      error
}

func (e *UpstreamFetchError) Error() string {
	if e.ParentID != 0 {
		return fmt.Sprintf("fetch %s of %d (%s): %v", e.Level, e.ParentID, e.Lang, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Level, e.Lang, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

type SnapshotParseError struct {
	Lang string
	Path string
	Err  error
}

func (e *SnapshotParseError) Error() string {
	return fmt.Sprintf("parse snapshot %s (%s): %v", e.Path, e.Lang, e.Err)
}

func (e *SnapshotParseError) Unwrap() error { return e.Err }

type SnapshotWriteError struct {
	Lang string
	Path string
	Err  error
}

func (e *SnapshotWriteError) Error() string {
	return fmt.Sprintf("write snapshot %s (%s): %v", e.Path, e.Lang, e.Err)
}

func (e *SnapshotWriteError) Unwrap() error { return e.Err }
