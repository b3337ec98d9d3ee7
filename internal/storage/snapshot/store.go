// Package snapshot keeps one JSON snapshot file per language on local disk.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"thebestitaly/internal/domain"
)

const (
	filePrefix = "destinations-"
	fileSuffix = ".json"
)

type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// WithClock replaces the time source used for tombstones.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(lang string) string {
	return filepath.Join(s.dir, filePrefix+lang+fileSuffix)
}

// Load reads and decodes the snapshot for lang. A missing or tombstoned file
// yields domain.ErrSnapshotMissing; undecodable content or a foreign version
// yields *domain.SnapshotParseError. Staleness is left to the caller.
func (s *Store) Load(lang string) (*domain.Snapshot, error) {
	path := s.Path(lang)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrSnapshotMissing)
	}
	if err != nil {
		return nil, &domain.SnapshotParseError{Lang: lang, Path: path, Err: err}
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, &domain.SnapshotParseError{Lang: lang, Path: path, Err: err}
	}
	switch snap.Version {
	case domain.SnapshotVersion:
	case domain.InvalidatedVersion:
		return nil, fmt.Errorf("%s: invalidated: %w", path, domain.ErrSnapshotMissing)
	default:
		return nil, &domain.SnapshotParseError{
			Lang: lang, Path: path,
			Err: fmt.Errorf("version %q, want %q", snap.Version, domain.SnapshotVersion),
		}
	}
	return &snap, nil
}

// Header decodes only version and timestamp. exists is false when there is no file.
func (s *Store) Header(lang string) (domain.SnapshotHeader, bool, error) {
	path := s.Path(lang)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SnapshotHeader{}, false, nil
	}
	if err != nil {
		return domain.SnapshotHeader{}, true, err
	}
	defer f.Close()

	var h domain.SnapshotHeader
	if err := json.NewDecoder(f).Decode(&h); err != nil {
		return domain.SnapshotHeader{}, true, &domain.SnapshotParseError{Lang: lang, Path: path, Err: err}
	}
	return h, true, nil
}

// Save replaces the file for lang atomically: readers see either the old
// snapshot or the new one, never a partial write.
func (s *Store) Save(lang string, snap *domain.Snapshot) error {
	path := s.Path(lang)
	if err := writeAtomic(path, snap); err != nil {
		return &domain.SnapshotWriteError{Lang: lang, Path: path, Err: err}
	}
	return nil
}

// Tombstone overwrites an existing file with an invalidated marker. It
// reports false when there was nothing to invalidate.
func (s *Store) Tombstone(lang string) (bool, error) {
	path := s.Path(lang)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	marker := domain.SnapshotHeader{Version: domain.InvalidatedVersion, Timestamp: s.now().UnixMilli()}
	if err := writeAtomic(path, marker); err != nil {
		return false, &domain.SnapshotWriteError{Lang: lang, Path: path, Err: err}
	}
	return true, nil
}

// Languages lists the languages that have a file in the directory, sorted.
func (s *Store) Languages() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(out)
	return out, nil
}

func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := json.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
