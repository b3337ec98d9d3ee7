package snapshot_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"thebestitaly/internal/domain"
	"thebestitaly/internal/storage/snapshot"
)

func sample() *domain.Snapshot {
	s := domain.NewSnapshot()
	s.Timestamp = 1_700_000_000_000
	rid := int64(1)
	s.PutDetail(domain.Destination{ID: 1, Type: domain.TypeRegion, Translations: map[string]domain.Translation{
		"it": {Name: "Lazio", Slug: "lazio"},
	}}, "it")
	s.SetProvinces("1", "it", []domain.Destination{{ID: 2, Type: domain.TypeProvince, RegionID: &rid}})
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	st := snapshot.New(filepath.Join(t.TempDir(), "nested"))
	want := sample()

	if err := st.Save("it", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load("it")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if filepath.Base(st.Path("zh-tw")) != "destinations-zh-tw.json" {
		t.Fatalf("unexpected path %s", st.Path("zh-tw"))
	}
}

func TestStore_LoadMissing(t *testing.T) {
	st := snapshot.New(t.TempDir())
	_, err := st.Load("it")
	if !errors.Is(err, domain.ErrSnapshotMissing) {
		t.Fatalf("want ErrSnapshotMissing, got %v", err)
	}
}

func TestStore_LoadCorruptAndForeignVersion(t *testing.T) {
	dir := t.TempDir()
	st := snapshot.New(dir)

	_ = os.WriteFile(st.Path("it"), []byte("{oops"), 0o644)
	var perr *domain.SnapshotParseError
	if _, err := st.Load("it"); !errors.As(err, &perr) {
		t.Fatalf("want SnapshotParseError, got %v", err)
	}

	_ = os.WriteFile(st.Path("en"), []byte(`{"version":"3.0-safe","timestamp":1,"data":{}}`), 0o644)
	if _, err := st.Load("en"); !errors.As(err, &perr) {
		t.Fatalf("want SnapshotParseError for old version, got %v", err)
	}
}

func TestStore_Tombstone(t *testing.T) {
	now := time.UnixMilli(1_800_000_000_000)
	st := snapshot.New(t.TempDir()).WithClock(func() time.Time { return now })

	if ok, err := st.Tombstone("it"); ok || err != nil {
		t.Fatalf("tombstone without file: ok=%v err=%v", ok, err)
	}
	if err := st.Save("it", sample()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := st.Tombstone("it"); !ok || err != nil {
		t.Fatalf("tombstone: ok=%v err=%v", ok, err)
	}
	if _, err := st.Load("it"); !errors.Is(err, domain.ErrSnapshotMissing) {
		t.Fatalf("tombstoned load should be missing, got %v", err)
	}
	h, exists, err := st.Header("it")
	if err != nil || !exists {
		t.Fatalf("header: exists=%v err=%v", exists, err)
	}
	if h.Version != domain.InvalidatedVersion || h.Timestamp != now.UnixMilli() {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st := snapshot.New(dir)
	if err := st.Save("it", sample()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save("en", sample()); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644)

	langs, err := st.Languages()
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if !reflect.DeepEqual(langs, []string{"en", "it"}) {
		t.Fatalf("languages = %v", langs)
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 3 {
		t.Fatalf("expected only two snapshots and the unrelated file, got %d entries", len(ents))
	}
}

func TestStore_SaveIntoUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	_ = os.WriteFile(blocker, []byte("x"), 0o644)

	st := snapshot.New(filepath.Join(blocker, "sub"))
	var werr *domain.SnapshotWriteError
	if err := st.Save("it", sample()); !errors.As(err, &werr) {
		t.Fatalf("want SnapshotWriteError, got %v", err)
	}
}
