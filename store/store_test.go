package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/store"
)

func TestPutGetDeleteJobReport(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lib := uuid.New()
	r := &core.JobReport{
		ID:        uuid.New(),
		LibraryID: lib,
		Action:    "indexer",
		GroupKey:  "7:/x",
		Status:    core.Running,
		CreatedAt: time.Now(),
		TaskCount: 10,
	}
	if err := s.Put(r); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Action != r.Action || got.GroupKey != r.GroupKey {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := s.Delete(r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(r.ID); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}

func TestListByLibraryNewestFirst(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lib := uuid.New()
	other := uuid.New()
	base := time.Now()
	for i, libID := range []uuid.UUID{lib, lib, other, lib} {
		r := &core.JobReport{
			ID:        uuid.New(),
			LibraryID: libID,
			Action:    "indexer",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Put(r); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	reports, err := s.ListByLibrary(lib)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports for library, got %d", len(reports))
	}
	for _, r := range reports {
		if r.LibraryID != lib {
			t.Fatalf("list leaked another library's report: %+v", r)
		}
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].CreatedAt.After(reports[i-1].CreatedAt) {
			t.Fatalf("reports not newest first at %d: %v after %v", i, reports[i].CreatedAt, reports[i-1].CreatedAt)
		}
	}
}

func TestLibraryRoundTrip(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lib := &core.Library{ID: uuid.New(), Identity: "inst-a"}
	if err := s.PutLibrary(lib); err != nil {
		t.Fatalf("put library: %v", err)
	}

	got, err := s.GetLibrary(lib.ID)
	if err != nil {
		t.Fatalf("get library: %v", err)
	}
	if got.Identity != lib.Identity {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetLibrary(uuid.New()); err == nil {
		t.Fatalf("expected NotFound for unknown library")
	}
}

func TestLocationRoundTrip(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lib := uuid.New()
	loc := &core.Location{ID: 7, PubID: uuid.New(), Path: "/home/user/Documents", Identity: "inst-a", Online: true}
	if err := s.PutLocation(lib, loc); err != nil {
		t.Fatalf("put location: %v", err)
	}

	got, err := s.GetLocation(lib, 7)
	if err != nil {
		t.Fatalf("get location: %v", err)
	}
	if got.Path != loc.Path || got.Identity != loc.Identity {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetLocation(lib, 99); err == nil {
		t.Fatalf("expected NotFound for unknown location")
	}
}

func TestFilePathRoundTrip(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lib := uuid.New()
	fp := &core.FilePath{ID: 42, PubID: uuid.New(), LocationID: 7, RelPath: "photos/a.jpg", Extension: "jpg"}
	if err := s.PutFilePath(lib, fp); err != nil {
		t.Fatalf("put file path: %v", err)
	}

	got, err := s.GetFilePath(lib, 7, 42)
	if err != nil {
		t.Fatalf("get file path: %v", err)
	}
	if got.RelPath != fp.RelPath || got.Extension != fp.Extension {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetFilePath(lib, 7, 99); err == nil {
		t.Fatalf("expected NotFound for unknown file path")
	}
}
