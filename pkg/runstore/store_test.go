package runstore

import (
	"errors"
	"testing"
	"time"
)

func TestFileStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		RunID:     "run-1",
		JobName:   "nightly",
		Status:    StatusStarted,
		Tags:      map[string]string{"process/pid": "4242"},
		CreatedAt: now,
		StartedAt: &now,
	}

	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if got.RunID != rec.RunID {
		t.Fatalf("run_id mismatch: got=%q want=%q", got.RunID, rec.RunID)
	}
	if got.Status != StatusStarted {
		t.Fatalf("status mismatch: got=%q", got.Status)
	}
	if v, ok := got.Tag("process/pid"); !ok || v != "4242" {
		t.Fatalf("pid tag not persisted: %q %v", v, ok)
	}
}

func TestFileStore_GetRunNotFound(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_AddRunTagsLastWriteWins(t *testing.T) {
	s := NewFileStore(t.TempDir())
	now := time.Now().UTC()
	if err := s.Write(&Record{RunID: "run-1", Status: StatusStarted, CreatedAt: now}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.AddRunTags("run-1", map[string]string{"process/pid": "100"}); err != nil {
		t.Fatalf("AddRunTags: %v", err)
	}
	if err := s.AddRunTags("run-1", map[string]string{"process/pid": "200", "extra": "x"}); err != nil {
		t.Fatalf("AddRunTags: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if v, _ := got.Tag("process/pid"); v != "200" {
		t.Fatalf("expected last write to win, got pid=%q", v)
	}
	if v, _ := got.Tag("extra"); v != "x" {
		t.Fatalf("expected merged tag, got extra=%q", v)
	}
}

func TestFileStore_AddRunTagsUnknownRun(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.AddRunTags("missing", map[string]string{"k": "v"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_ReportRunCanceling(t *testing.T) {
	s := NewFileStore(t.TempDir())
	now := time.Now().UTC()
	if err := s.Write(&Record{RunID: "run-1", Status: StatusStarted, CreatedAt: now}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.ReportRunCanceling("run-1"); err != nil {
		t.Fatalf("ReportRunCanceling: %v", err)
	}
	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusCanceling {
		t.Fatalf("expected CANCELING, got %q", got.Status)
	}
}

func TestFileStore_ListSortsNewestFirst(t *testing.T) {
	s := NewFileStore(t.TempDir())

	t1 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 20, 13, 0, 0, 0, time.UTC)

	if err := s.Write(&Record{RunID: "run-1", Status: StatusSuccess, CreatedAt: t1, StartedAt: &t1}); err != nil {
		t.Fatalf("Write run-1: %v", err)
	}
	if err := s.Write(&Record{RunID: "run-2", Status: StatusStarted, CreatedAt: t2, StartedAt: &t2}); err != nil {
		t.Fatalf("Write run-2: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected run count: %d", len(got))
	}
	if got[0].RunID != "run-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].RunID)
	}
}

func TestRunStatus_IsFinished(t *testing.T) {
	finished := []RunStatus{StatusCanceled, StatusSuccess, StatusFailure}
	for _, st := range finished {
		if !st.IsFinished() {
			t.Fatalf("%s should be finished", st)
		}
	}
	live := []RunStatus{StatusQueued, StatusNotStarted, StatusStarted, StatusCanceling}
	for _, st := range live {
		if st.IsFinished() {
			t.Fatalf("%s should not be finished", st)
		}
	}
}
