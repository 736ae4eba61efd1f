package pausestate

import (
	"path/filepath"
	"testing"
)

func TestPauseThenResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system_state.json")
	s := New(path)

	if s.IsPaused() {
		t.Fatal("expected fresh store to report not paused")
	}

	if _, err := s.Pause("maintenance", "op1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !s.IsPaused() {
		t.Fatal("expected IsPaused true after Pause")
	}

	st, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Reason != "maintenance" || st.PausedBy != "op1" || st.PausedAt == nil {
		t.Fatalf("unexpected state after pause: %+v", st)
	}

	if _, err := s.Resume("op1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.IsPaused() {
		t.Fatal("expected IsPaused false after Resume")
	}
}

func TestIsPaused_MissingFileDefaultsFalse(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if s.IsPaused() {
		t.Fatal("expected missing pause-state file to default to not paused")
	}
}

func TestNoStaleTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_state.json")
	s := New(path)

	if _, err := s.Pause("r", "by"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	entries, err := filepathGlobTmp(dir)
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, got %v", entries)
	}
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".pausestate-*.tmp"))
}
