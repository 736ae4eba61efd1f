package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireLock_WritesOwnPIDAndReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	s := &Scheduler{deps: Deps{Log: slog.Default()}, lockPath: path}

	if err := s.acquireLock(); err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lockfile: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected lockfile to contain own pid, got %q", data)
	}

	s.releaseLock()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lockfile removed after release")
	}
}

func TestAcquireLock_RefusesWhenOwnerStillAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("seed lockfile: %v", err)
	}

	s := &Scheduler{deps: Deps{Log: slog.Default()}, lockPath: path}
	if err := s.acquireLock(); err == nil {
		t.Fatal("expected acquireLock to refuse while the owning pid is alive")
	}
}

func TestAcquireLock_TakesOverStaleLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	// PID 999999 is extremely unlikely to be alive in any test environment.
	if err := os.WriteFile(path, []byte("999999"), 0o644); err != nil {
		t.Fatalf("seed lockfile: %v", err)
	}

	s := &Scheduler{deps: Deps{Log: slog.Default()}, lockPath: path}
	if err := s.acquireLock(); err != nil {
		t.Fatalf("expected takeover of stale lockfile, got error: %v", err)
	}
	s.releaseLock()
}

func TestRunTracked_InvokesJobAndGeneratesDistinctRunIDs(t *testing.T) {
	s := &Scheduler{deps: Deps{Log: slog.Default()}}
	calls := 0
	s.runTracked(context.Background(), "test_job", func(ctx context.Context) { calls++ })
	s.runTracked(context.Background(), "test_job", func(ctx context.Context) { calls++ })
	if calls != 2 {
		t.Fatalf("expected job body invoked twice, got %d", calls)
	}

	a, b := newRunID(), newRunID()
	if a == b {
		t.Fatal("expected distinct run ids")
	}
}

func TestContainsHour(t *testing.T) {
	hours := []int{8, 16}
	if !containsHour(hours, 8) || !containsHour(hours, 16) {
		t.Fatal("expected configured hours to match")
	}
	if containsHour(hours, 12) {
		t.Fatal("expected unconfigured hour to not match")
	}
}
