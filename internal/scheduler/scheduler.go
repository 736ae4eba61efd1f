// Package scheduler is the process-wide job coordinator (spec §4.K),
// grounded on scheduler.py's APScheduler-based init_scheduler: the same
// nine named jobs at the same cadences, gated the same way, but driven
// by robfig/cron/v3 instead of calling back into the HTTP surface over
// loopback. A host-local PID lockfile plus an in-process singleton guard
// replace the original's _scheduler_lock_file/_scheduler_instance globals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rhernandezbas/splynx-tickets/internal/assignment"
	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/escalation"
	"github.com/rhernandezbas/splynx-tickets/internal/ingestion"
	"github.com/rhernandezbas/splynx-tickets/internal/pausestate"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/shiftlifecycle"
	"github.com/rhernandezbas/splynx-tickets/internal/syncworker"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

// DefaultLockPath mirrors the original's /tmp/splynx_scheduler.lock.
const DefaultLockPath = "/tmp/splynx_scheduler.lock"

// SplynxGroupSoporteTecnico is the default TicketSvc group id seeded
// tickets are imported from (spec §4.K "import_existing_tickets"),
// matching ticket_manager.py's group_id="4" default.
const SplynxGroupSoporteTecnico = "4"

var singletonMu sync.Mutex
var singletonHeld bool

// Deps bundles every component a scheduled job calls into.
type Deps struct {
	Repo       repository.Repository
	Tickets    ticketsvc.Client
	Configs    configstore.Store
	Clock      clock.Clock
	Pause      *pausestate.Store
	Ingester   *ingestion.Ingester
	Assignment *assignment.Engine
	Sync       *syncworker.Worker
	Reopen     *syncworker.ReopenChecker
	Escalation *escalation.Worker
	ShiftLife  *shiftlifecycle.Worker
	Log        *slog.Logger
}

// Scheduler wires Deps' components to cron.v3 triggers and guards
// against a second instance on the same host (spec §4.K, §8.2).
type Scheduler struct {
	deps     Deps
	lockPath string
	cron     *cron.Cron
	lockFile *os.File
}

// New builds a Scheduler. lockPath defaults to DefaultLockPath when empty.
func New(deps Deps, lockPath string) *Scheduler {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if lockPath == "" {
		lockPath = DefaultLockPath
	}
	loc, err := time.LoadLocation(clock.LocationName)
	if err != nil {
		loc = time.UTC
	}
	return &Scheduler{
		deps:     deps,
		lockPath: lockPath,
		cron:     cron.New(cron.WithLocation(loc)),
	}
}

// Start acquires the singleton guards, registers the nine jobs, and
// starts the cron runner. It runs process_webhooks once immediately,
// matching the original's startup kick-off.
func (s *Scheduler) Start(ctx context.Context) error {
	singletonMu.Lock()
	if singletonHeld {
		singletonMu.Unlock()
		return fmt.Errorf("scheduler: already running in this process")
	}
	singletonHeld = true
	singletonMu.Unlock()

	if err := s.acquireLock(); err != nil {
		singletonMu.Lock()
		singletonHeld = false
		singletonMu.Unlock()
		return err
	}

	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context)
	}{
		{"*/3 * * * *", "process_webhooks", s.runProcessWebhooks},
		{"*/3 * * * *", "assign_unassigned", s.runAssignUnassigned},
		{"*/3 * * * *", "alert_overdue", s.runAlertOverdue},
		{"0 * * * *", "end_of_shift_notifications", s.runEndOfShiftNotifications},
		{"*/40 * * * *", "auto_unassign_after_shift", s.runAutoUnassignAfterShift},
		{"*/5 * * * *", "sync_status", s.runSyncStatus},
		{"*/5 * * * *", "import_existing_tickets", s.runImportExistingTickets},
		{"*/2 * * * *", "reopen_checker", s.runReopenChecker},
		{"* * * * *", "reset_assignment_counters", s.runResetAssignmentCounters},
	}

	for _, j := range jobs {
		run := j.run
		name := j.name
		if _, err := s.cron.AddFunc(j.spec, func() { s.runTracked(ctx, name, run) }); err != nil {
			return fmt.Errorf("scheduler: register job %s: %w", name, err)
		}
	}

	s.cron.Start()
	s.deps.Log.Info("scheduler started", "jobs", len(jobs), "pid", os.Getpid())

	go s.runTracked(ctx, "process_webhooks", s.runProcessWebhooks)
	return nil
}

// newRunID generates a UUIDv7 to correlate one job execution's log lines,
// falling back to v4 if the time-ordered generator fails.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// runTracked wraps a job run with a per-execution correlation id so its
// start/completion log lines can be grepped together.
func (s *Scheduler) runTracked(ctx context.Context, name string, run func(ctx context.Context)) {
	runID := newRunID()
	log := s.deps.Log.With("job", name, "run_id", runID)
	start := time.Now()
	log.Debug("job run started")
	run(ctx)
	log.Debug("job run finished", "duration_ms", time.Since(start).Milliseconds())
}

// Stop halts the cron runner and releases both singleton guards.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.releaseLock()

	singletonMu.Lock()
	singletonHeld = false
	singletonMu.Unlock()

	s.deps.Log.Info("scheduler stopped")
}

// acquireLock refuses to start if another process's lockfile is present
// and that PID still looks alive; otherwise it writes its own PID,
// matching scheduler.py's best-effort file check.
func (s *Scheduler) acquireLock() error {
	if data, err := os.ReadFile(s.lockPath); err == nil {
		existing := strings.TrimSpace(string(data))
		if pid, perr := strconv.Atoi(existing); perr == nil && processAlive(pid) {
			return fmt.Errorf("scheduler: already running in PID %s (lockfile %s)", existing, s.lockPath)
		}
		s.deps.Log.Warn("scheduler: stale lockfile found, taking over", "path", s.lockPath, "previous_pid", existing)
	}

	f, err := os.Create(s.lockPath)
	if err != nil {
		s.deps.Log.Warn("scheduler: could not create lockfile, continuing without host guard", "path", s.lockPath, "error", err)
		return nil
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return fmt.Errorf("scheduler: write lockfile: %w", err)
	}
	s.lockFile = f
	return nil
}

func (s *Scheduler) releaseLock() {
	if s.lockFile == nil {
		return
	}
	s.lockFile.Close()
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.deps.Log.Warn("scheduler: failed to remove lockfile", "path", s.lockPath, "error", err)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
