package scheduler

import (
	"context"

	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

// runProcessWebhooks materializes pending webhooks into incidents (F),
// gated on working hours (scheduler.py's FINDE_HORA/SEMANA_HORA check).
func (s *Scheduler) runProcessWebhooks(ctx context.Context) {
	now := s.deps.Clock.Now()
	if !s.deps.Clock.InWorkingHours(now) {
		s.deps.Log.Debug("process_webhooks: outside working hours, skipping")
		return
	}
	stats, err := s.deps.Ingester.ProcessPending(ctx)
	if err != nil {
		s.deps.Log.Error("process_webhooks failed", "error", err)
		return
	}
	s.deps.Log.Info("process_webhooks completed", "processed", stats.Processed, "duplicates", stats.Duplicates, "filtered", stats.Filtered)

	matStats, err := s.deps.Ingester.MaterializeRemoteTickets(ctx)
	if err != nil {
		s.deps.Log.Error("process_webhooks: materialize remote tickets failed", "error", err)
		return
	}
	s.deps.Log.Info("process_webhooks: materialize remote tickets completed", "checked", matStats.Checked, "created", matStats.Created, "errors", matStats.Errors)
}

// runAssignUnassigned polls TicketSvc for unassigned tickets and assigns
// them via G, gated on SYSTEM_PAUSED (spec §4.K).
func (s *Scheduler) runAssignUnassigned(ctx context.Context) {
	if s.deps.Pause.IsPaused() {
		s.deps.Log.Debug("assign_unassigned: system paused, skipping")
		return
	}
	groupID := s.deps.Configs.Get(configstore.KeySplynxSupportGroupID, SplynxGroupSoporteTecnico)
	tickets, err := s.deps.Tickets.ListUnassigned(ctx, groupID)
	if err != nil {
		s.deps.Log.Error("assign_unassigned: list unassigned failed", "error", err)
		return
	}
	now := s.deps.Clock.Now()
	assigned := 0
	for _, t := range tickets {
		personID, err := s.deps.Assignment.GetNextAssignee(now, t.Subject)
		if err != nil {
			s.deps.Log.Error("assign_unassigned: no assignee available", "ticket_id", t.ID, "error", err)
			continue
		}
		if err := s.deps.Tickets.UpdateAssignment(ctx, t.ID, personID); err != nil {
			s.deps.Log.Error("assign_unassigned: update assignment failed", "ticket_id", t.ID, "person_id", personID, "error", err)
			continue
		}
		if err := s.deps.Assignment.Commit(personID, now); err != nil {
			s.deps.Log.Error("assign_unassigned: commit counter failed", "person_id", personID, "error", err)
		}
		assigned++
	}
	s.deps.Log.Info("assign_unassigned completed", "total", len(tickets), "assigned", assigned)
}

// runAlertOverdue sends grouped overdue alerts (I), gated on
// WHATSAPP_ENABLED.
func (s *Scheduler) runAlertOverdue(ctx context.Context) {
	if !s.deps.Configs.GetBool(configstore.KeyWhatsAppEnabled, false) {
		s.deps.Log.Debug("alert_overdue: WhatsApp disabled, skipping")
		return
	}
	stats, err := s.deps.Escalation.CheckOverdue(ctx)
	if err != nil {
		s.deps.Log.Error("alert_overdue failed", "error", err)
		return
	}
	s.deps.Log.Info("alert_overdue completed", "checked", stats.Checked, "alerted", stats.Alerted, "suppressed", stats.Suppressed)

	preStats, err := s.deps.Escalation.CheckPreAlert(ctx)
	if err != nil {
		s.deps.Log.Error("pre_alert failed", "error", err)
		return
	}
	s.deps.Log.Info("pre_alert completed", "checked", preStats.Checked, "alerted", preStats.Alerted)
}

// runEndOfShiftNotifications sends end-of-shift summaries (J.a), weekday only.
func (s *Scheduler) runEndOfShiftNotifications(ctx context.Context) {
	stats, err := s.deps.ShiftLife.EndOfShiftSummaries(ctx)
	if err != nil {
		s.deps.Log.Error("end_of_shift_notifications failed", "error", err)
		return
	}
	s.deps.Log.Info("end_of_shift_notifications completed", "notified", stats.Notified, "errors", stats.Errors)
}

// runAutoUnassignAfterShift clears assignees past the shift-end window
// (J.b), weekday only.
func (s *Scheduler) runAutoUnassignAfterShift(ctx context.Context) {
	stats, err := s.deps.ShiftLife.AutoUnassignAfterShift(ctx)
	if err != nil {
		s.deps.Log.Error("auto_unassign_after_shift failed", "error", err)
		return
	}
	s.deps.Log.Info("auto_unassign_after_shift completed", "unassigned", stats.Unassigned, "errors", stats.Errors)
}

// runSyncStatus reconciles incidents against TicketSvc (H).
func (s *Scheduler) runSyncStatus(ctx context.Context) {
	stats, err := s.deps.Sync.Sync(ctx)
	if err != nil {
		s.deps.Log.Error("sync_status failed", "error", err)
		return
	}
	s.deps.Log.Info("sync_status completed", "checked", stats.TotalChecked, "closed", stats.Closed, "exceeded", stats.Exceeded, "reassigned", stats.Reassigned)
}

// runImportExistingTickets seeds local Incident rows for remote tickets
// that were created directly in TicketSvc, without going through the
// webhook ingestion path, so reconciliation and assignment can see them.
func (s *Scheduler) runImportExistingTickets(ctx context.Context) {
	groupID := s.deps.Configs.Get(configstore.KeySplynxSupportGroupID, SplynxGroupSoporteTecnico)
	unassigned, err := s.deps.Tickets.ListUnassigned(ctx, groupID)
	if err != nil {
		s.deps.Log.Error("import_existing_tickets: list unassigned failed", "error", err)
		return
	}
	assigned, err := s.deps.Tickets.ListAssigned(ctx, groupID)
	if err != nil {
		s.deps.Log.Error("import_existing_tickets: list assigned failed", "error", err)
		return
	}

	imported, skipped, errs := 0, 0, 0
	for _, t := range append(unassigned, assigned...) {
		if _, err := s.deps.Repo.GetIncidentByExternalID(t.ID); err == nil {
			skipped++
			continue
		}

		createdAt, _ := clock.ParseBusinessDate(t.CreatedAt)
		inc := &model.Incident{
			CustomerRef:      t.CustomerID,
			DisplayName:      t.CustomerID,
			Subject:          t.Subject,
			CreatedAtRaw:     t.CreatedAt,
			CreatedAt:        createdAt,
			ExternalTicketID: t.ID,
			StatusLabel:      t.StatusID,
			Priority:         model.PriorityMedium,
			IsCreatedRemote:  true,
			IsClosed:         t.IsClosed(),
			LastUpdate:       s.deps.Clock.Now(),
		}

		outcome, err := s.deps.Repo.CreateIncident(inc)
		switch {
		case err != nil:
			errs++
			s.deps.Log.Error("import_existing_tickets: create incident failed", "external_ticket_id", t.ID, "error", err)
		case outcome == repository.Duplicate:
			skipped++
		default:
			imported++
		}
	}
	s.deps.Log.Info("import_existing_tickets completed", "imported", imported, "skipped", skipped, "errors", errs)
}

// runReopenChecker resolves incidents already waiting in the reopen
// window (H step 4 only), independent of the main sync pass.
func (s *Scheduler) runReopenChecker(ctx context.Context) {
	stats, err := s.deps.Reopen.Check(ctx)
	if err != nil {
		s.deps.Log.Error("reopen_checker failed", "error", err)
		return
	}
	s.deps.Log.Info("reopen_checker completed", "checked", stats.Checked, "reopened", stats.Reopened, "closed", stats.Closed)
}

// runResetAssignmentCounters resets every AssignmentCounter to zero when
// now matches a configured shift-change hour, minute <= 2.
func (s *Scheduler) runResetAssignmentCounters(ctx context.Context) {
	now := s.deps.Clock.Now()
	hours := configstore.AssignmentResetHours(s.deps.Configs)
	if !containsHour(hours, now.Hour()) || now.Minute() > 2 {
		return
	}
	if err := s.deps.Repo.ResetAllCounters(); err != nil {
		s.deps.Log.Error("reset_assignment_counters failed", "error", err)
		return
	}
	s.deps.Log.Info("reset_assignment_counters completed", "hour", now.Hour())
}

// Trigger* exports let the HTTP trigger endpoints (spec §6) invoke the
// same job bodies the cron loop runs, on demand rather than on schedule.
func (s *Scheduler) TriggerProcessWebhooks(ctx context.Context)          { s.runProcessWebhooks(ctx) }
func (s *Scheduler) TriggerAssignUnassigned(ctx context.Context)         { s.runAssignUnassigned(ctx) }
func (s *Scheduler) TriggerAlertOverdue(ctx context.Context)             { s.runAlertOverdue(ctx) }
func (s *Scheduler) TriggerEndOfShiftNotifications(ctx context.Context)  { s.runEndOfShiftNotifications(ctx) }
func (s *Scheduler) TriggerAutoUnassignAfterShift(ctx context.Context)   { s.runAutoUnassignAfterShift(ctx) }
func (s *Scheduler) TriggerSyncStatus(ctx context.Context)               { s.runSyncStatus(ctx) }
func (s *Scheduler) TriggerImportExistingTickets(ctx context.Context)    { s.runImportExistingTickets(ctx) }

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}
