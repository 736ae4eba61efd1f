// Package shiftlifecycle implements the ShiftLifecycleWorker (spec
// §4.J): end-of-shift ticket summaries and auto-unassignment once an
// operator's shift has ended. Grounded on ticket_manager.py's
// send_end_of_shift_notifications, generalized from its hardcoded
// OPERATOR_SCHEDULES dict to OperatorSchedule rows of type "work".
package shiftlifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

// overnightStart/overnightEnd mark the shift pattern excluded from
// end-of-shift summaries (spec §4.J).
const (
	overnightStart = 0   // 00:00
	overnightEnd   = 480 // 08:00
)

// Stats summarizes one pass of either action.
type Stats struct {
	Notified  int
	Unassigned int
	Errors    int
}

// Worker runs the two independent weekday-only shift-lifecycle actions.
type Worker struct {
	repo     repository.Repository
	tickets  ticketsvc.Client
	messages messaging.Client
	configs  configstore.Store
	clock    clock.Clock
	log      *slog.Logger
}

// New builds a Worker.
func New(repo repository.Repository, tickets ticketsvc.Client, messages messaging.Client, configs configstore.Store, clk clock.Clock, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{repo: repo, tickets: tickets, messages: messages, configs: configs, clock: clk, log: log}
}

// EndOfShiftSummaries sends a remaining-tickets summary to every operator
// whose shift ends in END_OF_SHIFT_NOTIFICATION_MINUTES, weekday-only
// (spec §4.J.a).
func (w *Worker) EndOfShiftSummaries(ctx context.Context) (Stats, error) {
	var stats Stats
	now := w.clock.Now()
	if w.clock.IsWeekend(now) {
		return stats, nil
	}

	schedules, err := w.repo.ListSchedules()
	if err != nil {
		return stats, fmt.Errorf("shiftlifecycle: list schedules: %w", err)
	}
	notifyBefore := w.configs.GetInt(configstore.KeyEndOfShiftNotificationMinutes, 60)
	today := mondayIndex(now.Weekday())
	currentMinutes := now.Hour()*60 + now.Minute()

	for _, sched := range schedules {
		if sched.ScheduleType != model.ScheduleTypeWork || sched.DayOfWeek != today {
			continue
		}
		if sched.StartMinute == overnightStart && sched.EndMinute == overnightEnd {
			continue
		}
		if !sched.Contains(currentMinutes) {
			continue
		}
		notifyAt := sched.EndMinute - notifyBefore
		if abs(currentMinutes-notifyAt) > 2 {
			continue
		}

		// Shift summaries are gated on NotificationsEnabled alone, not
		// IsPaused (spec §3 OperatorConfig invariant parenthetical).
		if op, err := w.repo.GetOperator(sched.PersonID); err == nil && !op.NotificationsEnabled {
			w.log.Debug("end-of-shift: notifications disabled, skipping", "person_id", sched.PersonID)
			continue
		}

		groupID := w.configs.Get(configstore.KeySplynxSupportGroupID, "")
		remote, err := w.tickets.ListAssigned(ctx, groupID)
		if err != nil {
			w.log.Error("end-of-shift: list assigned failed", "person_id", sched.PersonID, "error", err)
			stats.Errors++
			continue
		}
		var summaries []messaging.TicketSummary
		for _, rt := range remote {
			if rt.AssignTo() != itoa(sched.PersonID) {
				continue
			}
			summaries = append(summaries, messaging.TicketSummary{
				TicketID: rt.ID,
				Subject:  rt.Subject,
				Status:   rt.StatusID,
			})
		}

		shiftEnd := fmt.Sprintf("%02d:%02d", sched.EndMinute/60, sched.EndMinute%60)
		if err := w.messages.EndOfShiftSummary(ctx, sched.PersonID, summaries, shiftEnd); err != nil {
			w.log.Error("end-of-shift: send summary failed", "person_id", sched.PersonID, "error", err)
			stats.Errors++
			continue
		}
		stats.Notified++
	}
	return stats, nil
}

// AutoUnassignAfterShift clears the assignee on every open incident whose
// work schedule ended 60-90 minutes ago, weekday-only (spec §4.J.b).
func (w *Worker) AutoUnassignAfterShift(ctx context.Context) (Stats, error) {
	var stats Stats
	now := w.clock.Now()
	if w.clock.IsWeekend(now) {
		return stats, nil
	}

	incidents, err := w.repo.ListOpenIncidentsWithExternalID()
	if err != nil {
		return stats, fmt.Errorf("shiftlifecycle: list open incidents: %w", err)
	}
	schedules, err := w.repo.ListSchedules()
	if err != nil {
		return stats, fmt.Errorf("shiftlifecycle: list schedules: %w", err)
	}
	today := mondayIndex(now.Weekday())
	currentMinutes := now.Hour()*60 + now.Minute()

	for i := range incidents {
		inc := &incidents[i]
		if inc.AssignedTo == nil {
			continue
		}
		personID := *inc.AssignedTo

		var matched *model.OperatorSchedule
		for j := range schedules {
			s := schedules[j]
			if s.PersonID != personID || s.ScheduleType != model.ScheduleTypeWork || s.DayOfWeek != today {
				continue
			}
			minutesSinceEnd := currentMinutes - s.EndMinute
			if minutesSinceEnd >= 60 && minutesSinceEnd <= 90 {
				matched = &s
				break
			}
		}
		if matched == nil {
			continue
		}

		if err := w.tickets.UpdateAssignment(ctx, inc.ExternalTicketID, 0); err != nil {
			w.log.Error("auto-unassign: update assignment failed", "ticket_id", inc.ExternalTicketID, "error", err)
			stats.Errors++
			continue
		}

		shiftEnd := fmt.Sprintf("%02d:%02d", matched.EndMinute/60, matched.EndMinute%60)
		from := personID
		inc.AssignedTo = nil
		if err := w.repo.UpdateIncident(inc); err != nil {
			w.log.Error("auto-unassign: update incident failed", "incident_id", inc.ID, "error", err)
			stats.Errors++
			continue
		}
		if err := w.repo.CreateReassignmentHistory(&model.ReassignmentHistory{
			TicketID:       inc.ExternalTicketID,
			FromOperatorID: &from,
			Type:           model.ReassignTypeAutoUnassignAfterShift,
			Reason:         fmt.Sprintf("auto_unassign_after_shift_end_%s", shiftEnd),
			CreatedAt:      now,
			CreatedBy:      "shiftlifecycle",
		}); err != nil {
			w.log.Error("auto-unassign: write history failed", "incident_id", inc.ID, "error", err)
		}
		stats.Unassigned++
	}
	return stats, nil
}

func mondayIndex(wd time.Weekday) int {
	if wd == time.Sunday {
		return 6
	}
	return int(wd) - 1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func itoa(n int64) string {
	return fmt.Sprintf("%d", n)
}
