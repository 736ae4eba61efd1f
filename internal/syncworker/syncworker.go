// Package syncworker implements the SyncWorker reconciliation and SLA
// state machine (spec §4.H), grounded on sync_tickets_status.py (remote
// state fetch, reassignment detection, SLA bookkeeping) and
// ticket_reopen_checker.py (the reopen-window pass, run here as
// ReopenChecker using the same closure logic at higher frequency).
package syncworker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

// Stats summarizes one Sync pass, mirroring sync_tickets_status.py's
// return dict.
type Stats struct {
	TotalChecked int
	Closed       int
	Exceeded     int
	Reassigned   int
}

// ReopenStats summarizes one ReopenChecker pass.
type ReopenStats struct {
	Checked  int
	Reopened int
	Closed   int
}

// Worker reconciles local Incident state against TicketSvc (spec §4.H).
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

// Sync reconciles every open Incident with a non-null external_ticket_id
// (spec §4.H steps 1-6).
func (w *Worker) Sync(ctx context.Context) (Stats, error) {
	var stats Stats

	incidents, err := w.repo.ListOpenIncidentsWithExternalID()
	if err != nil {
		return stats, fmt.Errorf("syncworker: list open incidents: %w", err)
	}
	stats.TotalChecked = len(incidents)

	threshold := w.configs.GetInt(configstore.KeyTicketAlertThresholdMinutes, 60)
	reopenWindow := time.Duration(w.configs.GetInt(configstore.KeyTicketReopenWindowMinutes, 7)) * time.Minute
	now := w.clock.Now()

	for i := range incidents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		inc := &incidents[i]

		remote, err := w.tickets.GetTicket(ctx, inc.ExternalTicketID)
		if err != nil {
			w.log.Warn("syncworker: fetch remote ticket failed", "incident_id", inc.ID, "external_id", inc.ExternalTicketID, "error", err)
			continue
		}

		if w.syncReassignment(ctx, inc, remote) {
			stats.Reassigned++
		}

		w.applySLA(inc, remote, now, threshold, &stats)

		if remote.IsClosed() {
			w.handleRemoteClosed(ctx, inc, remote, now, reopenWindow, &stats)
		} else if inc.RemoteClosedAt != nil {
			// 6. Reopened-in-remote bookkeeping: remote no longer closed.
			inc.RemoteClosedAt = nil
		}

		if err := w.repo.UpdateIncident(inc); err != nil {
			w.log.Error("syncworker: update incident", "incident_id", inc.ID, "error", err)
		}
	}

	w.log.Info("sync pass complete",
		"total_checked", stats.TotalChecked, "closed", stats.Closed,
		"exceeded", stats.Exceeded, "reassigned", stats.Reassigned)

	return stats, nil
}

// syncReassignment detects a remote assignment change and records it,
// per spec §4.H step 2.
func (w *Worker) syncReassignment(ctx context.Context, inc *model.Incident, remote *ticketsvc.Ticket) bool {
	assignStr := remote.AssignTo()
	if assignStr == "" || assignStr == "0" {
		return false
	}

	newAssignee, err := strconv.ParseInt(assignStr, 10, 64)
	if err != nil {
		return false
	}

	if inc.AssignedTo != nil && *inc.AssignedTo == newAssignee {
		return false
	}

	previous := inc.AssignedTo
	wasAssigned := previous != nil
	fromName := "Sin asignar"
	var fromID *int64
	if previous != nil {
		fromID = previous
		if op, err := w.repo.GetOperator(*previous); err == nil {
			fromName = op.Name
		}
	}

	toName := fmt.Sprintf("Operador %d", newAssignee)
	if op, err := w.repo.GetOperator(newAssignee); err == nil {
		toName = op.Name
	}

	notified := false
	if op, err := w.repo.GetOperator(newAssignee); err == nil && op.Eligible() && w.whatsappEnabled() {
		var sendErr error
		if wasAssigned {
			sendErr = w.messages.Reassignment(ctx, *previous, newAssignee, ticketSummary(inc))
		} else {
			sendErr = w.messages.SingleAssignment(ctx, newAssignee, ticketSummary(inc))
		}
		if sendErr != nil {
			w.log.Warn("syncworker: assignment notification failed", "incident_id", inc.ID, "error", sendErr)
		} else {
			notified = true
		}
		if wasAssigned {
			if err := w.messages.RemovedFromOperator(ctx, *previous, ticketSummary(inc)); err != nil {
				w.log.Warn("syncworker: removed-from-operator notification failed", "incident_id", inc.ID, "error", err)
			}
		}
	}

	inc.AssignedTo = &newAssignee

	if err := w.repo.CreateReassignmentHistory(&model.ReassignmentHistory{
		TicketID:         inc.ExternalTicketID,
		FromOperatorID:   fromID,
		FromOperatorName: fromName,
		ToOperatorID:     &newAssignee,
		ToOperatorName:   toName,
		Reason:           "Cambio detectado en Splynx durante sincronización",
		Type:             model.ReassignTypeSplynxSync,
		CreatedAt:        w.clock.Now(),
		CreatedBy:        "system",
		NotificationSent: notified,
	}); err != nil {
		w.log.Error("syncworker: record reassignment history", "incident_id", inc.ID, "error", err)
	}

	return true
}

// applySLA parses the remote last-update and applies the monotonic
// exceeded_threshold rule, per spec §4.H step 3.
func (w *Worker) applySLA(inc *model.Incident, remote *ticketsvc.Ticket, now time.Time, threshold int, stats *Stats) {
	lastUpdate, ok := clock.ParseBusinessDate(remote.UpdatedAt)
	if !ok {
		lastUpdate, ok = clock.ParseBusinessDate(inc.CreatedAtRaw)
	}
	if ok {
		lastUpdate = clock.NowOrFuture(now, lastUpdate)
		inc.LastUpdate = lastUpdate

		minutesSinceUpdate := int(now.Sub(lastUpdate).Minutes())
		inc.ResponseTimeMinutes = &minutesSinceUpdate

		if !remote.IsClosed() {
			if inc.ExceededThreshold {
				stats.Exceeded++
			} else if minutesSinceUpdate > threshold {
				inc.ExceededThreshold = true
				stats.Exceeded++
			}
		}
	}
}

// handleRemoteClosed implements spec §4.H step 4 (reopen window) and
// step 5 (finalize closure).
func (w *Worker) handleRemoteClosed(ctx context.Context, inc *model.Incident, remote *ticketsvc.Ticket, now time.Time, reopenWindow time.Duration, stats *Stats) {
	closureRecord, _ := w.repo.FindWebhookByTicketNumber(model.WebhookKindClose, inc.TicketNumber)

	if closureRecord == nil {
		switch {
		case inc.RemoteClosedAt == nil:
			inc.RemoteClosedAt = &now
			return
		case now.Sub(*inc.RemoteClosedAt) < reopenWindow:
			return
		default:
			if err := w.tickets.ReopenTicket(ctx, inc.ExternalTicketID); err != nil {
				w.log.Error("syncworker: reopen ticket failed", "incident_id", inc.ID, "error", err)
				return
			}
			inc.Recreado++
			inc.RemoteClosedAt = nil
			if inc.AssignedTo != nil && w.whatsappEnabled() {
				if err := w.messages.Reopened(ctx, *inc.AssignedTo, ticketSummary(inc)); err != nil {
					w.log.Warn("syncworker: reopened notification failed", "incident_id", inc.ID, "error", err)
				}
			}
			return
		}
	}

	w.finalizeClosure(inc, remote, now, stats)
}

func (w *Worker) finalizeClosure(inc *model.Incident, remote *ticketsvc.Ticket, now time.Time, stats *Stats) {
	applyClosureFields(inc, remote, now)
	stats.Closed++
}

// applyClosureFields stamps the fields spec §4.H step 5 requires on every
// closure path: resolution_time_minutes and status_label must always be
// populated, whether reached from Sync's main pass or ReopenChecker.
func applyClosureFields(inc *model.Incident, remote *ticketsvc.Ticket, now time.Time) {
	closedAt, ok := clock.ParseBusinessDate(remote.UpdatedAt)
	if !ok {
		closedAt = now
	}

	inc.IsClosed = true
	inc.ClosedAt = &closedAt
	inc.RemoteClosedAt = nil

	if createdAt, ok := clock.ParseBusinessDate(inc.CreatedAtRaw); ok {
		minutes := int(closedAt.Sub(createdAt).Minutes())
		inc.ResolutionTimeMinutes = &minutes
	}

	if remote.StatusID == "3" {
		inc.StatusLabel = "SUCCESS"
	} else {
		inc.StatusLabel = "CLOSED"
	}
}

func (w *Worker) whatsappEnabled() bool {
	return w.configs.GetBool(configstore.KeyWhatsAppEnabled, false)
}

func ticketSummary(inc *model.Incident) messaging.TicketSummary {
	return messaging.TicketSummary{
		TicketID:     inc.ExternalTicketID,
		Subject:      inc.Subject,
		CustomerName: inc.DisplayName,
		Status:       inc.StatusLabel,
		Priority:     string(inc.Priority),
		CreatedAt:    inc.CreatedAtRaw,
	}
}

// ReopenChecker runs the higher-frequency pass over
// {remote_closed_at≠null ∧ is_closed=false}, identical in logic to Sync's
// step 4 but scoped to that set (spec §4.H, last paragraph).
type ReopenChecker struct {
	repo    repository.Repository
	tickets ticketsvc.Client
	messages messaging.Client
	configs configstore.Store
	clock   clock.Clock
	log     *slog.Logger
}

// NewReopenChecker builds a ReopenChecker.
func NewReopenChecker(repo repository.Repository, tickets ticketsvc.Client, messages messaging.Client, configs configstore.Store, clk clock.Clock, log *slog.Logger) *ReopenChecker {
	if log == nil {
		log = slog.Default()
	}
	return &ReopenChecker{repo: repo, tickets: tickets, messages: messages, configs: configs, clock: clk, log: log}
}

// Check processes every incident currently in the WAITING_TO_CLOSE state.
func (c *ReopenChecker) Check(ctx context.Context) (ReopenStats, error) {
	var stats ReopenStats

	windowMinutes := c.configs.GetInt(configstore.KeyTicketReopenWindowMinutes, 7)
	window := time.Duration(windowMinutes) * time.Minute

	incidents, err := c.repo.ListOpenIncidentsInReopenWindow()
	if err != nil {
		return stats, fmt.Errorf("syncworker: list reopen-window incidents: %w", err)
	}
	stats.Checked = len(incidents)
	if len(incidents) == 0 {
		c.log.Debug("no tickets in reopen window")
		return stats, nil
	}

	now := c.clock.Now()

	for i := range incidents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		inc := &incidents[i]
		if inc.RemoteClosedAt == nil {
			continue
		}
		if now.Sub(*inc.RemoteClosedAt) < window {
			continue
		}

		closureRecord, _ := c.repo.FindWebhookByTicketNumber(model.WebhookKindClose, inc.TicketNumber)
		if closureRecord != nil {
			remote, err := c.tickets.GetTicket(ctx, inc.ExternalTicketID)
			if err != nil {
				c.log.Warn("reopen checker: fetch remote ticket failed", "incident_id", inc.ID, "external_id", inc.ExternalTicketID, "error", err)
				inc.IsClosed = true
				inc.ClosedAt = &now
				inc.RemoteClosedAt = nil
				if inc.StatusLabel != "SUCCESS" && inc.StatusLabel != "CLOSED" {
					inc.StatusLabel = "CLOSED"
				}
			} else {
				applyClosureFields(inc, remote, now)
			}
			stats.Closed++
		} else {
			if err := c.tickets.ReopenTicket(ctx, inc.ExternalTicketID); err != nil {
				c.log.Error("reopen checker: reopen ticket failed", "incident_id", inc.ID, "error", err)
				continue
			}
			inc.Recreado++
			inc.RemoteClosedAt = nil
			stats.Reopened++

			if inc.AssignedTo != nil && c.configs.GetBool(configstore.KeyWhatsAppEnabled, false) {
				if err := c.messages.Reopened(ctx, *inc.AssignedTo, ticketSummary(inc)); err != nil {
					c.log.Warn("reopen checker: notification failed", "incident_id", inc.ID, "error", err)
				}
			}
		}

		if err := c.repo.UpdateIncident(inc); err != nil {
			c.log.Error("reopen checker: update incident", "incident_id", inc.ID, "error", err)
		}
	}

	c.log.Info("reopen checker complete", "checked", stats.Checked, "reopened", stats.Reopened, "closed", stats.Closed)
	return stats, nil
}
