// Package ingestion implements the WebhookIngester (spec §4.F), grounded
// on hooks_routes.py (the raw nuevo-ticket/cierre-ticket endpoints that
// persist payloads verbatim) and webhook_processor.py (the materialization
// pass that turns pending new-ticket webhooks into Incident rows).
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/assignment"
	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

// Stats summarizes one materialization run, mirroring
// webhook_processor.py's return dict.
type Stats struct {
	Processed  int
	Duplicates int
	Filtered   int
	Errors     int
}

// MaterializeStats summarizes one pass of the remote-ticket creation step
// (spec §4.F's second materialization pass).
type MaterializeStats struct {
	Checked int
	Created int
	Errors  int
}

// Ingester persists raw webhook payloads and materializes pending
// new-ticket webhooks into Incident rows (spec §4.F).
type Ingester struct {
	repo       repository.Repository
	configs    configstore.Store
	assignment *assignment.Engine
	tickets    ticketsvc.Client
	messages   messaging.Client
	clock      clock.Clock
	log        *slog.Logger
}

// New builds an Ingester. assignEngine/tickets/messages/clk may be nil in
// contexts that only exercise the Filter/Project/Insert pass (ProcessPending);
// MaterializeRemoteTickets requires all four.
func New(repo repository.Repository, configs configstore.Store, assignEngine *assignment.Engine, tickets ticketsvc.Client, messages messaging.Client, clk clock.Clock, log *slog.Logger) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{repo: repo, configs: configs, assignment: assignEngine, tickets: tickets, messages: messages, clock: clk, log: log}
}

// RecordNewTicket persists a "new" webhook payload verbatim, matching
// hooks_routes.py's POST /api/hooks/nuevo-ticket.
func (ig *Ingester) RecordNewTicket(rec *model.WebhookRecord) error {
	rec.Kind = model.WebhookKindNew
	rec.ReceivedAt = time.Now()
	if err := ig.repo.CreateWebhookRecord(rec); err != nil {
		return fmt.Errorf("ingestion: record new-ticket webhook: %w", err)
	}
	return nil
}

// RecordClosure persists a "close" webhook payload verbatim, matching
// hooks_routes.py's POST /api/hooks/cierre-ticket.
func (ig *Ingester) RecordClosure(rec *model.WebhookRecord) error {
	rec.Kind = model.WebhookKindClose
	rec.ReceivedAt = time.Now()
	if err := ig.repo.CreateWebhookRecord(rec); err != nil {
		return fmt.Errorf("ingestion: record closure webhook: %w", err)
	}
	return nil
}

// RecordSplynxEvent persists a raw Splynx ticket-update event, matching
// splynx_webhooks.py's POST /api/hooks/splynx/ticket-update.
func (ig *Ingester) RecordSplynxEvent(rec *model.WebhookRecord) error {
	rec.Kind = model.WebhookKindSplynx
	rec.ReceivedAt = time.Now()
	if err := ig.repo.CreateWebhookRecord(rec); err != nil {
		return fmt.Errorf("ingestion: record splynx event webhook: %w", err)
	}
	return nil
}

// ProcessPending walks unprocessed "new" WebhookRecords oldest-first and
// materializes each into an Incident, per spec §4.F steps 1-3
// (Filter/Project/Insert). It is invoked periodically by the Scheduler's
// process_webhooks job.
func (ig *Ingester) ProcessPending(ctx context.Context) (Stats, error) {
	var stats Stats

	pending, err := ig.repo.ListUnprocessedWebhooks(model.WebhookKindNew, 500)
	if err != nil {
		return stats, fmt.Errorf("ingestion: list unprocessed webhooks: %w", err)
	}
	if len(pending) == 0 {
		ig.log.Debug("no pending webhooks to process")
		return stats, nil
	}

	allowedReason := strings.ToLower(strings.TrimSpace(ig.configs.Get(configstore.KeyWebhookMotivoPermitido, "")))

	for _, hook := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		reason := strings.ToLower(strings.TrimSpace(hook.ContactReason))
		if allowedReason != "" && reason != allowedReason {
			stats.Filtered++
			if err := ig.repo.MarkWebhookProcessed(hook.ID, time.Now()); err != nil {
				ig.log.Error("mark filtered webhook processed", "webhook_id", hook.ID, "error", err)
			}
			continue
		}

		inc := projectIncident(hook)

		outcome, err := ig.repo.CreateIncident(inc)
		switch {
		case err != nil:
			stats.Errors++
			ig.log.Error("create incident from webhook", "webhook_id", hook.ID, "error", err)
		case outcome == repository.Duplicate:
			stats.Duplicates++
			ig.log.Info("webhook duplicate", "webhook_id", hook.ID, "created_at_raw", hook.CreatedAtRaw)
		default:
			stats.Processed++
			ig.log.Info("webhook processed", "webhook_id", hook.ID, "incident_id", inc.ID)
		}

		if err := ig.repo.MarkWebhookProcessed(hook.ID, time.Now()); err != nil {
			ig.log.Error("mark webhook processed", "webhook_id", hook.ID, "error", err)
		}
	}

	ig.log.Info("webhook processing complete",
		"processed", stats.Processed, "duplicates", stats.Duplicates,
		"filtered", stats.Filtered, "errors", stats.Errors)

	return stats, nil
}

// MaterializeRemoteTickets implements spec §4.F's second materialization
// pass: every Incident not yet mirrored into TicketSvc (is_created_remote
// = false) gets an assignee resolved via AssignmentEngine, a mirrored
// ticket created remotely, and its external_ticket_id/is_created_remote
// written back, with a ReassignmentHistory row and a single_assignment
// notification on success.
func (ig *Ingester) MaterializeRemoteTickets(ctx context.Context) (MaterializeStats, error) {
	var stats MaterializeStats

	incidents, err := ig.repo.ListUnmirroredIncidents(0)
	if err != nil {
		return stats, fmt.Errorf("ingestion: list unmirrored incidents: %w", err)
	}
	stats.Checked = len(incidents)
	if len(incidents) == 0 {
		return stats, nil
	}

	groupID := ig.configs.Get(configstore.KeySplynxSupportGroupID, "4")
	now := ig.clock.Now()

	for i := range incidents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		inc := &incidents[i]

		personID, err := ig.assignment.GetNextAssignee(now, inc.Subject)
		if err != nil {
			stats.Errors++
			ig.log.Error("materialize: no assignee available", "incident_id", inc.ID, "error", err)
			continue
		}

		created, err := ig.tickets.CreateTicket(ctx, ticketsvc.CreateTicketInput{
			CustomerID: inc.CustomerRef,
			Subject:    inc.Subject,
			Note:       inc.Subject,
			CreatedAt:  inc.CreatedAtRaw,
			Priority:   string(inc.Priority),
			GroupID:    groupID,
			AssignTo:   personID,
		})
		if err != nil {
			stats.Errors++
			ig.log.Error("materialize: create remote ticket failed", "incident_id", inc.ID, "error", err)
			continue
		}

		inc.ExternalTicketID = created.ID
		inc.IsCreatedRemote = true
		inc.AssignedTo = &personID
		if err := ig.repo.UpdateIncident(inc); err != nil {
			ig.log.Error("materialize: update incident failed", "incident_id", inc.ID, "error", err)
		}

		if err := ig.assignment.Commit(personID, now); err != nil {
			ig.log.Error("materialize: commit assignment counter failed", "person_id", personID, "error", err)
		}

		notified := false
		if err := ig.messages.SingleAssignment(ctx, personID, messaging.TicketSummary{
			TicketID:     inc.ExternalTicketID,
			Subject:      inc.Subject,
			CustomerName: inc.DisplayName,
			Status:       inc.StatusLabel,
			Priority:     string(inc.Priority),
			CreatedAt:    inc.CreatedAtRaw,
		}); err != nil {
			ig.log.Warn("materialize: single-assignment notification failed", "incident_id", inc.ID, "error", err)
		} else {
			notified = true
		}

		if err := ig.repo.CreateReassignmentHistory(&model.ReassignmentHistory{
			TicketID:         inc.ExternalTicketID,
			ToOperatorID:     &personID,
			Reason:           "Asignación automática al crear ticket en Splynx",
			Type:             model.ReassignTypeAutoAssignment,
			CreatedAt:        now,
			CreatedBy:        "system",
			NotificationSent: notified,
		}); err != nil {
			ig.log.Error("materialize: write history failed", "incident_id", inc.ID, "error", err)
		}

		stats.Created++
	}

	ig.log.Info("remote ticket materialization complete", "checked", stats.Checked, "created", stats.Created, "errors", stats.Errors)
	return stats, nil
}

// projectIncident builds the Incident row for a "new" webhook (spec §4.F
// step 2).
func projectIncident(hook model.WebhookRecord) *model.Incident {
	displayName := firstNonEmpty(hook.UserName, hook.Company, "Cliente")
	subject := firstNonEmpty(hook.ContactReason, "Sin motivo")

	createdAt, _ := clock.ParseBusinessDate(hook.CreatedAtRaw)

	return &model.Incident{
		CustomerRef:     hook.CustomerRef,
		DisplayName:     displayName,
		Subject:         subject,
		CreatedAtRaw:    hook.CreatedAtRaw,
		CreatedAt:       createdAt,
		StatusLabel:     "PENDING",
		Priority:        model.PriorityMedium,
		IsCreatedRemote: false,
		TicketNumber:    hook.TicketNumber,
		LastUpdate:      hook.ReceivedAt,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
