// Package escalation implements the EscalationWorker (spec §4.I), the
// grouped-alert successor to ticket_manager.py's
// check_and_alert_overdue_tickets. Tickets assigned in TicketSvc are
// bucketed per operator and sent as a single grouped WhatsApp message
// instead of one message per ticket, with the same anti-spam and
// "OutHouse" suppression rules the original enforced inline.
package escalation

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

// Stats summarizes one pass of either the overdue or pre-alert sweep.
type Stats struct {
	Checked   int
	Overdue   int
	Suppressed int
	Alerted   int
	Errors    int
}

// Worker groups overdue assigned tickets per operator and sends alerts
// (spec §4.I).
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

// candidate is one remote ticket paired with its derived timing and the
// local incident row it should update on send.
type candidate struct {
	ticket           ticketsvc.Ticket
	incident         *model.Incident
	minutesSinceCreation int
	minutesSinceUpdate   int
	assignee         int64
}

// CheckOverdue runs the grouped overdue-alert pass (spec §4.I steps 1-5).
func (w *Worker) CheckOverdue(ctx context.Context) (Stats, error) {
	var stats Stats
	threshold := w.configs.GetInt(configstore.KeyTicketAlertThresholdMinutes, 60)

	buckets, err := w.collect(ctx, &stats, func(minutesSinceCreation int) bool {
		return minutesSinceCreation >= threshold
	})
	if err != nil {
		return stats, err
	}

	for personID, items := range buckets {
		summaries := make([]messaging.TicketSummary, 0, len(items))
		for _, c := range items {
			summaries = append(summaries, ticketSummary(c))
		}
		if err := w.messages.OverdueGroup(ctx, personID, summaries); err != nil {
			w.log.Error("send overdue group failed", "person_id", personID, "error", err)
			stats.Errors++
			continue
		}
		stats.Alerted += len(items)
		now := w.clock.Now()
		for _, c := range items {
			c.incident.LastAlertSentAt = &now
			c.incident.AlertCount++
			if c.incident.FirstAlertSentAt == nil {
				c.incident.FirstAlertSentAt = &now
			}
			if err := w.repo.UpdateIncident(c.incident); err != nil {
				w.log.Error("update incident after overdue alert failed", "incident_id", c.incident.ID, "error", err)
			}
		}
	}
	return stats, nil
}

// CheckPreAlert runs the independent pre-alert pass (spec §4.I step 6).
func (w *Worker) CheckPreAlert(ctx context.Context) (Stats, error) {
	var stats Stats
	threshold := w.configs.GetInt(configstore.KeyTicketAlertThresholdMinutes, 60)
	preAlertMinutes := w.configs.GetInt(configstore.KeyTicketPreAlertMinutes, 15)
	lowerBound := threshold - preAlertMinutes

	buckets, err := w.collect(ctx, &stats, func(minutesSinceCreation int) bool {
		return minutesSinceCreation >= lowerBound && minutesSinceCreation < threshold
	})
	if err != nil {
		return stats, err
	}

	for personID, items := range buckets {
		// Pre-alert idempotency is per-incident (pre_alert_sent_at), not
		// per-bucket, so filter already-notified incidents before sending.
		var pending []candidate
		for _, c := range items {
			if c.incident.PreAlertSentAt == nil {
				pending = append(pending, c)
			}
		}
		if len(pending) == 0 {
			continue
		}
		summaries := make([]messaging.TicketSummary, 0, len(pending))
		for _, c := range pending {
			summaries = append(summaries, ticketSummary(c))
		}
		minutesRemaining := threshold - pending[0].minutesSinceCreation
		if err := w.messages.PreAlertGroup(ctx, personID, summaries, minutesRemaining); err != nil {
			w.log.Error("send pre-alert group failed", "person_id", personID, "error", err)
			stats.Errors++
			continue
		}
		stats.Alerted += len(pending)
		now := w.clock.Now()
		for _, c := range pending {
			c.incident.PreAlertSentAt = &now
			if err := w.repo.UpdateIncident(c.incident); err != nil {
				w.log.Error("update incident after pre-alert failed", "incident_id", c.incident.ID, "error", err)
			}
		}
	}
	return stats, nil
}

// collect fetches list_assigned, applies the suppression rules common to
// both passes, and groups the remaining candidates whose
// minutes_since_creation satisfies windowMatch, keyed by operator.
func (w *Worker) collect(ctx context.Context, stats *Stats, windowMatch func(minutesSinceCreation int) bool) (map[int64][]candidate, error) {
	groupID := w.configs.Get(configstore.KeySplynxSupportGroupID, "")
	remoteTickets, err := w.tickets.ListAssigned(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("escalation: list assigned: %w", err)
	}
	stats.Checked = len(remoteTickets)

	whatsappOn := w.configs.GetBool(configstore.KeyWhatsAppEnabled, false)
	outhouseStatusID := w.configs.Get(configstore.KeyOuthouseStatusID, "6")
	outhouseNoAlert := w.configs.GetInt(configstore.KeyOuthouseNoAlertMinutes, 120)
	updateThreshold := w.configs.GetInt(configstore.KeyTicketUpdateThresholdMinutes, 60)
	renotifyInterval := w.configs.GetInt(configstore.KeyTicketRenotificationIntervalMin, 60)
	now := w.clock.Now()

	buckets := make(map[int64][]candidate)
	for _, rt := range remoteTickets {
		createdAt, ok := clock.ParseBusinessDate(rt.CreatedAt)
		if !ok {
			stats.Errors++
			continue
		}
		updatedAt, ok := clock.ParseBusinessDate(rt.UpdatedAt)
		if !ok {
			updatedAt = createdAt
		}
		updatedAt = clock.NowOrFuture(now, updatedAt)

		minutesSinceCreation := int(updatedAt.Sub(createdAt).Minutes())
		minutesSinceUpdate := int(now.Sub(updatedAt).Minutes())

		if !windowMatch(minutesSinceCreation) {
			continue
		}
		stats.Overdue++

		if rt.StatusID == outhouseStatusID && minutesSinceUpdate < outhouseNoAlert {
			stats.Suppressed++
			continue
		}
		if minutesSinceUpdate < updateThreshold {
			stats.Suppressed++
			continue
		}

		assignStr := rt.AssignTo()
		if assignStr == "" || assignStr == "0" {
			continue
		}
		assignee, err := strconv.ParseInt(assignStr, 10, 64)
		if err != nil || assignee == 0 {
			continue
		}

		if !whatsappOn {
			stats.Suppressed++
			continue
		}
		op, err := w.repo.GetOperator(assignee)
		if err != nil || !op.ReceivesAlerts() {
			stats.Suppressed++
			continue
		}

		inc, err := w.repo.GetIncidentByExternalID(rt.ID)
		if err != nil {
			inc, err = w.createMinimalIncident(rt, createdAt, assignee, now)
			if err != nil {
				w.log.Error("escalation: create minimal incident failed", "ticket_id", rt.ID, "error", err)
				stats.Errors++
				continue
			}
		}

		if inc.LastAlertSentAt != nil && now.Sub(*inc.LastAlertSentAt).Minutes() < float64(renotifyInterval) {
			stats.Suppressed++
			continue
		}

		buckets[assignee] = append(buckets[assignee], candidate{
			ticket:               rt,
			incident:             inc,
			minutesSinceCreation: minutesSinceCreation,
			minutesSinceUpdate:   minutesSinceUpdate,
			assignee:             assignee,
		})
	}
	return buckets, nil
}

// createMinimalIncident backfills an Incident row for a remote ticket that
// was assigned directly in TicketSvc and has not yet been seen by
// import_existing_tickets, so it can still be tracked for SLA purposes
// (spec §4.I step 4).
func (w *Worker) createMinimalIncident(rt ticketsvc.Ticket, createdAt time.Time, assignee int64, now time.Time) (*model.Incident, error) {
	inc := &model.Incident{
		CustomerRef:      rt.CustomerID,
		DisplayName:      rt.CustomerID,
		Subject:          rt.Subject,
		CreatedAtRaw:     rt.CreatedAt,
		CreatedAt:        createdAt,
		ExternalTicketID: rt.ID,
		StatusLabel:      rt.StatusID,
		Priority:         model.PriorityMedium,
		IsCreatedRemote:  true,
		IsClosed:         rt.IsClosed(),
		AssignedTo:       &assignee,
		LastUpdate:       now,
	}
	if _, err := w.repo.CreateIncident(inc); err != nil {
		return nil, err
	}
	return w.repo.GetIncidentByExternalID(rt.ID)
}

func ticketSummary(c candidate) messaging.TicketSummary {
	return messaging.TicketSummary{
		TicketID:       c.ticket.ID,
		Subject:        c.ticket.Subject,
		Status:         c.ticket.StatusID,
		CreatedAt:      c.ticket.CreatedAt,
		MinutesElapsed: c.minutesSinceCreation,
	}
}
