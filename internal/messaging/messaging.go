// Package messaging implements the WhatsApp notification gateway (spec
// §4.D), grounded on evolution_api.py (EvolutionAPIService, the raw HTTP
// client to the WhatsApp gateway) and whatsapp_service.py (WhatsAppService,
// the operator-lookup and message-composition layer). Message templating
// is intentionally minimal string composition, matching spec §2's
// Non-goal "no message templating DSL".
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/httpkit"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

// TicketSummary is the minimal shape a notification needs about a ticket,
// decoupling this package from internal/model's full Incident.
type TicketSummary struct {
	TicketID       string
	Subject        string
	CustomerName   string
	Status         string
	Priority       string
	CreatedAt      string
	MinutesElapsed int
}

// Client is the WhatsApp notification contract every worker depends on.
type Client interface {
	SendText(ctx context.Context, phone, message string) error
	OverdueGroup(ctx context.Context, personID int64, tickets []TicketSummary) error
	PreAlertGroup(ctx context.Context, personID int64, tickets []TicketSummary, minutesRemaining int) error
	EndOfShiftSummary(ctx context.Context, personID int64, tickets []TicketSummary, shiftEndTime string) error
	SingleAssignment(ctx context.Context, personID int64, ticket TicketSummary) error
	Reassignment(ctx context.Context, fromPersonID, toPersonID int64, ticket TicketSummary) error
	RemovedFromOperator(ctx context.Context, personID int64, ticket TicketSummary) error
	Reopened(ctx context.Context, personID int64, ticket TicketSummary) error
	// ValidateOperatorConfig reports whether an operator has the phone
	// number and display name required to receive notifications
	// (supplements validate_operator_config/get_all_operators_config).
	ValidateOperatorConfig(personID int64) OperatorConfigStatus
	ValidateAllOperatorConfigs() ([]OperatorConfigStatus, error)
}

// OperatorConfigStatus mirrors validate_operator_config's diagnostic shape.
type OperatorConfigStatus struct {
	PersonID    int64
	HasPhone    bool
	HasName     bool
	PhoneNumber string
	Name        string
	IsValid     bool
}

// gatewayClient is the production Client, composing the raw Evolution
// API transport with operator lookups from the Repository Layer.
type gatewayClient struct {
	baseURL      string
	apiKey       string
	instanceName string
	httpc        *http.Client
	repo         repository.Repository
}

// New builds a messaging Client. baseURL, apiKey and instanceName
// correspond to EVOLUTION_API_BASE_URL/EVOLUTION_API_KEY/
// EVOLUTION_INSTANCE_NAME (spec §6).
func New(baseURL, apiKey, instanceName string, repo repository.Repository) Client {
	return &gatewayClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		instanceName: instanceName,
		httpc:        httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		repo:         repo,
	}
}

// SendText posts to /message/sendText/{instance} (evolution_api.py
// send_text_message).
func (c *gatewayClient) SendText(ctx context.Context, phone, message string) error {
	body, _ := json.Marshal(map[string]string{"number": phone, "text": message})

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: send to %s: %w", phone, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("messaging: gateway returned status %d for %s", resp.StatusCode, phone)
	}
	return nil
}

func (c *gatewayClient) operatorPhone(personID int64) (string, error) {
	op, err := c.repo.GetOperator(personID)
	if err != nil {
		return "", err
	}
	return op.WhatsAppNumber, nil
}

func (c *gatewayClient) operatorName(personID int64) string {
	op, err := c.repo.GetOperator(personID)
	if err != nil || op.Name == "" {
		return "operador"
	}
	return op.Name
}

func (c *gatewayClient) sendToOperator(ctx context.Context, personID int64, message string) error {
	phone, err := c.operatorPhone(personID)
	if err != nil {
		return fmt.Errorf("messaging: resolve operator %d: %w", personID, err)
	}
	if phone == "" {
		return fmt.Errorf("messaging: operator %d has no whatsapp number configured", personID)
	}
	return c.SendText(ctx, phone, message)
}

func truncateSubject(s string) string {
	if len(s) > 50 {
		return s[:47] + "..."
	}
	return s
}

func pluralize(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}

// OverdueGroup sends a grouped overdue-tickets alert (evolution_api.py
// send_multiple_tickets_alert, spec §4.I anti-spam grouping).
func (c *gatewayClient) OverdueGroup(ctx context.Context, personID int64, tickets []TicketSummary) error {
	if len(tickets) == 0 {
		return nil
	}
	name := c.operatorName(personID)

	var b strings.Builder
	fmt.Fprintf(&b, "ALERTA DE TICKETS VENCIDOS\n\nHola %s,\n\nTienes %d ticket%s con más de 60 minutos sin respuesta:\n\n",
		name, len(tickets), pluralize(len(tickets)))
	for i, t := range tickets {
		fmt.Fprintf(&b, "%d. Ticket #%s\n   %s\n   %s\n   %d min\n\n",
			i+1, t.TicketID, t.CustomerName, truncateSubject(t.Subject), t.MinutesElapsed)
	}
	b.WriteString("Por favor, revisa y actualiza estos tickets lo antes posible.")

	return c.sendToOperator(ctx, personID, b.String())
}

// PreAlertGroup sends a pre-alert before tickets become overdue
// (evolution_api.py send_pre_alert_tickets).
func (c *gatewayClient) PreAlertGroup(ctx context.Context, personID int64, tickets []TicketSummary, minutesRemaining int) error {
	if len(tickets) == 0 {
		return nil
	}
	name := c.operatorName(personID)

	var b strings.Builder
	fmt.Fprintf(&b, "PRE-ALERTA DE TICKETS\n\nHola %s,\n\nTienes %d ticket%s que vencerán en ~%d minutos:\n\n",
		name, len(tickets), pluralize(len(tickets)), minutesRemaining)
	for i, t := range tickets {
		fmt.Fprintf(&b, "%d. Ticket #%s\n   %s\n   %s\n   %d min sin actualizar\n\n",
			i+1, t.TicketID, t.CustomerName, truncateSubject(t.Subject), t.MinutesElapsed)
	}
	b.WriteString("Actualiza estos tickets para evitar que se marquen como vencidos.")

	return c.sendToOperator(ctx, personID, b.String())
}

// EndOfShiftSummary sends the end-of-shift pending-tickets digest
// (evolution_api.py send_end_of_shift_summary).
func (c *gatewayClient) EndOfShiftSummary(ctx context.Context, personID int64, tickets []TicketSummary, shiftEndTime string) error {
	name := c.operatorName(personID)

	if len(tickets) == 0 {
		message := fmt.Sprintf(
			"RESUMEN DE FIN DE TURNO\n\nHola %s,\n\nTu turno termina a las %s.\n\nNo tienes tickets pendientes asignados.\n\nQue tengas un buen descanso.",
			name, shiftEndTime)
		return c.sendToOperator(ctx, personID, message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RESUMEN DE FIN DE TURNO\n\nHola %s,\n\nTu turno termina a las %s (en 1 hora).\n\nTienes %d ticket%s pendiente%s:\n\n",
		name, shiftEndTime, len(tickets), pluralize(len(tickets)), pluralize(len(tickets)))
	for i, t := range tickets {
		fmt.Fprintf(&b, "%d. Ticket #%s\n   %s\n   %s\n   Estado: %s\n\n",
			i+1, t.TicketID, t.CustomerName, truncateSubject(t.Subject), t.Status)
	}
	b.WriteString("Recuerda: actualizar el estado de los tickets, transferir los que no puedas completar y dejar notas para el siguiente turno.")

	return c.sendToOperator(ctx, personID, b.String())
}

func priorityEmoji(priority string) string {
	switch strings.ToLower(priority) {
	case "low":
		return "[baja]"
	case "high":
		return "[alta]"
	case "urgent":
		return "[urgente]"
	default:
		return "[media]"
	}
}

// SingleAssignment notifies an operator of a newly assigned ticket
// (whatsapp_service.py send_ticket_assignment_notification).
func (c *gatewayClient) SingleAssignment(ctx context.Context, personID int64, ticket TicketSummary) error {
	name := c.operatorName(personID)
	message := fmt.Sprintf(
		"NUEVO TICKET ASIGNADO\n\nHola %s,\n\nSe te ha asignado un nuevo ticket:\n\n%s Ticket #%s\nCliente: %s\nAsunto: %s\nPrioridad: %s\n\nPor favor, revisa y atiende este ticket lo antes posible.\n\nSistema de Tickets Splynx",
		name, priorityEmoji(ticket.Priority), ticket.TicketID, ticket.CustomerName, ticket.Subject, ticket.Priority)
	return c.sendToOperator(ctx, personID, message)
}

// Reassignment notifies the new assignee that a ticket moved to them
// (supplements the original, which only notified the new assignee via
// send_ticket_assignment_notification; this adds the "from" context).
func (c *gatewayClient) Reassignment(ctx context.Context, fromPersonID, toPersonID int64, ticket TicketSummary) error {
	name := c.operatorName(toPersonID)
	fromName := c.operatorName(fromPersonID)
	message := fmt.Sprintf(
		"TICKET REASIGNADO\n\nHola %s,\n\nSe te ha reasignado un ticket que estaba asignado a %s:\n\n%s Ticket #%s\nCliente: %s\nAsunto: %s\nPrioridad: %s\n\nPor favor, revisa y atiende este ticket lo antes posible.\n\nSistema de Tickets Splynx",
		name, fromName, priorityEmoji(ticket.Priority), ticket.TicketID, ticket.CustomerName, ticket.Subject, ticket.Priority)
	return c.sendToOperator(ctx, toPersonID, message)
}

// RemovedFromOperator notifies the previous assignee that a ticket was
// reassigned to another operator (sent by the sync worker when it detects
// a reassignment made in TicketSvc).
func (c *gatewayClient) RemovedFromOperator(ctx context.Context, personID int64, ticket TicketSummary) error {
	name := c.operatorName(personID)
	message := fmt.Sprintf(
		"Hola %s,\n\nEl ticket #%s (%s) fue reasignado a otro operador.",
		name, ticket.TicketID, truncateSubject(ticket.Subject))
	return c.sendToOperator(ctx, personID, message)
}

// Reopened notifies an operator that a closed ticket reopened
// (ticket_reopen_checker.py's reassignment path, spec §4.H).
func (c *gatewayClient) Reopened(ctx context.Context, personID int64, ticket TicketSummary) error {
	name := c.operatorName(personID)
	message := fmt.Sprintf(
		"Hola %s,\n\nEl ticket #%s (%s) fue reabierto por el cliente y se te ha asignado nuevamente.",
		name, ticket.TicketID, truncateSubject(ticket.Subject))
	return c.sendToOperator(ctx, personID, message)
}

func (c *gatewayClient) ValidateOperatorConfig(personID int64) OperatorConfigStatus {
	op, err := c.repo.GetOperator(personID)
	if err != nil {
		return OperatorConfigStatus{PersonID: personID}
	}
	return OperatorConfigStatus{
		PersonID:    personID,
		HasPhone:    op.WhatsAppNumber != "",
		HasName:     op.Name != "",
		PhoneNumber: op.WhatsAppNumber,
		Name:        op.Name,
		IsValid:     op.WhatsAppNumber != "" && op.Name != "",
	}
}

func (c *gatewayClient) ValidateAllOperatorConfigs() ([]OperatorConfigStatus, error) {
	ops, err := c.repo.ListOperators()
	if err != nil {
		return nil, fmt.Errorf("messaging: list operators: %w", err)
	}
	statuses := make([]OperatorConfigStatus, 0, len(ops))
	for _, op := range ops {
		statuses = append(statuses, c.ValidateOperatorConfig(op.PersonID))
	}
	return statuses, nil
}
