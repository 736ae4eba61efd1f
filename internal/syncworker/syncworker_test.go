package syncworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time             { return f.now }
func (f *fakeClock) IsWeekend(t time.Time) bool { return false }
func (f *fakeClock) InWorkingHours(t time.Time) bool { return true }
func (f *fakeClock) ScheduleContains(schedules []model.OperatorSchedule, personID int64, t time.Time, kind model.ScheduleType) bool {
	return false
}

type fakeTickets struct {
	ticketsvc.Client
	byID       map[string]*ticketsvc.Ticket
	reopened   []string
}

func (f *fakeTickets) GetTicket(ctx context.Context, id string) (*ticketsvc.Ticket, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, &ticketsvc.RemoteError{Kind: ticketsvc.ErrNotFound}
	}
	return t, nil
}

func (f *fakeTickets) ReopenTicket(ctx context.Context, ticketID string) error {
	f.reopened = append(f.reopened, ticketID)
	return nil
}

type fakeMessages struct {
	messaging.Client
}

func (f *fakeMessages) SingleAssignment(ctx context.Context, personID int64, t messaging.TicketSummary) error {
	return nil
}
func (f *fakeMessages) Reassignment(ctx context.Context, from, to int64, t messaging.TicketSummary) error {
	return nil
}
func (f *fakeMessages) RemovedFromOperator(ctx context.Context, personID int64, t messaging.TicketSummary) error {
	return nil
}
func (f *fakeMessages) Reopened(ctx context.Context, personID int64, t messaging.TicketSummary) error {
	return nil
}

type fakeRepo struct {
	repository.Repository
	incidents []model.Incident
	updated   map[int64]model.Incident
	history   []model.ReassignmentHistory
	closure   *model.WebhookRecord
}

func (f *fakeRepo) ListOpenIncidentsWithExternalID() ([]model.Incident, error) { return f.incidents, nil }
func (f *fakeRepo) ListOpenIncidentsInReopenWindow() ([]model.Incident, error) { return f.incidents, nil }

func (f *fakeRepo) UpdateIncident(inc *model.Incident) error {
	if f.updated == nil {
		f.updated = map[int64]model.Incident{}
	}
	f.updated[inc.ID] = *inc
	return nil
}

func (f *fakeRepo) GetOperator(personID int64) (*model.OperatorConfig, error) {
	return &model.OperatorConfig{PersonID: personID, Name: "Op", IsActive: true, NotificationsEnabled: true}, nil
}

func (f *fakeRepo) CreateReassignmentHistory(h *model.ReassignmentHistory) error {
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeRepo) FindWebhookByTicketNumber(kind model.WebhookKind, ticketNumber string) (*model.WebhookRecord, error) {
	return f.closure, nil
}

type fakeConfigs struct {
	configstore.Store
	values map[string]string
}

func (f *fakeConfigs) Get(key, def string) string {
	if v, ok := f.values[key]; ok {
		return v
	}
	return def
}

func (f *fakeConfigs) GetInt(key string, def int) int {
	if key == configstore.KeyTicketReopenWindowMinutes {
		return 7
	}
	if key == configstore.KeyTicketAlertThresholdMinutes {
		return 60
	}
	return def
}

func (f *fakeConfigs) GetBool(key string, def bool) bool {
	if v, ok := f.values[key]; ok {
		return v == "true"
	}
	return def
}

func TestSync_DetectsReassignmentAndAppendsHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assignee := int64(5)
	repo := &fakeRepo{incidents: []model.Incident{
		{ID: 1, ExternalTicketID: "100", AssignedTo: &assignee, CreatedAtRaw: "2026-03-01 10:00:00"},
	}}
	tickets := &fakeTickets{byID: map[string]*ticketsvc.Ticket{
		"100": ticketFromJSON(t, `{"id":"100","closed":"0","assign_to":"9"}`),
	}}

	w := New(repo, tickets, &fakeMessages{}, &fakeConfigs{values: map[string]string{configstore.KeyWhatsAppEnabled: "true"}}, &fakeClock{now: now}, nil)

	stats, err := w.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Reassigned != 1 {
		t.Fatalf("expected 1 reassignment, got %+v", stats)
	}
	if len(repo.history) != 1 || repo.history[0].Type != model.ReassignTypeSplynxSync {
		t.Fatalf("expected one splynx_sync history row, got %+v", repo.history)
	}
}

func TestSync_MonotonicExceededThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	repo := &fakeRepo{incidents: []model.Incident{
		{ID: 1, ExternalTicketID: "100", CreatedAtRaw: "2026-03-01 10:00:00", ExceededThreshold: true},
	}}
	tickets := &fakeTickets{byID: map[string]*ticketsvc.Ticket{
		"100": {ID: "100", Closed: "0", UpdatedAt: "2026-03-01 12:58:00"},
	}}

	w := New(repo, tickets, &fakeMessages{}, &fakeConfigs{values: map[string]string{}}, &fakeClock{now: now}, nil)

	stats, err := w.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !repo.updated[1].ExceededThreshold {
		t.Fatal("expected exceeded_threshold to remain true (monotonic)")
	}
	if stats.Exceeded != 1 {
		t.Fatalf("expected 1 exceeded, got %+v", stats)
	}
}

func TestSync_ClosureStartsReopenWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	repo := &fakeRepo{incidents: []model.Incident{
		{ID: 1, ExternalTicketID: "100", CreatedAtRaw: "2026-03-01 10:00:00"},
	}}
	tickets := &fakeTickets{byID: map[string]*ticketsvc.Ticket{
		"100": {ID: "100", Closed: "1", StatusID: "3", UpdatedAt: "2026-03-01 13:55:00"},
	}}

	w := New(repo, tickets, &fakeMessages{}, &fakeConfigs{values: map[string]string{}}, &fakeClock{now: now}, nil)

	_, err := w.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	updated := repo.updated[1]
	if updated.IsClosed {
		t.Fatal("expected incident to stay open while waiting in the reopen window")
	}
	if updated.RemoteClosedAt == nil {
		t.Fatal("expected remote_closed_at to be set, starting the reopen window")
	}
}

func TestSync_ClosesImmediatelyWhenClosureWebhookExists(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		incidents: []model.Incident{
			{ID: 1, ExternalTicketID: "100", CreatedAtRaw: "2026-03-01 10:00:00", TicketNumber: "T1"},
		},
		closure: &model.WebhookRecord{ID: 9, TicketNumber: "T1"},
	}
	tickets := &fakeTickets{byID: map[string]*ticketsvc.Ticket{
		"100": {ID: "100", Closed: "1", StatusID: "3", UpdatedAt: "2026-03-01 13:55:00"},
	}}

	w := New(repo, tickets, &fakeMessages{}, &fakeConfigs{values: map[string]string{}}, &fakeClock{now: now}, nil)

	_, err := w.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	updated := repo.updated[1]
	if !updated.IsClosed {
		t.Fatal("expected incident closed immediately when a closure webhook matches")
	}
	if updated.StatusLabel != "SUCCESS" {
		t.Fatalf("expected SUCCESS status for status_id=3, got %q", updated.StatusLabel)
	}
}

func TestReopenChecker_CloseNormallyComputesResolutionTime(t *testing.T) {
	closedAt := time.Date(2026, 3, 1, 10, 8, 0, 0, time.UTC)
	remoteClosedAt := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	now := remoteClosedAt.Add(10 * time.Minute)
	repo := &fakeRepo{
		incidents: []model.Incident{
			{
				ID: 1, ExternalTicketID: "100", TicketNumber: "T1",
				CreatedAtRaw: "2026-03-01 10:00:00", RemoteClosedAt: &remoteClosedAt,
			},
		},
		closure: &model.WebhookRecord{ID: 9, TicketNumber: "T1"},
	}
	tickets := &fakeTickets{byID: map[string]*ticketsvc.Ticket{
		"100": {ID: "100", Closed: "1", StatusID: "3", UpdatedAt: closedAt.Format("2006-01-02 15:04:05")},
	}}

	c := NewReopenChecker(repo, tickets, &fakeMessages{}, &fakeConfigs{values: map[string]string{}}, &fakeClock{now: now}, nil)

	stats, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if stats.Closed != 1 {
		t.Fatalf("expected 1 closed, got %+v", stats)
	}
	updated := repo.updated[1]
	if !updated.IsClosed {
		t.Fatal("expected incident closed")
	}
	if updated.ResolutionTimeMinutes == nil || *updated.ResolutionTimeMinutes != 8 {
		t.Fatalf("expected resolution_time_minutes=8, got %+v", updated.ResolutionTimeMinutes)
	}
	if updated.StatusLabel != "SUCCESS" {
		t.Fatalf("expected status_label refreshed to SUCCESS from status_id=3, got %q", updated.StatusLabel)
	}
}

func ticketFromJSON(t *testing.T, raw string) *ticketsvc.Ticket {
	t.Helper()
	var tk ticketsvc.Ticket
	if err := json.Unmarshal([]byte(raw), &tk); err != nil {
		t.Fatalf("unmarshal test ticket: %v", err)
	}
	return &tk
}
