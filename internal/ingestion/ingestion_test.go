package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/assignment"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

type fakeRepo struct {
	repository.Repository
	pending     []model.WebhookRecord
	marked      map[int64]bool
	created     []*model.Incident
	dupAtRaw    map[string]bool
	nextIncID   int64
	unmirrored  []model.Incident
	updated     map[int64]model.Incident
	history     []model.ReassignmentHistory
	operators   []model.OperatorConfig
	counters    map[int64]int
}

func (f *fakeRepo) ListUnmirroredIncidents(limit int) ([]model.Incident, error) {
	return f.unmirrored, nil
}

func (f *fakeRepo) UpdateIncident(inc *model.Incident) error {
	if f.updated == nil {
		f.updated = map[int64]model.Incident{}
	}
	f.updated[inc.ID] = *inc
	return nil
}

func (f *fakeRepo) CreateReassignmentHistory(h *model.ReassignmentHistory) error {
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeRepo) ListOperators() ([]model.OperatorConfig, error) { return f.operators, nil }

func (f *fakeRepo) ListCounters() ([]model.AssignmentCounter, error) {
	out := make([]model.AssignmentCounter, 0, len(f.counters))
	for id, n := range f.counters {
		out = append(out, model.AssignmentCounter{PersonID: id, TicketCount: n})
	}
	return out, nil
}

func (f *fakeRepo) ListSchedules() ([]model.OperatorSchedule, error) { return nil, nil }

func (f *fakeRepo) IncrementCounter(personID int64, at time.Time) error {
	if f.counters == nil {
		f.counters = map[int64]int{}
	}
	f.counters[personID]++
	return nil
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time                  { return f.now }
func (f *fakeClock) IsWeekend(t time.Time) bool       { return false }
func (f *fakeClock) InWorkingHours(t time.Time) bool  { return true }
func (f *fakeClock) ScheduleContains(schedules []model.OperatorSchedule, personID int64, t time.Time, kind model.ScheduleType) bool {
	return false
}

type fakeTickets struct {
	ticketsvc.Client
	createdTickets []ticketsvc.CreateTicketInput
	nextID         int
}

func (f *fakeTickets) CreateTicket(ctx context.Context, in ticketsvc.CreateTicketInput) (*ticketsvc.Ticket, error) {
	f.createdTickets = append(f.createdTickets, in)
	f.nextID++
	return &ticketsvc.Ticket{ID: "remote-" + string(rune('0'+f.nextID)), StatusID: "1"}, nil
}

type fakeMessages struct {
	messaging.Client
	singleSent map[int64]messaging.TicketSummary
}

func (f *fakeMessages) SingleAssignment(ctx context.Context, personID int64, t messaging.TicketSummary) error {
	if f.singleSent == nil {
		f.singleSent = map[int64]messaging.TicketSummary{}
	}
	f.singleSent[personID] = t
	return nil
}

func (f *fakeRepo) ListUnprocessedWebhooks(kind model.WebhookKind, limit int) ([]model.WebhookRecord, error) {
	return f.pending, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id int64, at time.Time) error {
	if f.marked == nil {
		f.marked = map[int64]bool{}
	}
	f.marked[id] = true
	return nil
}

func (f *fakeRepo) CreateIncident(inc *model.Incident) (repository.IncidentOutcome, error) {
	if f.dupAtRaw[inc.CreatedAtRaw] {
		return repository.Duplicate, nil
	}
	f.nextIncID++
	inc.ID = f.nextIncID
	f.created = append(f.created, inc)
	return repository.Created, nil
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

func TestProcessPending_FiltersByAllowedReason(t *testing.T) {
	repo := &fakeRepo{
		dupAtRaw: map[string]bool{},
		pending: []model.WebhookRecord{
			{ID: 1, ContactReason: "General Soporte", CustomerRef: "42", UserName: "Ada", CreatedAtRaw: "01-03-2026 10:00:00"},
			{ID: 2, ContactReason: "Spam", CustomerRef: "43", UserName: "Bob", CreatedAtRaw: "01-03-2026 10:05:00"},
		},
	}
	configs := &fakeConfigs{values: map[string]string{configstore.KeyWebhookMotivoPermitido: "General Soporte"}}

	ig := New(repo, configs, nil, nil, nil, nil, nil)
	stats, err := ig.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 1 || stats.Filtered != 1 {
		t.Fatalf("expected 1 processed, 1 filtered, got %+v", stats)
	}
	if len(repo.marked) != 2 {
		t.Fatalf("expected both webhooks marked processed, got %d", len(repo.marked))
	}
	if repo.created[0].DisplayName != "Ada" || repo.created[0].Subject != "General Soporte" {
		t.Fatalf("unexpected projected incident: %+v", repo.created[0])
	}
}

func TestProcessPending_DuplicateStillMarksProcessed(t *testing.T) {
	repo := &fakeRepo{
		dupAtRaw: map[string]bool{"01-03-2026 10:00:00": true},
		pending: []model.WebhookRecord{
			{ID: 1, ContactReason: "General Soporte", CustomerRef: "42", CreatedAtRaw: "01-03-2026 10:00:00"},
		},
	}
	configs := &fakeConfigs{values: map[string]string{configstore.KeyWebhookMotivoPermitido: "General Soporte"}}

	ig := New(repo, configs, nil, nil, nil, nil, nil)
	stats, err := ig.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %+v", stats)
	}
	if !repo.marked[1] {
		t.Fatal("expected webhook marked processed despite duplicate")
	}
}

func TestProcessPending_NoAllowedReasonConfiguredAllowsAll(t *testing.T) {
	repo := &fakeRepo{
		dupAtRaw: map[string]bool{},
		pending: []model.WebhookRecord{
			{ID: 1, ContactReason: "Anything", CustomerRef: "1", CreatedAtRaw: "01-03-2026 10:00:00"},
		},
	}
	configs := &fakeConfigs{values: map[string]string{}}

	ig := New(repo, configs, nil, nil, nil, nil, nil)
	stats, err := ig.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 1 {
		t.Fatalf("expected 1 processed when no filter is configured, got %+v", stats)
	}
}

func TestMaterializeRemoteTickets_CreatesAssignsAndRecordsHistory(t *testing.T) {
	repo := &fakeRepo{
		unmirrored: []model.Incident{
			{ID: 1, CustomerRef: "C-1", Subject: "Sin internet", CreatedAtRaw: "01-03-2026 10:00:00", Priority: model.PriorityMedium},
		},
		operators: []model.OperatorConfig{{PersonID: 7, IsActive: true}},
		counters:  map[int64]int{7: 0},
	}
	configs := &fakeConfigs{values: map[string]string{configstore.KeySplynxSupportGroupID: "4"}}
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)}
	assignEngine := assignment.New(repo, configs, clk, nil)
	tickets := &fakeTickets{}
	messages := &fakeMessages{}

	ig := New(repo, configs, assignEngine, tickets, messages, clk, nil)
	stats, err := ig.MaterializeRemoteTickets(context.Background())
	if err != nil {
		t.Fatalf("MaterializeRemoteTickets: %v", err)
	}
	if stats.Created != 1 {
		t.Fatalf("expected 1 ticket created, got %+v", stats)
	}
	if len(tickets.createdTickets) != 1 || tickets.createdTickets[0].AssignTo != 7 {
		t.Fatalf("expected remote ticket created and assigned to operator 7, got %+v", tickets.createdTickets)
	}
	updated := repo.updated[1]
	if !updated.IsCreatedRemote || updated.ExternalTicketID == "" {
		t.Fatalf("expected incident marked mirrored with an external id, got %+v", updated)
	}
	if updated.AssignedTo == nil || *updated.AssignedTo != 7 {
		t.Fatalf("expected incident assigned to 7, got %+v", updated.AssignedTo)
	}
	if len(repo.history) != 1 || repo.history[0].Type != model.ReassignTypeAutoAssignment {
		t.Fatalf("expected one auto_assignment history row, got %+v", repo.history)
	}
	if _, ok := messages.singleSent[7]; !ok {
		t.Fatal("expected a single_assignment notification sent to operator 7")
	}
	if repo.counters[7] != 1 {
		t.Fatalf("expected assignment counter committed once, got %d", repo.counters[7])
	}
}
