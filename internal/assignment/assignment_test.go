package assignment

import (
	"testing"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

type fakeClock struct {
	weekend   bool
	schedules map[int64]bool
}

func (f *fakeClock) Now() time.Time             { return time.Now() }
func (f *fakeClock) IsWeekend(t time.Time) bool { return f.weekend }
func (f *fakeClock) InWorkingHours(t time.Time) bool { return true }
func (f *fakeClock) ScheduleContains(schedules []model.OperatorSchedule, personID int64, t time.Time, kind model.ScheduleType) bool {
	return f.schedules[personID]
}

type fakeRepo struct {
	repository.Repository
	operators []model.OperatorConfig
	counters  map[int64]int
	committed map[int64]int
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
	if f.committed == nil {
		f.committed = map[int64]int{}
	}
	f.committed[personID]++
	return nil
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
	if v, ok := f.values[key]; ok {
		var n int
		for _, c := range v {
			n = n*10 + int(c-'0')
		}
		return n
	}
	return def
}

func TestGetNextAssignee_WeekendReturnsGuardDirectly(t *testing.T) {
	repo := &fakeRepo{operators: []model.OperatorConfig{
		{PersonID: 10, IsActive: true},
	}, counters: map[int64]int{}}
	configs := &fakeConfigs{values: map[string]string{
		configstore.KeyPersonaGuardiaFinde: "10",
		configstore.KeyFindeHoraInicio:     "9",
		configstore.KeyFindeHoraFin:        "21",
	}}
	clk := &fakeClock{weekend: true}

	e := New(repo, configs, clk, nil)
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	got, err := e.GetNextAssignee(now, "")
	if err != nil {
		t.Fatalf("GetNextAssignee: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected person 10, got %d", got)
	}
}

func TestGetNextAssignee_TagBranchPicksLeastLoaded(t *testing.T) {
	repo := &fakeRepo{
		operators: []model.OperatorConfig{
			{PersonID: 1, IsActive: true},
			{PersonID: 2, IsActive: true},
		},
		counters: map[int64]int{1: 5, 2: 1},
	}
	configs := &fakeConfigs{values: map[string]string{
		"afternoon_shift_operators": "1,2",
	}}
	clk := &fakeClock{weekend: false}

	e := New(repo, configs, clk, nil)
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

	got, err := e.GetNextAssignee(now, "consulta [TT] urgente")
	if err != nil {
		t.Fatalf("GetNextAssignee: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected least-loaded person 2, got %d", got)
	}
}

func TestGetNextAssignee_ScheduleBranchFiltersIneligible(t *testing.T) {
	repo := &fakeRepo{
		operators: []model.OperatorConfig{
			{PersonID: 1, IsActive: true, IsPaused: true},
			{PersonID: 2, IsActive: true},
		},
		counters: map[int64]int{1: 0, 2: 3},
	}
	configs := &fakeConfigs{values: map[string]string{}}
	clk := &fakeClock{weekend: false, schedules: map[int64]bool{1: true, 2: true}}

	e := New(repo, configs, clk, nil)
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

	got, err := e.GetNextAssignee(now, "")
	if err != nil {
		t.Fatalf("GetNextAssignee: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected person 2 (1 is paused), got %d", got)
	}
}

func TestGetNextAssignee_TagBranchExhaustedSkipsScheduleAndFallback(t *testing.T) {
	repo := &fakeRepo{
		operators: []model.OperatorConfig{
			{PersonID: 1, IsActive: true, IsPaused: true}, // only tag candidate, paused
			{PersonID: 2, IsActive: true},                 // eligible, on schedule, not tagged
		},
		counters: map[int64]int{1: 0, 2: 0},
	}
	configs := &fakeConfigs{values: map[string]string{
		"afternoon_shift_operators": "1",
	}}
	clk := &fakeClock{weekend: false, schedules: map[int64]bool{2: true}}

	e := New(repo, configs, clk, nil)
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

	got, err := e.GetNextAssignee(now, "consulta [TT] urgente")
	if err != nil {
		t.Fatalf("GetNextAssignee: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected tag branch exhaustion to fall back to first configured person 1, got %d (should not cascade to on-schedule person 2)", got)
	}
}

func TestCommit_IncrementsCounter(t *testing.T) {
	repo := &fakeRepo{counters: map[int64]int{}}
	e := New(repo, &fakeConfigs{values: map[string]string{}}, &fakeClock{}, nil)

	if err := e.Commit(7, time.Now()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if repo.committed[7] != 1 {
		t.Fatalf("expected counter incremented once, got %d", repo.committed[7])
	}
}
