package configstore

import (
	"testing"

	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

// fakeRepo is a minimal in-memory Repository for ConfigStore unit tests.
type fakeRepo struct {
	repository.Repository
	configs map[string]model.ConfigEntry
	reads   int
}

func (f *fakeRepo) GetConfig(key string) (*model.ConfigEntry, error) {
	f.reads++
	e, ok := f.configs[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (f *fakeRepo) SetConfig(e model.ConfigEntry) error {
	f.configs[e.Key] = e
	return nil
}

func TestGet_CachesAfterFirstRead(t *testing.T) {
	repo := &fakeRepo{configs: map[string]model.ConfigEntry{
		"TICKET_ALERT_THRESHOLD_MINUTES": {Key: "TICKET_ALERT_THRESHOLD_MINUTES", Value: "90"},
	}}
	store := New(repo)

	if got := store.GetInt("TICKET_ALERT_THRESHOLD_MINUTES", 60); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
	if got := store.GetInt("TICKET_ALERT_THRESHOLD_MINUTES", 60); got != 90 {
		t.Fatalf("expected cached 90, got %d", got)
	}
	if repo.reads != 1 {
		t.Fatalf("expected exactly one repository read, got %d", repo.reads)
	}
}

func TestGet_MissingKeyReturnsDefault(t *testing.T) {
	repo := &fakeRepo{configs: map[string]model.ConfigEntry{}}
	store := New(repo)

	if got := store.GetInt("NOT_SET", 42); got != 42 {
		t.Fatalf("expected default 42, got %d", got)
	}
}

func TestSet_InvalidatesCache(t *testing.T) {
	repo := &fakeRepo{configs: map[string]model.ConfigEntry{
		"WHATSAPP_ENABLED": {Key: "WHATSAPP_ENABLED", Value: "true"},
	}}
	store := New(repo)

	if !store.GetBool("WHATSAPP_ENABLED", false) {
		t.Fatal("expected WHATSAPP_ENABLED true")
	}

	if err := store.Set("WHATSAPP_ENABLED", "false", model.ConfigTypeBool, "alerts", "admin"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if store.GetBool("WHATSAPP_ENABLED", true) {
		t.Fatal("expected WHATSAPP_ENABLED false after Set invalidated the cache")
	}
}

func TestAssignmentResetHours_ParsesCSV(t *testing.T) {
	repo := &fakeRepo{configs: map[string]model.ConfigEntry{
		"ASSIGNMENT_RESET_HOURS": {Key: "ASSIGNMENT_RESET_HOURS", Value: "8, 16"},
	}}
	store := New(repo)

	hours := AssignmentResetHours(store)
	if len(hours) != 2 || hours[0] != 8 || hours[1] != 16 {
		t.Fatalf("expected [8 16], got %v", hours)
	}
}

func TestAssignmentResetHours_DefaultsOnMissingKey(t *testing.T) {
	repo := &fakeRepo{configs: map[string]model.ConfigEntry{}}
	store := New(repo)

	hours := AssignmentResetHours(store)
	if len(hours) != 2 || hours[0] != 8 || hours[1] != 16 {
		t.Fatalf("expected default [8 16], got %v", hours)
	}
}
