// Package configstore implements the process-local typed configuration
// cache described in spec §4.A, grounded on the original's
// ConfigHelper static-cache reader (config_helper.py). Keys are read from
// the Repository Layer's config_entries table; any mutation via Set
// invalidates the full cache, matching the original's coarse
// clear_cache() behavior rather than a per-key invalidation scheme.
package configstore

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

// Store is the typed configuration accessor every component depends on.
type Store interface {
	Get(key, def string) string
	GetInt(key string, def int) int
	GetBool(key string, def bool) bool
	Set(key, value string, valueType model.ConfigValueType, category, updatedBy string) error
	ClearCache()
}

// cacheStore is the production Store, backed by the Repository Layer.
type cacheStore struct {
	repo repository.Repository

	mu    sync.RWMutex
	cache map[string]string
}

// New builds a ConfigStore over repo.
func New(repo repository.Repository) Store {
	return &cacheStore{repo: repo, cache: make(map[string]string)}
}

// Get returns the string value for key, falling back to def when the key
// is absent or the repository read fails (spec §4.A: "a process-local
// mapping caches previously read values").
func (s *cacheStore) Get(key, def string) string {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()

	entry, err := s.repo.GetConfig(key)
	if err != nil {
		return def
	}

	s.mu.Lock()
	s.cache[key] = entry.Value
	s.mu.Unlock()

	return entry.Value
}

// GetInt parses the cached value as an integer, returning def on any
// parse failure or absence (matches config_helper.py's get_int).
func (s *cacheStore) GetInt(key string, def int) int {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

// GetBool parses the cached value as a boolean using the original's
// truthy-string convention ("true", "1", "yes", "on", case-insensitive).
func (s *cacheStore) GetBool(key string, def bool) bool {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

// Set persists a new value and invalidates the entire process-local
// cache, so the next Get/GetInt/GetBool re-reads from storage.
func (s *cacheStore) Set(key, value string, valueType model.ConfigValueType, category, updatedBy string) error {
	err := s.repo.SetConfig(model.ConfigEntry{
		Key:       key,
		Value:     value,
		ValueType: valueType,
		Category:  category,
		UpdatedBy: updatedBy,
	})
	if err != nil {
		return err
	}
	s.ClearCache()
	return nil
}

// ClearCache drops every cached key.
func (s *cacheStore) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Known configuration keys enumerated in spec §4.A. Defaults are not held
// here; each caller passes its own default to Get/GetInt/GetBool.
const (
	KeyTicketAlertThresholdMinutes     = "TICKET_ALERT_THRESHOLD_MINUTES"
	KeyTicketUpdateThresholdMinutes    = "TICKET_UPDATE_THRESHOLD_MINUTES"
	KeyTicketRenotificationIntervalMin = "TICKET_RENOTIFICATION_INTERVAL_MINUTES"
	KeyEndOfShiftNotificationMinutes   = "END_OF_SHIFT_NOTIFICATION_MINUTES"
	KeyOuthouseNoAlertMinutes          = "OUTHOUSE_NO_ALERT_MINUTES"
	KeyTicketPreAlertMinutes           = "TICKET_PRE_ALERT_MINUTES"
	KeyTicketReopenWindowMinutes       = "TICKET_REOPEN_WINDOW_MINUTES"
	KeyFindeHoraInicio                 = "FINDE_HORA_INICIO"
	KeyFindeHoraFin                    = "FINDE_HORA_FIN"
	KeySemanaHoraInicio                = "SEMANA_HORA_INICIO"
	KeySemanaHoraFin                   = "SEMANA_HORA_FIN"
	KeyAssignmentResetHours            = "ASSIGNMENT_RESET_HOURS"
	KeyPersonaGuardiaFinde             = "PERSONA_GUARDIA_FINDE"
	KeyWebhookMotivoPermitido          = "WEBHOOK_MOTIVO_PERMITIDO"
	KeyWhatsAppEnabled                 = "WHATSAPP_ENABLED"
	KeySystemPaused                    = "SYSTEM_PAUSED"
	KeySplynxSupportGroupID            = "SPLYNX_SUPPORT_GROUP_ID"
	KeyOuthouseStatusID                = "OUTHOUSE_STATUS_ID"
)

// AssignmentResetHours parses the CSV-of-integers ASSIGNMENT_RESET_HOURS
// key (default "8,16"), matching scheduler.py's reset_hours_str parsing.
func AssignmentResetHours(s Store) []int {
	raw := s.Get(KeyAssignmentResetHours, "8,16")
	var hours []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if h, err := strconv.Atoi(part); err == nil {
			hours = append(hours, h)
		}
	}
	if len(hours) == 0 {
		return []int{8, 16}
	}
	return hours
}
