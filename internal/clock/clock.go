// Package clock provides a fixed-timezone "now" and the shift-window
// arithmetic used by the assignment and scheduling components (spec §4.B).
// Every timestamp compared or stored by this service is normalized to
// America/Argentina/Buenos_Aires; naive and aware values are never mixed.
package clock

import (
	"fmt"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
)

// LocationName is the fixed timezone all business-hours arithmetic runs in.
const LocationName = "America/Argentina/Buenos_Aires"

// Clock provides the current time and shift-window queries. A fake
// implementation is used in tests to control "now" deterministically.
type Clock interface {
	Now() time.Time
	IsWeekend(t time.Time) bool
	InWorkingHours(t time.Time) bool
	ScheduleContains(schedules []model.OperatorSchedule, personID int64, t time.Time, kind model.ScheduleType) bool
}

// Real is the production Clock, backed by a ConfigStore for the
// configurable working-hours gates (spec §4.A/§4.B).
type Real struct {
	loc     *time.Location
	configs configstore.Store
}

// New builds a Real clock. configs supplies FINDE_HORA_INICIO/FIN and
// SEMANA_HORA_INICIO/FIN (spec §4.A).
func New(configs configstore.Store) (*Real, error) {
	loc, err := time.LoadLocation(LocationName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", LocationName, err)
	}
	return &Real{loc: loc, configs: configs}, nil
}

// Now returns the current time in the fixed timezone.
func (c *Real) Now() time.Time {
	return time.Now().In(c.loc)
}

// In converts t into the fixed timezone. The instant is preserved: a value
// that was parsed without a zone (which Go reads as UTC) is shifted by the
// zone offset, not reinterpreted as local wall-clock time.
func (c *Real) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func (c *Real) IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// InWorkingHours applies the weekday/weekend working-hours gate (spec
// §4.B, grounded on scheduler.py's FINDE_HORA_INICIO/FIN and
// SEMANA_HORA_INICIO/FIN checks).
func (c *Real) InWorkingHours(t time.Time) bool {
	hour := t.Hour()
	if c.IsWeekend(t) {
		start := c.configs.GetInt("FINDE_HORA_INICIO", 9)
		end := c.configs.GetInt("FINDE_HORA_FIN", 21)
		return start <= hour && hour < end
	}
	start := c.configs.GetInt("SEMANA_HORA_INICIO", 8)
	end := c.configs.GetInt("SEMANA_HORA_FIN", 23)
	return start <= hour && hour < end
}

// ScheduleContains reports whether t falls within a schedule row of the
// given type for personID (spec §4.B). Go's time.Weekday has Sunday=0;
// schedules are stored Monday=0..Sunday=6, so mondayIndex converts the
// weekday here once.
func (c *Real) ScheduleContains(schedules []model.OperatorSchedule, personID int64, t time.Time, kind model.ScheduleType) bool {
	dow := mondayIndex(t.Weekday())
	minuteOfDay := t.Hour()*60 + t.Minute()
	for _, s := range schedules {
		if s.PersonID != personID || s.ScheduleType != kind || s.DayOfWeek != dow {
			continue
		}
		if s.Contains(minuteOfDay) {
			return true
		}
	}
	return false
}

func mondayIndex(wd time.Weekday) int {
	if wd == time.Sunday {
		return 6
	}
	return int(wd) - 1
}

// ParseBusinessDate parses a timestamp that may arrive in either the
// TicketSvc wire format (YYYY-MM-DD HH:MM:SS) or the originating CRM's
// format (DD-MM-YYYY HH:MM:SS), per spec §9's time-handling design note.
// Unparseable values return the zero time and false; callers fall back to
// received_at/now as the spec directs.
func ParseBusinessDate(s string) (time.Time, bool) {
	s = trimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	if t, err := time.Parse("02-01-2006 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// NowOrFuture clamps t to now when t is in the future relative to now,
// per spec §9 Open Question (b): future remote timestamps are treated as
// "now" rather than propagated.
func NowOrFuture(now, t time.Time) time.Time {
	if t.After(now) {
		return now
	}
	return t
}
