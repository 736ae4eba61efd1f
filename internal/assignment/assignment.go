// Package assignment implements the AssignmentEngine (spec §4.G), the
// generalized, configuration-driven successor to ticket_manager.py's
// hardcoded ASSIGNABLE_PERSONS/get_next_assignee shift table. Candidate
// lists and shift windows now live in OperatorSchedule rows instead of
// literal person-id lists, but the precedence chain (weekend guard, tag
// override, schedule match, fallback) and the least-loaded tiebreak are
// kept from the original.
package assignment

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/model"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
)

// Tag markers recognized in a ticket note, matching the original's
// shift-hint convention embedded in free-text notes.
const (
	tagAfternoon = "[TT]"
	tagDay       = "[TD]"
)

// Engine resolves and commits ticket assignments (spec §4.G).
type Engine struct {
	repo    repository.Repository
	configs configstore.Store
	clock   clock.Clock
	log     *slog.Logger
}

// New builds an Engine.
func New(repo repository.Repository, configs configstore.Store, clk clock.Clock, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, configs: configs, clock: clk, log: log}
}

// GetNextAssignee resolves the next operator per spec §4.G's precedence
// chain, without mutating any counter.
func (e *Engine) GetNextAssignee(now time.Time, ticketNote string) (int64, error) {
	operators, err := e.repo.ListOperators()
	if err != nil {
		return 0, fmt.Errorf("assignment: list operators: %w", err)
	}
	counters, err := e.repo.ListCounters()
	if err != nil {
		return 0, fmt.Errorf("assignment: list counters: %w", err)
	}
	countByID := make(map[int64]int, len(counters))
	for _, c := range counters {
		countByID[c.PersonID] = c.TicketCount
	}
	byID := make(map[int64]model.OperatorConfig, len(operators))
	for _, op := range operators {
		byID[op.PersonID] = op
	}

	// 1. Weekend branch.
	if e.clock.IsWeekend(now) {
		guard := e.configs.GetInt(configstore.KeyPersonaGuardiaFinde, 0)
		start := e.configs.GetInt(configstore.KeyFindeHoraInicio, 9)
		end := e.configs.GetInt(configstore.KeyFindeHoraFin, 21)
		hour := now.Hour()
		if start <= hour && hour < end {
			return int64(guard), nil
		}
		e.log.Warn("weekend assignment outside FINDE hours", "person_id", guard, "hour", hour)
		return int64(guard), nil
	}

	// 2. Tag branch (weekday only). A matched tag is its own precedence
	// rule: if its candidate set has nobody eligible, go straight to the
	// final fallback rather than cascading through the schedule/all-
	// operators branches, which could assign outside the tagged set.
	if candidates := e.tagCandidates(ticketNote); len(candidates) > 0 {
		if best, ok := leastLoaded(candidates, byID, countByID); ok {
			return best, nil
		}
		return e.firstConfiguredOperator(operators)
	}

	// 3. Schedule branch (weekday, no tag).
	schedules, err := e.repo.ListSchedules()
	if err != nil {
		return 0, fmt.Errorf("assignment: list schedules: %w", err)
	}
	onSchedule := make([]int64, 0, len(operators))
	for _, op := range operators {
		if e.clock.ScheduleContains(schedules, op.PersonID, now, model.ScheduleTypeAssignment) {
			onSchedule = append(onSchedule, op.PersonID)
		}
	}
	if best, ok := leastLoaded(onSchedule, byID, countByID); ok {
		return best, nil
	}

	// 4. Fallback: all assignable operators.
	all := make([]int64, 0, len(operators))
	for _, op := range operators {
		all = append(all, op.PersonID)
	}
	if best, ok := leastLoaded(all, byID, countByID); ok {
		return best, nil
	}

	return e.firstConfiguredOperator(operators)
}

// firstConfiguredOperator is the final fallback of spec §4.G: when no
// eligible candidate exists anywhere, return the first configured person
// and log a warning.
func (e *Engine) firstConfiguredOperator(operators []model.OperatorConfig) (int64, error) {
	if len(operators) == 0 {
		return 0, fmt.Errorf("assignment: no operators configured")
	}
	e.log.Warn("no eligible operator found, falling back to first configured operator")
	sort.Slice(operators, func(i, j int) bool { return operators[i].PersonID < operators[j].PersonID })
	return operators[0].PersonID, nil
}

func (e *Engine) tagCandidates(ticketNote string) []int64 {
	upper := strings.ToUpper(ticketNote)
	var key string
	switch {
	case strings.Contains(upper, tagAfternoon):
		key = "afternoon_shift_operators"
	case strings.Contains(upper, tagDay):
		key = "day_shift_operators"
	default:
		return nil
	}
	raw := e.configs.Get(key, "")
	return parseIDList(raw)
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// leastLoaded returns the eligible candidate with the smallest counter,
// ties broken by smallest person_id (spec §4.G).
func leastLoaded(candidates []int64, byID map[int64]model.OperatorConfig, counts map[int64]int) (int64, bool) {
	var best int64
	var bestCount int
	found := false

	for _, id := range candidates {
		op, ok := byID[id]
		if !ok || !op.Eligible() {
			continue
		}
		count := counts[id]
		if !found || count < bestCount || (count == bestCount && id < best) {
			best, bestCount, found = id, count, true
		}
	}
	return best, found
}

// Commit increments personID's counter and stamps last_assigned. Failed
// commits leave the counter untouched, per spec §4.G.
func (e *Engine) Commit(personID int64, at time.Time) error {
	if err := e.repo.IncrementCounter(personID, at); err != nil {
		return fmt.Errorf("assignment: commit person %d: %w", personID, err)
	}
	return nil
}
