// Package api is the inbound HTTP surface (spec §6 "core surface only"):
// webhook ingestion, scheduler trigger endpoints, and pause administration.
// Routing and middleware follow go-chi/chi/v5, the way the pack's sync
// services wire their routers; grounded on hooks_routes.py and
// splynx_webhooks.py for the handler contracts themselves.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/rhernandezbas/splynx-tickets/internal/ingestion"
	"github.com/rhernandezbas/splynx-tickets/internal/pausestate"
	"github.com/rhernandezbas/splynx-tickets/internal/scheduler"
)

// writeJSON encodes v as the response body, logging (not failing) on a
// write error since the client may have already disconnected.
func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, code int, message string) {
	writeJSON(w, log, code, map[string]string{"error": message})
}

// Server is the HTTP API server (spec §6).
type Server struct {
	address   string
	port      int
	ingester  *ingestion.Ingester
	pause     *pausestate.Store
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
	log       *slog.Logger
	server    *http.Server
}

// New builds a Server. address/port control the bind socket; scheduler
// supplies the same job bodies the cron loop uses, which the trigger
// endpoints start in the background before returning.
func New(address string, port int, ing *ingestion.Ingester, pause *pausestate.Store, sched *scheduler.Scheduler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		ingester:  ing,
		pause:     pause,
		scheduler: sched,
		validate:  validator.New(),
		log:       log,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.log, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/hooks", func(r chi.Router) {
		r.Post("/nuevo-ticket", s.handleNuevoTicket)
		r.Post("/cierre-ticket", s.handleCierreTicket)
		r.Post("/splynx/ticket-update", s.handleSplynxTicketUpdate)
	})

	r.Route("/api/tickets", func(r chi.Router) {
		r.Post("/process_webhooks", s.trigger("process_webhooks", s.scheduler.TriggerProcessWebhooks))
		r.Post("/assign_unassigned", s.trigger("assign_unassigned", s.scheduler.TriggerAssignUnassigned))
		r.Post("/alert_overdue", s.trigger("alert_overdue", s.scheduler.TriggerAlertOverdue))
		r.Post("/end_of_shift_notifications", s.trigger("end_of_shift_notifications", s.scheduler.TriggerEndOfShiftNotifications))
		r.Post("/auto_unassign_after_shift", s.trigger("auto_unassign_after_shift", s.scheduler.TriggerAutoUnassignAfterShift))
		r.Post("/sync_status", s.trigger("sync_status", s.scheduler.TriggerSyncStatus))
		r.Post("/import_existing", s.trigger("import_existing", s.scheduler.TriggerImportExistingTickets))
	})

	r.Route("/api/system", func(r chi.Router) {
		r.Get("/status", s.handleSystemStatus)
		r.Post("/pause", s.handleSystemPause)
		r.Post("/resume", s.handleSystemResume)
	})

	return r
}

// Start begins serving HTTP requests. It blocks until Shutdown is called
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("starting API server", "address", s.address, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// trigger wraps a scheduler job-runner as a fire-and-forget endpoint
// (spec §6 "asynchronous; return 200 {success:true} immediately").
func (s *Server) trigger(name string, run func(ctx context.Context)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go run(context.Background())
		s.log.Info("trigger endpoint invoked", "job", name)
		writeJSON(w, s.log, http.StatusOK, map[string]bool{"success": true})
	}
}
