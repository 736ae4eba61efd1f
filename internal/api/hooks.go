package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rhernandezbas/splynx-tickets/internal/model"
)

// flexNumber accepts either a JSON string or number, since Splynx's
// webhook senders are inconsistent about quoting ticket numbers.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexNumber(s)
		return nil
	}
	*f = flexNumber(b)
	return nil
}

func (f flexNumber) String() string { return string(f) }

// nuevoTicketRequest is the nuevo-ticket webhook body (spec §6).
type nuevoTicketRequest struct {
	NumeroTicket   *flexNumber `json:"numero_ticket"`
	NumeroCliente  string      `json:"numero_cliente"`
	NombreEmpresa  string      `json:"nombre_empresa"`
	FechaCreado    string      `json:"fecha_creado"`
	Departamento   string      `json:"departamento"`
	CanalEntrada   string      `json:"canal_entrada"`
	MotivoContacto string      `json:"motivo_contacto"`
	NumeroWhatsApp string      `json:"numero_whatsapp"`
	NombreUsuario  string      `json:"nombre_usuario"`
}

// handleNuevoTicket persists a new-ticket webhook payload, matching
// hooks_routes.py's POST /api/hooks/nuevo-ticket.
func (s *Server) handleNuevoTicket(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}

	var req nuevoTicketRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn("nuevo-ticket: invalid JSON body", "error", err)
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}

	if req.NumeroTicket == nil {
		writeError(w, s.log, http.StatusBadRequest, "Campo numero_ticket es requerido")
		return
	}
	if _, err := strconv.Atoi(req.NumeroTicket.String()); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "Campo numero_ticket debe ser numérico")
		return
	}
	if req.NumeroCliente == "" {
		writeError(w, s.log, http.StatusBadRequest, "Campo numero_cliente es requerido")
		return
	}

	rec := &model.WebhookRecord{
		TicketNumber:  req.NumeroTicket.String(),
		Company:       req.NombreEmpresa,
		Channel:       req.CanalEntrada,
		ContactReason: req.MotivoContacto,
		CustomerRef:   req.NumeroCliente,
		Phone:         req.NumeroWhatsApp,
		UserName:      req.NombreUsuario,
		CreatedAtRaw:  req.FechaCreado,
		RawPayload:    string(raw),
	}

	if err := s.ingester.RecordNewTicket(rec); err != nil {
		s.log.Error("nuevo-ticket: persist failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "Error al guardar el registro")
		return
	}

	writeJSON(w, s.log, http.StatusOK, map[string]any{"ok": true, "id": rec.ID})
}

// cierreTicketRequest is the cierre-ticket webhook body (spec §6).
type cierreTicketRequest struct {
	NumeroTicket      *flexNumber `json:"numero_ticket"`
	FechaCerrado      string      `json:"fecha_cerrado"`
	DescripcionCierre string      `json:"descripcion_cierre"`
	Motivo            string      `json:"motivo"`
}

// handleCierreTicket persists a closure webhook payload, matching
// hooks_routes.py's POST /api/hooks/cierre-ticket.
func (s *Server) handleCierreTicket(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}

	var req cierreTicketRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn("cierre-ticket: invalid JSON body", "error", err)
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}

	rec := &model.WebhookRecord{
		ContactReason: req.Motivo,
		ClosedAtRaw:   req.FechaCerrado,
		RawPayload:    string(raw),
	}
	if req.NumeroTicket != nil {
		rec.TicketNumber = req.NumeroTicket.String()
	}

	if err := s.ingester.RecordClosure(rec); err != nil {
		s.log.Error("cierre-ticket: persist failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "Error al guardar el registro")
		return
	}

	writeJSON(w, s.log, http.StatusOK, map[string]any{"ok": true, "id": rec.ID})
}

// handleSplynxTicketUpdate persists an arbitrary Splynx ticket-update
// event verbatim for async processing, matching splynx_webhooks.py.
func (s *Server) handleSplynxTicketUpdate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}
	if !json.Valid(raw) {
		writeError(w, s.log, http.StatusBadRequest, "Body JSON requerido")
		return
	}

	rec := &model.WebhookRecord{RawPayload: string(raw)}
	if err := s.ingester.RecordSplynxEvent(rec); err != nil {
		s.log.Error("splynx ticket-update: persist failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "Error al guardar el registro")
		return
	}

	writeJSON(w, s.log, http.StatusOK, map[string]any{"ok": true, "id": rec.ID})
}

