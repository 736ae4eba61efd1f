package api

import (
	"encoding/json"
	"net/http"
)

// handleSystemStatus returns the current pause state, matching
// system_control.py's /api/system/status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pause.Get()
	if err != nil {
		s.log.Error("system status: read pause state failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "failed to read system state")
		return
	}
	writeJSON(w, s.log, http.StatusOK, st)
}

type pauseRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by" validate:"required"`
}

// handleSystemPause sets the global pause; while it is set the
// assign_unassigned job skips automatic assignment.
func (s *Server) handleSystemPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, s.log, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "field 'by' is required")
		return
	}

	st, err := s.pause.Pause(req.Reason, req.By)
	if err != nil {
		s.log.Error("system pause failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "failed to pause system")
		return
	}
	s.log.Info("system paused", "by", st.PausedBy, "reason", st.Reason)
	writeJSON(w, s.log, http.StatusOK, st)
}

type resumeRequest struct {
	By string `json:"by" validate:"required"`
}

// handleSystemResume clears the pause, resuming automatic assignment.
func (s *Server) handleSystemResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, s.log, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "field 'by' is required")
		return
	}

	st, err := s.pause.Resume(req.By)
	if err != nil {
		s.log.Error("system resume failed", "error", err)
		writeError(w, s.log, http.StatusInternalServerError, "failed to resume system")
		return
	}
	s.log.Info("system resumed", "by", st.ResumedBy)
	writeJSON(w, s.log, http.StatusOK, st)
}
