package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/larlab/bellcore/internal/audit"
	"github.com/larlab/bellcore/internal/override"
)

// LabStatusRequest is the body for POST /api/lab-status.
//
// Either Status ("online"/"offline") or Action ("clear") must be set.
type LabStatusRequest struct {
	Lab      string `json:"lab"`
	Status   string `json:"status,omitempty"`
	Action   string `json:"action,omitempty"`
	AdminPwd string `json:"adminPwd"`
}

// LabStatusResponse is the success payload for POST /api/lab-status.
type LabStatusResponse struct {
	OK            bool   `json:"ok"`
	Lab           string `json:"lab"`
	Overridden    bool   `json:"overridden"`
	OverrideValue string `json:"override_value,omitempty"`
	Note          string `json:"note,omitempty"`
}

// actionClear removes an override instead of setting one.
const actionClear = "clear"

// checkAdminSecret compares the presented secret against the configured
// one in constant time. A mismatch must look identical regardless of
// how close the guess was.
func (s *Server) checkAdminSecret(presented string) bool {
	if s.secCfg.AdminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.secCfg.AdminSecret)) == 1
}

// handleSetLabStatus sets or clears a manual override for a lab.
//
// The admin secret is verified before anything else; a bad secret gets
// a 401 no matter what the rest of the body contains.
func (s *Server) handleSetLabStatus(w http.ResponseWriter, r *http.Request) {
	addr := s.clientAddr(r)

	var req LabStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if !s.checkAdminSecret(req.AdminPwd) {
		writeUnauthorized(w, "invalid admin credentials")
		return
	}

	id, err := s.registry.Resolve(req.Lab)
	if err != nil {
		writeBadRequest(w, ErrCodeInvalidLab, "unknown or invalid lab identifier")
		return
	}

	if req.Action == actionClear {
		existed, err := s.overrides.Clear(id)
		if err != nil && errors.Is(err, override.ErrPersist) {
			// In-memory state already changed; durability failure is an
			// operator concern, not the admin client's.
			s.logger.Error("override persistence failed", "lab", string(id), "error", err)
		}

		s.recordAudit(audit.ActionOverrideClear, id, addr, audit.OutcomeOK, map[string]any{"existed": existed})
		s.publishStatusIfChanged(id, time.Now())

		resp := LabStatusResponse{OK: true, Lab: string(id), Overridden: false}
		if !existed {
			resp.Note = "no override was set"
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status, err := override.ParseStatus(req.Status)
	if err != nil {
		writeBadRequest(w, ErrCodeBadRequest, "status must be online or offline (or action clear)")
		return
	}

	if err := s.overrides.Set(id, status); err != nil && errors.Is(err, override.ErrPersist) {
		s.logger.Error("override persistence failed", "lab", string(id), "error", err)
	}

	s.recordAudit(audit.ActionOverrideSet, id, addr, audit.OutcomeOK, map[string]any{"status": string(status)})
	s.publishStatusIfChanged(id, time.Now())

	writeJSON(w, http.StatusOK, LabStatusResponse{
		OK:            true,
		Lab:           string(id),
		Overridden:    true,
		OverrideValue: string(status),
	})
}

// handleListLabStatus returns the current override mapping.
// Gated by the same admin secret, passed as a query parameter.
func (s *Server) handleListLabStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdminSecret(r.URL.Query().Get("adminPwd")) {
		writeUnauthorized(w, "invalid admin credentials")
		return
	}

	snapshot := s.overrides.Snapshot()
	overrides := make(map[string]string, len(snapshot))
	for id, status := range snapshot {
		overrides[string(id)] = string(status)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"overrides": overrides,
	})
}
