package api

import (
	"net/http"
	"strconv"

	"github.com/larlab/bellcore/internal/audit"
)

// handleAuditList returns the ring and override audit trail, newest
// first. Gated by the admin secret; supports action/lab/outcome filters
// and limit/offset pagination.
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdminSecret(r.URL.Query().Get("adminPwd")) {
		writeUnauthorized(w, "invalid admin credentials")
		return
	}

	if s.audit == nil {
		writeInternalError(w, "audit trail is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Outcome: q.Get("outcome"),
	}

	if raw := q.Get("lab"); raw != "" {
		id, err := s.registry.Resolve(raw)
		if err != nil {
			writeBadRequest(w, ErrCodeInvalidLab, "unknown or invalid lab identifier")
			return
		}
		filter.LabID = string(id)
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, ErrCodeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, ErrCodeBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeInternalError(w, "audit query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
