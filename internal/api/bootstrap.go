package api

import (
	"net/http"
	"time"

	"github.com/larlab/bellcore/internal/lab"
)

// LabSummary is one lab entry in the bootstrap payload.
type LabSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Asset      string `json:"asset"`
	Online     bool   `json:"online"`
	Overridden bool   `json:"overridden"`
	// OverrideValue is present only when Overridden is true.
	OverrideValue string `json:"override_value,omitempty"`
	// AutoOnline is the raw heartbeat-derived presence, ignoring any
	// override. Lets the admin UI show "forced offline but actually up".
	AutoOnline bool `json:"auto_online"`
}

// BootstrapResponse is the payload for GET /api/bootstrap.
type BootstrapResponse struct {
	Token string       `json:"token"`
	Labs  []LabSummary `json:"labs"`
}

// handleBootstrap issues a session token bound to the caller's address
// and returns the full lab roster with effective availability.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	addr := s.clientAddr(r)

	token := s.sessions.Issue(addr, now)

	all := s.registry.All()
	labs := make([]LabSummary, 0, len(all))
	for _, id := range all {
		online, overridden, value := s.effectiveOnline(id, now)
		labs = append(labs, LabSummary{
			ID:            string(id),
			Name:          lab.DisplayName(id),
			Asset:         lab.AssetRef(id),
			Online:        online,
			Overridden:    overridden,
			OverrideValue: string(value),
			AutoOnline:    s.presence.IsAutoOnline(id, now, s.onlineThreshold),
		})
	}

	writeJSON(w, http.StatusOK, BootstrapResponse{
		Token: token,
		Labs:  labs,
	})
}
