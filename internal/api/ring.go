package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/larlab/bellcore/internal/audit"
	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/ring"
	"github.com/larlab/bellcore/internal/session"
)

// RingRequest is the body for POST /api/ring.
type RingRequest struct {
	Lab   string `json:"lab"`
	Token string `json:"token"`
}

// RingResponse is the success payload for POST /api/ring.
type RingResponse struct {
	OK      bool   `json:"ok"`
	Lab     string `json:"lab"`
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// handleRing validates and dispatches a doorbell ring.
//
// Admission control runs first, before the token is even looked at:
// the per-address rate limiter, then the lab identifier, then the
// lab cooldown. Only admitted requests reach the dispatcher, which
// re-validates the session and publishes to the bus.
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	addr := s.clientAddr(r)

	// The rate limiter runs before the body is even parsed, so malformed
	// floods consume budget without paying the decode cost on our side.
	if err := s.rateLimiter.Allow(addr, now); err != nil {
		retryMs := retryAfterMs(err)
		s.recordAudit(audit.ActionRing, "", addr, audit.OutcomeRateLimited, nil)
		s.ringTelemetry("", audit.OutcomeRateLimited, 0)
		writeTooManyRequests(w, ErrCodeRateLimited, "too many requests, slow down", retryMs)
		return
	}

	var req RingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	id, err := s.registry.Resolve(req.Lab)
	if err != nil {
		s.recordAudit(audit.ActionRing, "", addr, audit.OutcomeInvalidLab, map[string]any{"raw": req.Lab})
		writeBadRequest(w, ErrCodeInvalidLab, "unknown or invalid lab identifier")
		return
	}

	if err := s.cooldown.Check(id, now); err != nil {
		retryMs := retryAfterMs(err)
		s.recordAudit(audit.ActionRing, id, addr, audit.OutcomeCooldown, map[string]any{"retry_after_ms": retryMs})
		s.ringTelemetry(id, audit.OutcomeCooldown, 0)
		writeTooManyRequests(w, ErrCodeCooldown, "lab was rung moments ago, try again shortly", retryMs)
		return
	}

	receipt, err := s.dispatcher.Ring(req.Lab, req.Token, addr, now)
	if err != nil {
		s.writeRingError(w, err, id, addr)
		return
	}

	s.recordAudit(audit.ActionRing, receipt.Lab, addr, audit.OutcomeOK, map[string]any{
		"topic":   receipt.Topic,
		"payload": receipt.Payload,
	})
	s.ringTelemetry(receipt.Lab, audit.OutcomeOK, int(ring.ParseDuration(receipt.Payload)/time.Millisecond))

	writeJSON(w, http.StatusOK, RingResponse{
		OK:      true,
		Lab:     string(receipt.Lab),
		Topic:   receipt.Topic,
		Payload: receipt.Payload,
	})
}

// writeRingError maps dispatcher failures to HTTP responses.
func (s *Server) writeRingError(w http.ResponseWriter, err error, id lab.ID, addr string) {
	switch {
	case errors.Is(err, lab.ErrInvalidID), errors.Is(err, lab.ErrNotRegistered):
		// The handler already resolved the lab; reaching this branch
		// means the registry changed under us, which it never does.
		s.recordAudit(audit.ActionRing, id, addr, audit.OutcomeInvalidLab, nil)
		writeBadRequest(w, ErrCodeInvalidLab, "unknown or invalid lab identifier")

	case errors.Is(err, session.ErrUnknownToken),
		errors.Is(err, session.ErrAddressMismatch),
		errors.Is(err, session.ErrExpired):
		s.recordAudit(audit.ActionRing, id, addr, audit.OutcomeUnauthorized, map[string]any{"reason": err.Error()})
		s.ringTelemetry(id, audit.OutcomeUnauthorized, 0)
		writeForbidden(w, "invalid or expired session token, reload the page")

	case errors.Is(err, ring.ErrPublishFailed):
		s.logger.Error("ring publish failed", "lab", string(id), "error", err)
		s.recordAudit(audit.ActionRing, id, addr, audit.OutcomePublishFailed, map[string]any{"error": err.Error()})
		s.ringTelemetry(id, audit.OutcomePublishFailed, 0)
		writeInternalError(w, "could not reach the doorbell, try again")

	default:
		s.logger.Error("unexpected ring failure", "lab", string(id), "error", err)
		writeInternalError(w, "internal server error")
	}
}

// ringTelemetry records a ring outcome to the time-series store, if enabled.
func (s *Server) ringTelemetry(id lab.ID, outcome string, durationMs int) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.WriteRingEvent(string(id), outcome, durationMs)
}

// retryAfterMs extracts the wait hint from an admission-control error
// in milliseconds, rounded up so clients never retry early.
func retryAfterMs(err error) int64 {
	after, ok := guard.RetryAfter(err)
	if !ok {
		return 0
	}
	ms := after.Milliseconds()
	if after%time.Millisecond != 0 {
		ms++
	}
	return ms
}
