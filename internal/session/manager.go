package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// TTL is the fixed session lifetime. There is no refresh operation; a
// client whose token expired obtains a new one via bootstrap.
const TTL = time.Hour

// tokenBytes is the number of random bytes per token. 32 bytes of
// crypto/rand output is unguessable within the TTL window.
const tokenBytes = 32

// sweepInterval is how often the background sweep evicts expired
// sessions that were never presented again.
const sweepInterval = 10 * time.Minute

// Validation errors.
//
// All three are authorization failures from the HTTP caller's
// perspective; the distinction matters only for logging.
var (
	// ErrUnknownToken is returned when a token was never issued or has
	// already been evicted.
	ErrUnknownToken = errors.New("session: unknown token")

	// ErrAddressMismatch is returned when a token is presented from a
	// client address other than the one it was issued to. This is an
	// anti-theft measure, not a cryptographic binding.
	ErrAddressMismatch = errors.New("session: address mismatch")

	// ErrExpired is returned when a token's TTL has passed. The session
	// is evicted as a side effect.
	ErrExpired = errors.New("session: expired")
)

// entry holds a live session: the owning client address and expiry.
type entry struct {
	addr      string
	expiresAt time.Time
}

// Manager issues and validates short-lived bearer tokens bound to a
// client address. Sessions live only in memory: a restart invalidates
// every outstanding token, which is acceptable because bootstrap is
// cheap.
//
// All public methods are thread-safe.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]entry
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]entry),
	}
}

// Issue creates a token bound to the issuing client's address, valid
// for TTL from now.
func (m *Manager) Issue(addr string, now time.Time) string {
	token := generateToken()

	m.mu.Lock()
	m.sessions[token] = entry{
		addr:      addr,
		expiresAt: now.Add(TTL),
	}
	m.mu.Unlock()

	return token
}

// Validate checks a presented token against the presenting client's
// address at the given instant.
//
// Failure modes, each with its own sentinel: the token is unknown, the
// bound address does not match, or the TTL has passed. An expired
// session is evicted during the failed validation.
func (m *Manager) Validate(token, addr string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[token]
	if !ok {
		return ErrUnknownToken
	}
	if e.addr != addr {
		return ErrAddressMismatch
	}
	if now.After(e.expiresAt) {
		delete(m.sessions, token)
		return ErrExpired
	}
	return nil
}

// Sweep evicts all sessions expired as of now and returns how many were
// removed. Validate already evicts lazily; Sweep catches tokens that
// were abandoned without another request.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, e := range m.sessions {
		if now.After(e.expiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// SweepLoop runs Sweep periodically until the context is cancelled.
func (m *Manager) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Count returns the number of live sessions (including any not yet swept).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// generateToken creates a cryptographically random token string.
func generateToken() string {
	b := make([]byte, tokenBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
