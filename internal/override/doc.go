// Package override stores manual online/offline overrides per lab.
//
// An override, when present, always wins over automatic presence when a
// lab's effective status is computed. Overrides are set and cleared only
// through the admin-gated HTTP endpoints and survive restarts via a
// single JSON file rewritten in full on every mutation.
//
// Durability is deliberately best-effort: a failed write is reported to
// the caller as ErrPersist for logging but never rolls back the
// in-memory change and never reaches the HTTP client.
package override
