// Package session manages the ephemeral bearer tokens that authorize
// ring requests.
//
// A token is issued on bootstrap, bound to the requesting client's
// address, and valid for exactly one hour. Validation fails for unknown
// tokens, address mismatches and expiry; expired sessions are evicted as
// a side effect. Nothing is persisted — a restart clears all sessions.
package session
