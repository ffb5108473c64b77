// Package guard implements the two admission-control gates in front of
// ring dispatch: a per-client fixed-window rate limiter and a per-lab
// ring cooldown.
//
// Both gates run before any token validation, shedding abusive load
// before the service spends cycles on authorization. Neither gate
// persists anything; a restart forgives all counters.
package guard
