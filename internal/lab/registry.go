package lab

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ID is a normalised lab identifier: uppercase, trimmed, matching
// idPattern. Only IDs present in the Registry are valid inputs to any
// other component; every consumer must go through Normalize before
// using raw input as a map key.
type ID string

// Identifier constraints.
const (
	minIDLength = 3
	maxIDLength = 20
	idPattern   = `^[A-Z0-9_-]+$`
)

// FallbackID is substituted when the configured lab list yields no valid
// entries. The service never starts with zero labs. The value matches
// the identifier baked into the reference doorbell firmware.
const FallbackID ID = "LAPADA"

var idRegex = regexp.MustCompile(idPattern)

// Normalize converts a raw string into a lab ID.
//
// Normalisation: trim surrounding whitespace, uppercase, then require
// [A-Z0-9_-] with length 3-20. Anything else fails with ErrInvalidID.
// Normalize is idempotent: applying it to its own output is a no-op.
func Normalize(raw string) (ID, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) < minIDLength || len(s) > maxIDLength {
		return "", fmt.Errorf("%w: %q has length %d (want %d-%d)", ErrInvalidID, raw, len(s), minIDLength, maxIDLength)
	}
	if !idRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q contains characters outside [A-Z0-9_-]", ErrInvalidID, raw)
	}
	return ID(s), nil
}

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Registry is the immutable set of valid lab identifiers, loaded once at
// startup from the comma-separated configuration list.
//
// All methods are safe for concurrent use; the registry never changes
// after construction.
type Registry struct {
	ids map[ID]struct{}
	// sorted keeps the stable bootstrap ordering without re-sorting per call.
	sorted []ID
}

// NewRegistry builds a registry from a comma-separated identifier list.
//
// Entries failing normalisation are dropped with a warning. If no valid
// entry remains the FallbackID is substituted and a warning emitted —
// the service must never run with zero labs.
func NewRegistry(csv string, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}

	ids := make(map[ID]struct{})
	for _, entry := range strings.Split(csv, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		id, err := Normalize(entry)
		if err != nil {
			logger.Warn("dropping invalid lab id from configuration", "entry", entry, "error", err)
			continue
		}
		ids[id] = struct{}{}
	}

	if len(ids) == 0 {
		logger.Warn("no valid lab ids configured, substituting fallback", "fallback", string(FallbackID))
		ids[FallbackID] = struct{}{}
	}

	sorted := make([]ID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Registry{ids: ids, sorted: sorted}
}

// IsRegistered reports whether id is in the registry.
func (r *Registry) IsRegistered(id ID) bool {
	_, ok := r.ids[id]
	return ok
}

// Resolve normalises raw and checks registration in one step.
// It returns ErrInvalidID or ErrNotRegistered accordingly; both are
// input-validation failures from the caller's perspective.
func (r *Registry) Resolve(raw string) (ID, error) {
	id, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !r.IsRegistered(id) {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return id, nil
}

// All returns every registered ID sorted lexicographically.
// The returned slice is shared; callers must not modify it.
func (r *Registry) All() []ID {
	return r.sorted
}

// Count returns the number of registered labs.
func (r *Registry) Count() int {
	return len(r.ids)
}

// DisplayName derives a human-readable name from an ID: underscores and
// hyphens become spaces and each word is title-cased.
//
// Example: "LAB_ANNEX-2" → "Lab Annex 2"
func DisplayName(id ID) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(string(id))
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 1 {
			words[i] = w[:1] + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}

// AssetRef derives the static asset reference for a lab's artwork.
//
// Example: "LAPADA" → "assets/labs/lapada.svg"
func AssetRef(id ID) string {
	return "assets/labs/" + strings.ToLower(string(id)) + ".svg"
}
