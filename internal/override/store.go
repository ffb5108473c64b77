package override

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/larlab/bellcore/internal/lab"
)

// Status is a manual online/offline override for a lab.
// When present it always wins over automatic presence.
type Status string

// Valid override statuses.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ParseStatus validates a raw status string from a request body.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusOnline, StatusOffline:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q (want online or offline)", ErrInvalidStatus, raw)
	}
}

// File permissions for the overrides file and its directory.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Store holds manual status overrides per lab, persisted to a single
// JSON file (a flat map from lab id to "online"/"offline"; absent keys
// mean no override). The file is rewritten in full on every mutation.
//
// All public methods are thread-safe.
type Store struct {
	path   string
	logger Logger

	mu        sync.RWMutex
	overrides map[lab.ID]Status
}

// NewStore creates an override store backed by the given file path.
// Call Load once at startup before serving requests.
func NewStore(path string) *Store {
	return &Store{
		path:      path,
		logger:    noopLogger{},
		overrides: make(map[lab.ID]Status),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load reads the overrides file into memory.
//
// A missing or malformed file initialises the store to empty with a
// warning rather than failing startup: losing overrides degrades to
// automatic presence, which is always a safe state. Load never returns
// an error for that reason.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("overrides file unreadable, starting with empty overrides", "path", s.path, "error", err)
		}
		return
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("overrides file malformed, starting with empty overrides", "path", s.path, "error", err)
		return
	}

	loaded := make(map[lab.ID]Status, len(raw))
	for k, v := range raw {
		id, err := lab.Normalize(k)
		if err != nil {
			s.logger.Warn("dropping override with invalid lab id", "key", k, "error", err)
			continue
		}
		status, err := ParseStatus(v)
		if err != nil {
			s.logger.Warn("dropping override with invalid status", "lab", string(id), "value", v)
			continue
		}
		loaded[id] = status
	}

	s.mu.Lock()
	s.overrides = loaded
	s.mu.Unlock()
}

// Get returns the override for a lab, if any.
func (s *Store) Get(id lab.ID) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.overrides[id]
	return status, ok
}

// Set records an override and synchronously persists the full mapping.
//
// The in-memory change always stands. A failed durable write is
// reported as ErrPersist so the caller can log it, but must not be
// surfaced to the HTTP client.
func (s *Store) Set(id lab.ID, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}

	s.mu.Lock()
	s.overrides[id] = status
	err := s.persistLocked()
	s.mu.Unlock()

	return err
}

// Clear removes an override. Clearing a lab with no override is an
// idempotent no-op (existed reports whether one was present). The
// mapping is persisted only when something actually changed.
func (s *Store) Clear(id lab.ID) (existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[id]; !ok {
		return false, nil
	}
	delete(s.overrides, id)
	return true, s.persistLocked()
}

// Snapshot returns a copy of the current override mapping.
func (s *Store) Snapshot() map[lab.ID]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[lab.ID]Status, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// persistLocked rewrites the overrides file. Callers must hold s.mu.
//
// The write goes to a temp file in the same directory followed by a
// rename, so a crash mid-write leaves the previous file intact instead
// of a truncated one that Load would silently reset to empty.
func (s *Store) persistLocked() error {
	raw := make(map[string]string, len(s.overrides))
	for k, v := range s.overrides {
		raw[string(k)] = string(v)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshalling overrides: %w", ErrPersist, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: creating directory: %w", ErrPersist, err)
	}

	tmp, err := os.CreateTemp(dir, ".overrides-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersist, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()         //nolint:errcheck // error path cleanup
		os.Remove(tmpName)  //nolint:errcheck // error path cleanup
		return fmt.Errorf("%w: writing temp file: %w", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("%w: closing temp file: %w", ErrPersist, err)
	}

	if err := os.Chmod(tmpName, filePermissions); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("%w: setting permissions: %w", ErrPersist, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("%w: replacing overrides file: %w", ErrPersist, err)
	}

	return nil
}
