package override

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "overrides.json")
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("online"); err != nil || s != StatusOnline {
		t.Errorf("ParseStatus(online) = %q, %v", s, err)
	}
	if s, err := ParseStatus("offline"); err != nil || s != StatusOffline {
		t.Errorf("ParseStatus(offline) = %q, %v", s, err)
	}
	for _, raw := range []string{"", "ONLINE", "busy", "true"} {
		if _, err := ParseStatus(raw); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("ParseStatus(%q) = %v, want ErrInvalidStatus", raw, err)
		}
	}
}

func TestSetGetClear(t *testing.T) {
	s := NewStore(storePath(t))
	s.Load()

	if _, ok := s.Get("LAPADA"); ok {
		t.Fatal("fresh store should have no overrides")
	}

	if err := s.Set("LAPADA", StatusOffline); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, ok := s.Get("LAPADA"); !ok || got != StatusOffline {
		t.Errorf("Get after Set = %q, %v", got, ok)
	}

	existed, err := s.Clear("LAPADA")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !existed {
		t.Error("Clear of set override reported existed=false")
	}
	if _, ok := s.Get("LAPADA"); ok {
		t.Error("override still present after Clear")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := NewStore(storePath(t))
	s.Load()

	existed, err := s.Clear("LAPADA")
	if err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	if existed {
		t.Error("Clear on empty store reported existed=true")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := storePath(t)

	s1 := NewStore(path)
	s1.Load()
	if err := s1.Set("LAPADA", StatusOffline); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Set("LAB01", StatusOnline); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// File is a flat map from id to status.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading overrides file: %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("overrides file not valid JSON: %v", err)
	}
	if onDisk["LAPADA"] != "offline" || onDisk["LAB01"] != "online" {
		t.Errorf("unexpected file contents: %v", onDisk)
	}

	// A second store picks the overrides back up.
	s2 := NewStore(path)
	s2.Load()
	if got, ok := s2.Get("LAPADA"); !ok || got != StatusOffline {
		t.Errorf("reloaded LAPADA = %q, %v", got, ok)
	}
	if got, ok := s2.Get("LAB01"); !ok || got != StatusOnline {
		t.Errorf("reloaded LAB01 = %q, %v", got, ok)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	s.Load()
	if len(s.Snapshot()) != 0 {
		t.Errorf("expected empty store, got %v", s.Snapshot())
	}
}

func TestLoadMalformedFileStartsEmpty(t *testing.T) {
	path := storePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	s.Load()
	if len(s.Snapshot()) != 0 {
		t.Errorf("expected empty store after malformed load, got %v", s.Snapshot())
	}
}

func TestLoadDropsInvalidEntries(t *testing.T) {
	path := storePath(t)
	content := `{"LAPADA":"offline","bad id":"online","LAB01":"sideways"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	s.Load()

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected only the valid entry, got %v", snap)
	}
	if snap["LAPADA"] != StatusOffline {
		t.Errorf("LAPADA = %q, want offline", snap["LAPADA"])
	}
}

func TestSetSurvivesPersistFailure(t *testing.T) {
	// Point the store at a path whose parent is a file, so MkdirAll fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(filepath.Join(blocker, "overrides.json"))
	s.Load()

	err := s.Set("LAPADA", StatusOffline)
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("Set = %v, want ErrPersist", err)
	}

	// In-memory change stands despite the failed write.
	if got, ok := s.Get("LAPADA"); !ok || got != StatusOffline {
		t.Errorf("in-memory override lost after persist failure: %q, %v", got, ok)
	}
}
