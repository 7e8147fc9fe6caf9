package sessionindex

import (
	"path/filepath"
	"testing"
)

func TestBuildKeyCanonicalForm(t *testing.T) {
	key, err := BuildKey("Agent1", "DM", "Telegram:123")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	want := "agent:agent1:dm:telegram:123"
	if key != want {
		t.Fatalf("BuildKey = %q, want %q", key, want)
	}
	if !Valid(key) {
		t.Fatalf("expected %q to be valid", key)
	}
}

func TestBuildKeyRejectsEmptyParts(t *testing.T) {
	if _, err := BuildKey("", "dm", "telegram:123"); err == nil {
		t.Fatalf("expected error for empty agentID")
	}
}

func TestBuildKeyRejectsOversize(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "x"
	}
	if _, err := BuildKey("agent1", "dm", long); err == nil {
		t.Fatalf("expected error for oversize key")
	}
}

func TestGetOrCreatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key, _ := BuildKey("agent1", "dm", "telegram:1")
	entry, err := s.GetOrCreate(key, "agent1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Get(key)
	if !ok {
		t.Fatalf("expected entry to persist across reopen")
	}
	if got.SessionID != entry.SessionID {
		t.Fatalf("SessionID mismatch after reopen: %v vs %v", got.SessionID, entry.SessionID)
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	s, _ := New("")
	key, _ := BuildKey("agent1", "dm", "telegram:1")
	a, _ := s.GetOrCreate(key, "agent1")
	b, _ := s.GetOrCreate(key, "agent1")
	if a.SessionID != b.SessionID {
		t.Fatalf("expected GetOrCreate to be idempotent for the same key")
	}
}

func TestEnforceModeRejectsOverCapacity(t *testing.T) {
	s, _ := New("", WithMaintenanceMode(ModeEnforce), WithMaxEntries(1))
	key1, _ := BuildKey("agent1", "dm", "telegram:1")
	if _, err := s.GetOrCreate(key1, "agent1"); err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	key2, _ := BuildKey("agent1", "dm", "telegram:2")
	if _, err := s.GetOrCreate(key2, "agent1"); err != ErrCapacity {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestWarnModeAllowsOverCapacity(t *testing.T) {
	s, _ := New("", WithMaintenanceMode(ModeWarn), WithMaxEntries(1))
	key1, _ := BuildKey("agent1", "dm", "telegram:1")
	key2, _ := BuildKey("agent1", "dm", "telegram:2")
	if _, err := s.GetOrCreate(key1, "agent1"); err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	if _, err := s.GetOrCreate(key2, "agent1"); err != nil {
		t.Fatalf("expected warn mode to allow over-capacity creation, got %v", err)
	}
}

func TestSetActiveRunRequiresExistingEntry(t *testing.T) {
	s, _ := New("")
	if err := s.SetActiveRun("agent:x:dm:1", "run-1"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	s, _ := New("")
	key, _ := BuildKey("agent1", "dm", "telegram:1")
	s.GetOrCreate(key, "agent1")
	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(key); ok {
		t.Fatalf("expected entry gone after Delete")
	}
}
