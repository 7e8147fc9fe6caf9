package pairing

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/store"
)

func TestRequestPairingGeneratesCodeFromAlphabet(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "pairing.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	code, err := s.RequestPairing("123|alice", "telegram", "chat-1", "default")
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}
	if len(code) != codeLength {
		t.Fatalf("code length = %d, want %d", len(code), codeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("code %q contains disallowed rune %q", code, r)
		}
	}
}

func TestRequestPairingRefreshesExistingRequest(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "pairing.json"))
	code1, _ := s.RequestPairing("123|alice", "telegram", "chat-1", "default")
	code2, _ := s.RequestPairing("123|alice", "telegram", "chat-2", "default")
	if code1 != code2 {
		t.Fatalf("expected refreshed request to keep the same code, got %q then %q", code1, code2)
	}
}

func TestApproveCodeGraduatesToAllowlist(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "pairing.json"))
	code, _ := s.RequestPairing("123|alice", "telegram", "chat-1", "default")

	if s.IsPaired("123|alice", "telegram") {
		t.Fatalf("should not be paired before approval")
	}
	if _, err := s.ApproveCode(code); err != nil {
		t.Fatalf("ApproveCode: %v", err)
	}
	if !s.IsPaired("123|alice", "telegram") {
		t.Fatalf("expected IsPaired true after approval")
	}
}

func TestApproveCodeRejectsUnknown(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "pairing.json"))
	if _, err := s.ApproveCode("NOPE0000"); err == nil {
		t.Fatalf("expected error for unknown code")
	}
}

func TestPendingCapEvictsOldestPerChannel(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "pairing.json"))
	var codes []string
	for i := 0; i < maxPendingPerChan+1; i++ {
		code, err := s.RequestPairing(string(rune('a'+i))+"|user", "telegram", "chat", "default")
		if err != nil {
			t.Fatalf("RequestPairing %d: %v", i, err)
		}
		codes = append(codes, code)
	}
	reqs := s.ListRequests("telegram")
	if len(reqs) != maxPendingPerChan {
		t.Fatalf("expected %d pending requests after eviction, got %d", maxPendingPerChan, len(reqs))
	}
	for _, req := range reqs {
		if req.Code == codes[0] {
			t.Fatalf("oldest request %q should have been evicted", codes[0])
		}
	}
}

func TestAllowlistAddRemove(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "pairing.json"))
	entry := store.AllowListEntry{Channel: "telegram", ID: "999|bob"}
	if err := s.AddAllowFromEntry("telegram", entry); err != nil {
		t.Fatalf("AddAllowFromEntry: %v", err)
	}
	if !s.IsPaired("999|bob", "telegram") {
		t.Fatalf("expected paired after direct allowlist add")
	}
	if err := s.RemoveAllowFromEntry("telegram", "999|bob"); err != nil {
		t.Fatalf("RemoveAllowFromEntry: %v", err)
	}
	if s.IsPaired("999|bob", "telegram") {
		t.Fatalf("expected not paired after removal")
	}
}
