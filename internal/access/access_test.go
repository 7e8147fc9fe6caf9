package access

import (
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/internal/pairing"
)

func newTestPairing(t *testing.T) *pairing.Store {
	t.Helper()
	s, err := pairing.New(filepath.Join(t.TempDir(), "pairing.json"))
	if err != nil {
		t.Fatalf("pairing.New: %v", err)
	}
	return s
}

func TestCheckOpenDMAllowsAnyone(t *testing.T) {
	c := NewChecker(nil)
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", PeerKind: core.PeerDirect},
		PolicyConfig{DMPolicy: "open"})
	if !d.Allow {
		t.Fatalf("expected open DM policy to allow, got %+v", d)
	}
}

func TestCheckDisabledDMRejects(t *testing.T) {
	c := NewChecker(nil)
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", PeerKind: core.PeerDirect},
		PolicyConfig{DMPolicy: "disabled"})
	if d.Allow {
		t.Fatalf("expected disabled DM policy to reject")
	}
}

func TestCheckAllowlistDM(t *testing.T) {
	c := NewChecker(nil)
	cfg := PolicyConfig{DMPolicy: "allowlist", AllowFrom: []string{"42"}}
	allowed := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "42|bob", PeerKind: core.PeerDirect}, cfg)
	if !allowed.Allow {
		t.Fatalf("expected allowlisted sender to be allowed, got %+v", allowed)
	}
	rejected := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "99|eve", PeerKind: core.PeerDirect}, cfg)
	if rejected.Allow {
		t.Fatalf("expected non-allowlisted sender to be rejected")
	}
}

func TestCheckPairingIssuesCodeWhenUnpaired(t *testing.T) {
	ps := newTestPairing(t)
	c := NewChecker(ps)
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1|alice", ChatID: "c1", PeerKind: core.PeerDirect},
		PolicyConfig{DMPolicy: "pairing"})
	if d.Allow {
		t.Fatalf("expected unpaired sender to be rejected")
	}
	if !d.RequirePair || d.PairingCode == "" {
		t.Fatalf("expected a pairing code to be requested, got %+v", d)
	}
}

func TestCheckPairingAllowsOncePaired(t *testing.T) {
	ps := newTestPairing(t)
	c := NewChecker(ps)
	code, _ := ps.RequestPairing("1|alice", "telegram", "c1", "default")
	ps.ApproveCode(code)

	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1|alice", ChatID: "c1", PeerKind: core.PeerDirect},
		PolicyConfig{DMPolicy: "pairing"})
	if !d.Allow {
		t.Fatalf("expected paired sender to be allowed, got %+v", d)
	}
}

func TestCheckAllowlistDMEmptyListDeniesEveryone(t *testing.T) {
	c := NewChecker(nil)
	cfg := PolicyConfig{DMPolicy: "allowlist"}
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "42", PeerKind: core.PeerDirect}, cfg)
	if d.Allow {
		t.Fatalf("expected empty allowlist to deny every sender, got %+v", d)
	}
}

func TestCheckGroupAllowlistEmptyListDeniesEveryone(t *testing.T) {
	c := NewChecker(nil)
	cfg := PolicyConfig{GroupPolicy: "allowlist"}
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "42", PeerKind: core.PeerGroup}, cfg)
	if d.Allow {
		t.Fatalf("expected empty group allowlist to deny every sender, got %+v", d)
	}
}

func TestCheckPairingConfigAllowFromSkipsPairingHandshake(t *testing.T) {
	ps := newTestPairing(t)
	c := NewChecker(ps)
	cfg := PolicyConfig{DMPolicy: "pairing", AllowFrom: []string{"1"}}
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1|alice", ChatID: "c1", PeerKind: core.PeerDirect}, cfg)
	if !d.Allow || d.RequirePair {
		t.Fatalf("expected config allowlist to admit sender without a pairing prompt, got %+v", d)
	}
}

func TestCheckGroupRequiresMention(t *testing.T) {
	c := NewChecker(nil)
	cfg := PolicyConfig{GroupPolicy: "open", RequireMention: true}
	notMentioned := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", PeerKind: core.PeerGroup, Mentioned: false}, cfg)
	if notMentioned.Allow {
		t.Fatalf("expected message without mention to be rejected")
	}
	mentioned := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", PeerKind: core.PeerGroup, Mentioned: true}, cfg)
	if !mentioned.Allow {
		t.Fatalf("expected mentioned message to be allowed")
	}
}

func TestNotePairingApprovedGrantsGrace(t *testing.T) {
	c := NewChecker(nil) // no pairing store at all — grace should still work
	c.NotePairingApproved("telegram", "1|alice")
	d := c.Check(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1|alice", PeerKind: core.PeerDirect},
		PolicyConfig{DMPolicy: "pairing"})
	if !d.Allow {
		t.Fatalf("expected grace-period admission, got %+v", d)
	}
}
