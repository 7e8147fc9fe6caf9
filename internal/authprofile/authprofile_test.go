package authprofile

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

func TestRecordFailureSetsCooldownWindow(t *testing.T) {
	s, _ := New("")
	p, err := s.RecordFailure("p1", "anthropic", core.FailureTimeout)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if p.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", p.ErrorCount)
	}
	if p.Usable(time.Now()) {
		t.Fatalf("expected profile to be unusable immediately after a failure")
	}
}

func TestWindowImmutableWithinEpisode(t *testing.T) {
	s, _ := New("")
	first, _ := s.RecordFailure("p1", "anthropic", core.FailureTimeout)

	// A second failure arriving while still inside the first window must
	// not push the window further out.
	second, _ := s.RecordFailure("p1", "anthropic", core.FailureRateLimit)
	if !second.WindowUntil.Equal(first.WindowUntil) {
		t.Fatalf("window should not extend within an episode: %v vs %v", first.WindowUntil, second.WindowUntil)
	}
	// ErrorCount also should not have incremented further.
	if second.ErrorCount != first.ErrorCount {
		t.Fatalf("ErrorCount changed within the same window: %d -> %d", first.ErrorCount, second.ErrorCount)
	}
	// But the reported reason should update to the latest.
	if second.LastReason != core.FailureRateLimit {
		t.Fatalf("expected LastReason updated to latest failure, got %v", second.LastReason)
	}
}

func TestBillingBackoffExponentialCappedAt24h(t *testing.T) {
	if got := cooldownFor(core.FailureBilling, 1); got != 5*time.Hour {
		t.Fatalf("billing n=1: got %v, want 5h", got)
	}
	if got := cooldownFor(core.FailureBilling, 2); got != 10*time.Hour {
		t.Fatalf("billing n=2: got %v, want 10h", got)
	}
	if got := cooldownFor(core.FailureBilling, 10); got != 24*time.Hour {
		t.Fatalf("billing n=10: got %v, want capped 24h", got)
	}
}

func TestOtherBackoffCappedAt1h(t *testing.T) {
	if got := cooldownFor(core.FailureTimeout, 1); got != 60*time.Second {
		t.Fatalf("n=1: got %v, want 60s", got)
	}
	if got := cooldownFor(core.FailureTimeout, 4); got != time.Hour {
		t.Fatalf("n=4: got %v, want capped 1h", got)
	}
	if got := cooldownFor(core.FailureTimeout, 20); got != time.Hour {
		t.Fatalf("n=20: got %v, want capped 1h", got)
	}
}

func TestClearFailuresResetsEpisode(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureTimeout)
	if err := s.ClearFailures("p1"); err != nil {
		t.Fatalf("ClearFailures: %v", err)
	}
	p := s.Get("p1", "anthropic")
	if p.ErrorCount != 0 || !p.Usable(time.Now()) {
		t.Fatalf("expected profile usable and reset after ClearFailures, got %+v", p)
	}
}

func TestSelectorSkipsUnusableCandidates(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureAuth)
	id, ok, _ := s.Select(SelectRequest{Provider: "anthropic", Candidates: []string{"p1", "p2"}})
	if !ok || id != "p2" {
		t.Fatalf("Select = (%q, %v), want (p2, true)", id, ok)
	}
}

func TestSelectorBypassesForOpenRouter(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "openrouter", core.FailureAuth)
	id, ok, _ := s.Select(SelectRequest{Provider: "openrouter", Candidates: []string{"p1", "p2"}})
	if !ok || id != "p1" {
		t.Fatalf("Select = (%q, %v), want (p1, true) due to openrouter bypass", id, ok)
	}
}

func TestSelectorBypassFlag(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureAuth)
	id, ok, _ := s.Select(SelectRequest{Provider: "anthropic", Candidates: []string{"p1"}, Bypass: true})
	if !ok || id != "p1" {
		t.Fatalf("Select with Bypass = (%q, %v), want (p1, true)", id, ok)
	}
}

func TestSelectorNoCandidatesUsable(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureAuth)
	s.RecordFailure("p2", "anthropic", core.FailureAuth)
	_, ok, _ := s.Select(SelectRequest{Provider: "anthropic", Candidates: []string{"p1", "p2"}})
	if ok {
		t.Fatalf("expected no usable candidate")
	}
}

func TestSelectorAllUnusableScoresDisabledReasonOverFrequency(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureRateLimit)
	s.RecordFailure("p1", "anthropic", core.FailureRateLimit)
	s.RecordFailure("p2", "anthropic", core.FailureBilling)
	_, ok, unusable := s.Select(SelectRequest{Provider: "anthropic", Candidates: []string{"p1", "p2"}})
	if ok {
		t.Fatalf("expected no usable candidate")
	}
	if unusable.Reason != core.FailureBilling {
		t.Fatalf("expected active disabledReason (billing) to win over frequency, got %q", unusable.Reason)
	}
	if unusable.RetryAt.IsZero() {
		t.Fatalf("expected a soonest retryAt to be computed")
	}
}

func TestSelectorAllUnusableScoresMostFrequentReason(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureAuth)
	s.RecordFailure("p2", "anthropic", core.FailureTimeout)
	_, ok, unusable := s.Select(SelectRequest{Provider: "anthropic", Candidates: []string{"p1", "p2"}})
	if ok {
		t.Fatalf("expected no usable candidate")
	}
	if unusable.Reason != core.FailureTimeout && unusable.Reason != core.FailureAuth {
		t.Fatalf("expected one of the recorded reasons, got %q", unusable.Reason)
	}
}

func TestClearExpiredCooldownsResetsCountersPreservingLastFailureAt(t *testing.T) {
	s, _ := New("")
	s.RecordFailure("p1", "anthropic", core.FailureTimeout)
	// Force the window into the past so it reads as expired.
	s.mu.Lock()
	p := s.doc.Profiles["p1"]
	p.WindowUntil = time.Now().Add(-time.Second)
	lastFailureAt := p.LastFailureAt
	s.doc.Profiles["p1"] = p
	s.mu.Unlock()

	if err := s.ClearExpiredCooldowns(); err != nil {
		t.Fatalf("ClearExpiredCooldowns: %v", err)
	}
	got := s.Get("p1", "anthropic")
	if got.ErrorCount != 0 || got.FailureCounts != nil {
		t.Fatalf("expected counters reset, got %+v", got)
	}
	if !got.WindowUntil.IsZero() {
		t.Fatalf("expected window cleared, got %v", got.WindowUntil)
	}
	if !got.LastFailureAt.Equal(lastFailureAt) {
		t.Fatalf("expected lastFailureAt preserved, got %v want %v", got.LastFailureAt, lastFailureAt)
	}
}
