// Package authprofile tracks per-provider-credential failure history and
// derives cooldown/disable windows from it, then selects a usable
// profile for a given provider request.
package authprofile

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/internal/filelock"
)

const (
	billingBaseMs = 5 * time.Hour
	billingMaxMs  = 24 * time.Hour
	otherCapMs    = time.Hour
	otherBaseMs   = 60 * time.Second

	// failureWindow bounds how long a quiet period has to be before the
	// next failure starts a fresh episode instead of continuing the
	// current one: errorCount and failureCounts reset once lastFailureAt
	// falls outside this window.
	failureWindow = 30 * time.Minute
)

// Profile is one provider credential's failure/cooldown bookkeeping.
type Profile struct {
	ID             string                      `json:"id"`
	Provider       string                      `json:"provider"`
	ErrorCount     int                         `json:"errorCount"`
	LastReason     core.FailureReason          `json:"lastReason,omitempty"`
	FailureCounts  map[core.FailureReason]int  `json:"failureCounts,omitempty"`
	LastFailureAt  time.Time                   `json:"lastFailureAt,omitempty"`
	WindowStart    time.Time                   `json:"windowStart,omitempty"`
	WindowUntil    time.Time                   `json:"windowUntil,omitempty"`
	DisabledReason core.FailureReason          `json:"disabledReason,omitempty"`
	Disabled       bool                        `json:"disabled"`
}

// Usable reports whether the profile can be selected right now, ignoring
// any bypass rules (those are applied by the Selector).
func (p Profile) Usable(now time.Time) bool {
	if p.Disabled {
		return false
	}
	return p.WindowUntil.IsZero() || now.After(p.WindowUntil)
}

type document struct {
	Profiles map[string]Profile `json:"profiles"`
}

// Store persists Profile records, file-locked like the other stores so
// it can be shared across gateway processes.
type Store struct {
	path string
	mu   sync.RWMutex
	doc  document
}

// New loads (or initializes) the auth-profile store at path. An empty
// path keeps everything in memory.
func New(path string) (*Store, error) {
	s := &Store{path: path, doc: document{Profiles: map[string]Profile{}}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("authprofile: parse %s: %w", path, err)
	}
	if s.doc.Profiles == nil {
		s.doc.Profiles = map[string]Profile{}
	}
	return s, nil
}

// Get returns the profile for id, creating a fresh (unfailed) one if unseen.
func (s *Store) Get(id, provider string) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.Profiles[id]
	if !ok {
		p = Profile{ID: id, Provider: provider}
		s.doc.Profiles[id] = p
	}
	return p
}

// RecordFailure applies reason to the profile's failure history. A
// failure that arrives while an existing cooldown/disable window is
// still active never extends that window — the window is set once
// per failure episode, not refreshed by retries that land inside it.
// If the profile has been quiet longer than failureWindow, the prior
// episode's counters are discarded first (window-decay).
func (s *Store) RecordFailure(id, provider string, reason core.FailureReason) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p, ok := s.doc.Profiles[id]
	if !ok {
		p = Profile{ID: id, Provider: provider}
	}

	if !p.LastFailureAt.IsZero() && now.Sub(p.LastFailureAt) > failureWindow {
		p.ErrorCount = 0
		p.FailureCounts = nil
	}
	if p.FailureCounts == nil {
		p.FailureCounts = map[core.FailureReason]int{}
	}
	p.FailureCounts[reason]++
	p.LastFailureAt = now
	p.LastReason = reason

	if !p.WindowUntil.IsZero() && now.Before(p.WindowUntil) {
		// Already cooling down from a prior failure in this episode;
		// record the reason but leave the window untouched.
		s.doc.Profiles[id] = p
		return p, s.persistLocked()
	}

	p.ErrorCount++
	p.WindowStart = now
	n := p.ErrorCount
	if reason == core.FailureBilling {
		n = p.FailureCounts[core.FailureBilling]
	}
	p.WindowUntil = now.Add(cooldownFor(reason, n))
	if reason == core.FailureBilling {
		p.DisabledReason = reason
	} else {
		p.DisabledReason = ""
	}
	s.doc.Profiles[id] = p
	return p, s.persistLocked()
}

// ClearFailures resets a profile after a successful call, matching the
// "episode ends on success" shape implied by window immutability.
func (s *Store) ClearFailures(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.Profiles[id]
	if !ok {
		return nil
	}
	p.ErrorCount = 0
	p.LastReason = ""
	p.FailureCounts = nil
	p.LastFailureAt = time.Time{}
	p.WindowStart = time.Time{}
	p.WindowUntil = time.Time{}
	p.DisabledReason = ""
	s.doc.Profiles[id] = p
	return s.persistLocked()
}

// ClearExpiredCooldowns clears every profile's window once it has
// passed, and — once no window remains — resets errorCount and
// failureCounts while preserving lastFailureAt, so a later RecordFailure
// can still tell whether it falls inside or outside the decay window.
func (s *Store) ClearExpiredCooldowns() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := false
	for id, p := range s.doc.Profiles {
		if p.WindowUntil.IsZero() || now.Before(p.WindowUntil) {
			continue
		}
		p.WindowStart = time.Time{}
		p.WindowUntil = time.Time{}
		p.DisabledReason = ""
		p.ErrorCount = 0
		p.FailureCounts = nil
		s.doc.Profiles[id] = p
		changed = true
	}
	if !changed {
		return nil
	}
	return s.persistLocked()
}

// Disable permanently marks a profile unusable (e.g. revoked credential)
// until an operator clears it.
func (s *Store) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.doc.Profiles[id]
	p.ID = id
	p.Disabled = true
	s.doc.Profiles[id] = p
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	lock, err := filelock.Acquire(s.path, 10, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("authprofile: lock %s: %w", s.path, err)
	}
	defer lock.Release()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return filelock.WriteAtomic(filepath.Dir(s.path), s.path, data)
}

// cooldownFor computes the backoff window for the n-th (1-indexed)
// failure. RecordFailure passes the profile's billing failure count for
// billing failures and its overall error count for every other reason.
//
// Billing failures back off exponentially from a 5h base, capped at
// 24h. Every other reason uses min(1h, 60s * 5^min(n-1, 3)) — a much
// faster-climbing but much lower-ceiling backoff, since non-billing
// failures (timeouts, rate limits, bad output format) are usually
// transient.
func cooldownFor(reason core.FailureReason, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if reason == core.FailureBilling {
		ms := float64(billingBaseMs/time.Millisecond) * math.Pow(2, float64(n-1))
		d := time.Duration(ms) * time.Millisecond
		if d > billingMaxMs {
			d = billingMaxMs
		}
		return d
	}
	exp := n - 1
	if exp > 3 {
		exp = 3
	}
	d := time.Duration(float64(otherBaseMs) * math.Pow(5, float64(exp)))
	if d > otherCapMs {
		d = otherCapMs
	}
	return d
}
