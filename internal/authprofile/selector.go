package authprofile

import (
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

// SelectRequest describes what the caller needs a profile for.
type SelectRequest struct {
	Provider string
	// Candidates are the profile IDs configured for Provider, in
	// configured priority order.
	Candidates []string
	// Bypass skips the usability check entirely — used by explicit
	// operator overrides ("use this credential even if it's cooling down").
	Bypass bool
}

// Unusable describes why no candidate could be selected, so the caller
// can surface a reason-specific message and a retry hint.
type Unusable struct {
	Reason  core.FailureReason
	RetryAt time.Time
}

// reasonPriority breaks ties between equally-frequent failure reasons
// when scoring which one best explains an all-unusable outcome.
var reasonPriority = []core.FailureReason{
	core.FailureAuth,
	core.FailureBilling,
	core.FailureFormat,
	core.FailureModelNotFound,
	core.FailureTimeout,
	core.FailureRateLimit,
	core.FailureUnknown,
}

// Select returns the first usable candidate, preferring earlier entries
// (configured priority order). The openrouter provider and any request
// with Bypass set skip the usability check, since OpenRouter already
// load-balances across upstream credentials itself and a cooldown here
// would just be redundant.
//
// When every candidate is unusable, Select also returns an Unusable
// describing the soonest cooldown expiry and the reason that best
// explains the outage, so the caller can surface a reason-specific
// AuthFailure message instead of a bare rejection.
func (s *Store) Select(req SelectRequest) (string, bool, Unusable) {
	if len(req.Candidates) == 0 {
		return "", false, Unusable{}
	}
	if req.Bypass || req.Provider == "openrouter" {
		return req.Candidates[0], true, Unusable{}
	}

	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range req.Candidates {
		p, ok := s.doc.Profiles[id]
		if !ok || p.Usable(now) {
			return id, true, Unusable{}
		}
	}
	return "", false, s.scoreUnusableLocked(req.Candidates, now)
}

// scoreUnusableLocked must be called with s.mu held (for reading).
func (s *Store) scoreUnusableLocked(candidates []string, now time.Time) Unusable {
	var soonest time.Time
	var disabledReason core.FailureReason
	counts := map[core.FailureReason]int{}

	for _, id := range candidates {
		p, ok := s.doc.Profiles[id]
		if !ok {
			continue
		}
		if !p.WindowUntil.IsZero() && (soonest.IsZero() || p.WindowUntil.Before(soonest)) {
			soonest = p.WindowUntil
		}
		if p.DisabledReason != "" {
			disabledReason = p.DisabledReason
		}
		for reason, n := range p.FailureCounts {
			counts[reason] += n
		}
	}

	reason := disabledReason
	if reason == "" {
		reason = mostFrequentReason(counts)
	}
	if reason == "" {
		reason = core.FailureRateLimit
	}
	return Unusable{Reason: reason, RetryAt: soonest}
}

// mostFrequentReason picks the reason with the highest aggregate failure
// count, breaking ties by reasonPriority order. Returns "" if counts is
// empty.
func mostFrequentReason(counts map[core.FailureReason]int) core.FailureReason {
	var best core.FailureReason
	bestCount := 0
	for _, reason := range reasonPriority {
		if n := counts[reason]; n > bestCount {
			best, bestCount = reason, n
		}
	}
	return best
}
