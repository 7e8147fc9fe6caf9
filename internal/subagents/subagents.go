// Package subagents tracks parent-child relationships between an
// agent's main session and the sub-agent sessions it spawns, deriving
// parentage from the session-key prefix convention rather than a
// separate index: a sub-agent session key is always the parent's key
// with a "subagent:<label>" (or nested) suffix appended.
package subagents

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

const subagentMarker = ":subagent:"

// IsSubagentKey reports whether key denotes a sub-agent session.
func IsSubagentKey(key string) bool {
	return strings.Contains(key, subagentMarker)
}

// ParentKey returns the immediate parent session key for a sub-agent key,
// by trimming its last ":subagent:<label>" segment. It returns ("", false)
// if key is not a sub-agent key.
func ParentKey(key string) (string, bool) {
	idx := strings.LastIndex(key, subagentMarker)
	if idx < 0 {
		return "", false
	}
	return key[:idx], true
}

// Registry tracks in-flight and completed sub-agent runs.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*core.SubAgentRun // keyed by RunID
}

func NewRegistry() *Registry {
	return &Registry{runs: map[string]*core.SubAgentRun{}}
}

// Spawn records a new sub-agent run under parentSessionKey and returns it.
func (r *Registry) Spawn(parentRunID, parentSessionKey, label string) *core.SubAgentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := &core.SubAgentRun{
		RunID:       uuid.NewString(),
		ParentRunID: parentRunID,
		ParentKey:   parentSessionKey,
		SessionKey:  parentSessionKey + subagentMarker + label,
		Label:       label,
		StartedAt:   time.Now(),
	}
	r.runs[run.RunID] = run
	return run
}

// Complete marks a run finished.
func (r *Registry) Complete(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		run.CompletedAt = time.Now()
	}
}

// MarkAborted flags a run as aborted without removing it, so completion
// bookkeeping can still observe that it was stopped early.
func (r *Registry) MarkAborted(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		run.Aborted = true
	}
}

// ChildrenOf returns the session keys of every currently tracked
// sub-agent run whose ParentKey matches parentSessionKey, satisfying
// abortmem.ChildLookup's signature directly.
func (r *Registry) ChildrenOf(parentSessionKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, run := range r.runs {
		if run.ParentKey == parentSessionKey && run.CompletedAt.IsZero() {
			out = append(out, run.SessionKey)
		}
	}
	return out
}

// AllChildrenOf returns every run — running or already completed —
// directly parented by parentSessionKey. Unlike ChildrenOf, completed
// runs are included so a cascade can still traverse into a completed
// run's own children instead of stopping at it.
func (r *Registry) AllChildrenOf(parentSessionKey string) []core.SubAgentRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SubAgentRun
	for _, run := range r.runs {
		if run.ParentKey == parentSessionKey {
			out = append(out, *run)
		}
	}
	return out
}

// Get returns the run for runID, if tracked.
func (r *Registry) Get(runID string) (core.SubAgentRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return core.SubAgentRun{}, false
	}
	return *run, true
}

// Depth counts how many subagent markers precede key, i.e. how deeply
// nested a sub-agent session is relative to its ultimate top session.
func Depth(key string) int {
	return strings.Count(key, subagentMarker)
}
