// Package abortmem implements fast-abort: recognizing a multilingual
// stop-phrase in an inbound message and immediately marking the
// in-flight run (and any sub-agent runs it spawned) as aborted, without
// waiting for the agent loop's next cooperative checkpoint to notice.
package abortmem

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxEntries bounds the abort memory; the oldest aborted run is evicted
// once the cap is hit, matching the LRU-capped data model for abort
// records.
const MaxEntries = 2000

// ChildLookup resolves the session keys that are direct sub-agent
// children of parentKey, so a fast-abort can cascade down the tree.
// Implementations are expected to derive this from session-key prefixes
// (see internal/subagents).
type ChildLookup func(parentKey string) []string

// Memory tracks aborted runs by session key.
type Memory struct {
	mu      sync.Mutex
	entries *lru.Cache[string, time.Time] // sessionKey -> abortedAt
	lookup  ChildLookup
}

// New creates an abort Memory. lookup may be nil if sub-agent cascading
// isn't wired (e.g. in tests).
func New(lookup ChildLookup) *Memory {
	c, _ := lru.New[string, time.Time](MaxEntries)
	return &Memory{entries: c, lookup: lookup}
}

// Abort marks sessionKey aborted and cascades to every descendant
// ChildLookup reports, so a stop phrase sent to a parent conversation
// also halts any sub-agent runs it spawned.
func (m *Memory) Abort(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortLocked(sessionKey, time.Now())
}

func (m *Memory) abortLocked(sessionKey string, at time.Time) {
	m.entries.Add(sessionKey, at)
	if m.lookup == nil {
		return
	}
	for _, child := range m.lookup(sessionKey) {
		m.abortLocked(child, at)
	}
}

// IsAborted reports whether sessionKey has a live abort record.
func (m *Memory) IsAborted(sessionKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries.Get(sessionKey)
	return ok
}

// Clear removes sessionKey's abort record, called once a fresh run starts
// for it.
func (m *Memory) Clear(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Remove(sessionKey)
}

// Len reports the number of tracked abort records (test/diagnostic use).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}
