// Package sessionindex is the Session Store: a durable SessionKey to
// SessionEntry map used to resolve which agent/run owns a given
// conversation, distinct from the conversation-history store in
// internal/sessions (which persists message transcripts, not dispatch
// bookkeeping).
//
// Persistence mirrors internal/sessions.Manager's atomic temp-file
// rename, generalized with a cross-process lock (internal/filelock) so
// multiple gateway processes — or the gateway and a CLI maintenance
// command — never interleave writes.
package sessionindex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/openclaw/internal/filelock"
)

// SessionEntry is the dispatch engine's bookkeeping record for a session,
// as opposed to its message history.
type SessionEntry struct {
	SessionID    uuid.UUID `json:"sessionId"`
	AgentID      string    `json:"agentId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`

	// ActiveRunID is non-empty while an agent turn is in flight for this
	// session; the dispatcher and fast-abort both key off it.
	ActiveRunID string `json:"activeRunId,omitempty"`

	// SpawnedBy/SpawnDepth mirror the session-key-prefix derivation used
	// by the sub-agent registry.
	SpawnedBy  string `json:"spawnedBy,omitempty"`
	SpawnDepth int    `json:"spawnDepth,omitempty"`
}

// MaintenanceMode controls what happens when the store's entry cap is hit.
type MaintenanceMode string

const (
	// ModeWarn logs and continues to accept new sessions past the cap.
	ModeWarn MaintenanceMode = "warn"
	// ModeEnforce refuses GetOrCreate for unseen keys once at the cap.
	ModeEnforce MaintenanceMode = "enforce"
)

// ErrCapacity is returned by GetOrCreate in ModeEnforce once MaxEntries
// is reached and key is not already registered.
var ErrCapacity = fmt.Errorf("sessionindex: store at capacity")

type document struct {
	Entries map[string]SessionEntry `json:"entries"`
}

// Store is the file-locked, in-memory-cached Session Store.
type Store struct {
	path string
	mode MaintenanceMode
	max  int

	mu      sync.RWMutex
	doc     document
	modTime time.Time

	watchdog *filelock.Watchdog
}

// Option configures New.
type Option func(*Store)

// WithMaintenanceMode sets the cap-exceeded behavior (default ModeWarn).
func WithMaintenanceMode(mode MaintenanceMode) Option {
	return func(s *Store) { s.mode = mode }
}

// WithMaxEntries sets the soft/hard cap (default 0, meaning unbounded).
func WithMaxEntries(max int) Option {
	return func(s *Store) { s.max = max }
}

// New loads (or initializes) the session index at path. An empty path
// makes the store in-memory only, useful for tests and cron/sub-agent
// sessions that never need to survive a restart.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		mode: ModeWarn,
		doc:  document{Entries: map[string]SessionEntry{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("sessionindex: parse %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]SessionEntry{}
	}
	s.doc = doc
	if fi, err := os.Stat(s.path); err == nil {
		s.modTime = fi.ModTime()
	}
	return nil
}

// reloadIfChanged re-reads the file when its mtime has advanced past what
// this process last saw, picking up writes from a sibling process (e.g.
// the pairing/session CLI) without a full lock round-trip on every read.
func (s *Store) reloadIfChanged() {
	if s.path == "" {
		return
	}
	fi, err := os.Stat(s.path)
	if err != nil || !fi.ModTime().After(s.modTime) {
		return
	}
	if err := s.load(); err != nil {
		slog.Warn("sessionindex.reload_failed", "path", s.path, "error", err)
	}
}

// Get returns the entry for key, if any.
func (s *Store) Get(key string) (SessionEntry, bool) {
	s.mu.Lock()
	s.reloadIfChanged()
	e, ok := s.doc.Entries[key]
	s.mu.Unlock()
	return e, ok
}

// GetOrCreate resolves key to its entry, creating one for agentID if it
// doesn't exist yet. In ModeEnforce, creating a new entry once the store
// is at MaxEntries fails with ErrCapacity.
func (s *Store) GetOrCreate(key, agentID string) (SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	if e, ok := s.doc.Entries[key]; ok {
		return e, nil
	}
	if s.max > 0 && len(s.doc.Entries) >= s.max {
		if s.mode == ModeEnforce {
			return SessionEntry{}, ErrCapacity
		}
		slog.Warn("sessionindex.capacity_exceeded", "count", len(s.doc.Entries), "max", s.max)
	}

	now := time.Now()
	e := SessionEntry{
		SessionID:    uuid.New(),
		AgentID:      agentID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.doc.Entries[key] = e
	if err := s.persistLocked(); err != nil {
		return SessionEntry{}, err
	}
	return e, nil
}

// Touch updates LastActiveAt for key.
func (s *Store) Touch(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[key]
	if !ok {
		return nil
	}
	e.LastActiveAt = time.Now()
	s.doc.Entries[key] = e
	return s.persistLocked()
}

// SetActiveRun records (or clears, with runID == "") the in-flight run
// for key.
func (s *Store) SetActiveRun(key, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[key]
	if !ok {
		return fmt.Errorf("sessionindex: unknown key %q", key)
	}
	e.ActiveRunID = runID
	e.LastActiveAt = time.Now()
	s.doc.Entries[key] = e
	return s.persistLocked()
}

// SetSpawnInfo records sub-agent parentage for key.
func (s *Store) SetSpawnInfo(key, spawnedBy string, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[key]
	if !ok {
		return fmt.Errorf("sessionindex: unknown key %q", key)
	}
	e.SpawnedBy = spawnedBy
	e.SpawnDepth = depth
	s.doc.Entries[key] = e
	return s.persistLocked()
}

// Delete removes key from the store.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Entries, key)
	return s.persistLocked()
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Entries)
}

// List returns all keys whose entry's AgentID equals agentID ("" for all).
func (s *Store) List(agentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key, e := range s.doc.Entries {
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		out = append(out, key)
	}
	return out
}

// persistLocked must be called with s.mu held.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	lock, err := filelock.Acquire(s.path, 10, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("sessionindex: lock %s: %w", s.path, err)
	}
	defer func() {
		lock.Release()
		if s.watchdog != nil {
			s.watchdog.Untrack(s.path + ".lock")
		}
	}()
	if s.watchdog != nil {
		s.watchdog.Track(s.path + ".lock")
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := filelock.WriteAtomic(filepath.Dir(s.path), s.path, data); err != nil {
		return err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.modTime = fi.ModTime()
	}
	return nil
}

// AttachWatchdog wires a shared filelock.Watchdog so a lock this process
// holds past the watchdog's max age is force-released. The watchdog runs
// inside this process; locks left behind by another process are not
// covered by it.
func (s *Store) AttachWatchdog(w *filelock.Watchdog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchdog = w
}
