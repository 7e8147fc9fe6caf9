// Package pairing implements the pairing handshake: a channel identity
// requests a short code, an operator approves it out of band (CLI or
// admin UI), and the identity graduates onto that channel's allowlist.
//
// Persistence follows the same file-locked JSON-map pattern as
// internal/sessionindex: one JSON document per store, guarded by a
// sidecar lock file so the gateway process and the pairing CLI can
// safely share it.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nextlevelbuilder/openclaw/internal/filelock"
	"github.com/nextlevelbuilder/openclaw/internal/store"
)

// codeAlphabet excludes 0/O and 1/I to avoid visual ambiguity when an
// operator reads a code off a phone screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength        = 8
	codeTTL           = time.Hour
	maxPendingPerChan = 3
	maxGenAttempts    = 500
)

type document struct {
	Requests  map[string]store.PairingRequest    `json:"requests"` // keyed by code
	AllowList map[string][]store.AllowListEntry  `json:"allowList"` // keyed by channel
}

// Store is the file-backed implementation of store.PairingStore.
type Store struct {
	path string

	mu  sync.RWMutex
	doc document

	// pending tracks per-channel LRU of pending codes for the cap-3 eviction rule.
	pending map[string]*lru.Cache[string, struct{}]
}

var _ store.PairingStore = (*Store)(nil)

// New loads (or initializes) the pairing store at path.
func New(path string) (*Store, error) {
	s := &Store{
		path:    path,
		doc:     document{Requests: map[string]store.PairingRequest{}, AllowList: map[string][]store.AllowListEntry{}},
		pending: map[string]*lru.Cache[string, struct{}]{},
	}
	if path == "" {
		return s, nil
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("pairing: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if s.doc.Requests == nil {
		s.doc.Requests = map[string]store.PairingRequest{}
	}
	if s.doc.AllowList == nil {
		s.doc.AllowList = map[string][]store.AllowListEntry{}
	}
	for channel, reqs := range s.groupPendingByChannel() {
		s.rebuildPendingLRU(channel, reqs)
	}
	return s, nil
}

func (s *Store) groupPendingByChannel() map[string][]string {
	out := map[string][]string{}
	for code, req := range s.doc.Requests {
		if req.Status == store.PairingPending {
			out[req.Channel] = append(out[req.Channel], code)
		}
	}
	return out
}

func (s *Store) rebuildPendingLRU(channel string, codes []string) {
	c := s.newPendingLRU(channel)
	sort.Slice(codes, func(i, j int) bool {
		return s.doc.Requests[codes[i]].LastSeenAt.Before(s.doc.Requests[codes[j]].LastSeenAt)
	})
	for _, code := range codes {
		c.Add(code, struct{}{})
	}
	s.pending[channel] = c
}

// newPendingLRU builds a bounded cache whose eviction callback drops the
// evicted code from the requests map too, enforcing the pending-per-channel
// cap as a true LRU rather than a separate bookkeeping structure.
func (s *Store) newPendingLRU(channel string) *lru.Cache[string, struct{}] {
	c, _ := lru.NewWithEvict[string, struct{}](maxPendingPerChan, func(code string, _ struct{}) {
		delete(s.doc.Requests, code)
	})
	return c
}

// RequestPairing issues or refreshes a pending code for id on channel/chatID.
func (s *Store) RequestPairing(id, channel, chatID, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	// Refresh an existing pending request for the same identity instead of
	// minting a new code every retry.
	for code, req := range s.doc.Requests {
		if req.Status == store.PairingPending && req.SenderID == id && req.Channel == channel {
			req.ChatID = chatID
			req.AccountID = accountID
			req.LastSeenAt = now
			req.ExpiresAt = now.Add(codeTTL)
			s.doc.Requests[code] = req
			s.trackPending(channel, code)
			if err := s.persistLocked(); err != nil {
				return "", err
			}
			return code, nil
		}
	}

	code, err := s.generateCode()
	if err != nil {
		return "", err
	}
	req := store.PairingRequest{
		Code:        code,
		Channel:     channel,
		SenderID:    id,
		ChatID:      chatID,
		AccountID:   accountID,
		Status:      store.PairingPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(codeTTL),
		LastSeenAt:  now,
	}
	s.doc.Requests[code] = req
	s.trackPending(channel, code)

	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return code, nil
}

// trackPending evicts the oldest pending code for channel when the cap is
// exceeded (LRU by lastSeenAt, per spec.md's pairing-request cap).
func (s *Store) trackPending(channel, code string) {
	c, ok := s.pending[channel]
	if !ok {
		c = s.newPendingLRU(channel)
		s.pending[channel] = c
	}
	c.Add(code, struct{}{})
}

func (s *Store) generateCode() (string, error) {
	for i := 0; i < maxGenAttempts; i++ {
		buf := make([]byte, codeLength)
		for j := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				return "", err
			}
			buf[j] = codeAlphabet[n.Int64()]
		}
		code := string(buf)
		if _, exists := s.doc.Requests[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("pairing: exhausted %d attempts generating a unique code", maxGenAttempts)
}

// IsPaired reports whether id is on channel's allowlist.
func (s *Store) IsPaired(id, channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.doc.AllowList[channel] {
		if e.ID == id {
			return true
		}
	}
	return false
}

// UpsertPairingRequest inserts or updates a request record directly
// (used by the CLI/admin surface rather than the per-message flow).
func (s *Store) UpsertPairingRequest(req store.PairingRequest) (store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Code == "" {
		code, err := s.generateCode()
		if err != nil {
			return store.PairingRequest{}, err
		}
		req.Code = code
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.RequestedAt.Add(codeTTL)
	}
	if req.Status == "" {
		req.Status = store.PairingPending
	}
	s.doc.Requests[req.Code] = req
	if req.Status == store.PairingPending {
		s.trackPending(req.Channel, req.Code)
	}
	return req, s.persistLocked()
}

// ApproveCode marks a pending code approved and graduates the identity
// onto its channel's allowlist. Expired codes are rejected.
func (s *Store) ApproveCode(code string) (store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.doc.Requests[code]
	if !ok {
		return store.PairingRequest{}, fmt.Errorf("pairing: unknown code %q", code)
	}
	if req.Status != store.PairingPending {
		return store.PairingRequest{}, fmt.Errorf("pairing: code %q is %s, not pending", code, req.Status)
	}
	if time.Now().After(req.ExpiresAt) {
		req.Status = store.PairingExpired
		s.doc.Requests[code] = req
		s.persistLocked()
		return store.PairingRequest{}, fmt.Errorf("pairing: code %q expired at %s", code, req.ExpiresAt)
	}

	req.Status = store.PairingApproved
	s.doc.Requests[code] = req

	entry := store.AllowListEntry{
		ID:        req.SenderID,
		Channel:   req.Channel,
		AccountID: req.AccountID,
		AddedAt:   time.Now(),
	}
	s.addAllowLocked(req.Channel, entry)

	return req, s.persistLocked()
}

// ListRequests returns all pairing requests for a channel ("" for all channels),
// newest first.
func (s *Store) ListRequests(channel string) []store.PairingRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.PairingRequest
	for _, req := range s.doc.Requests {
		if channel != "" && req.Channel != channel {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out
}

// AddAllowFromEntry adds an identity directly to a channel's allowlist,
// bypassing the code handshake (operator-managed allowlist entries).
func (s *Store) AddAllowFromEntry(channel string, entry store.AllowListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	s.addAllowLocked(channel, entry)
	return s.persistLocked()
}

func (s *Store) addAllowLocked(channel string, entry store.AllowListEntry) {
	list := s.doc.AllowList[channel]
	for i, e := range list {
		if e.ID == entry.ID {
			list[i] = entry
			s.doc.AllowList[channel] = list
			return
		}
	}
	s.doc.AllowList[channel] = append(list, entry)
}

// RemoveAllowFromEntry removes id from channel's allowlist.
func (s *Store) RemoveAllowFromEntry(channel, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.doc.AllowList[channel]
	for i, e := range list {
		if e.ID == id {
			s.doc.AllowList[channel] = append(list[:i], list[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

// ReadAllowFromStore returns channel's current allowlist.
func (s *Store) ReadAllowFromStore(channel string) []store.AllowListEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AllowListEntry, len(s.doc.AllowList[channel]))
	copy(out, s.doc.AllowList[channel])
	return out
}

// persistLocked must be called with s.mu held; it acquires the
// cross-process file lock only around the write itself.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	lock, err := filelock.Acquire(s.path, 10, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("pairing: lock %s: %w", s.path, err)
	}
	defer lock.Release()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return filelock.WriteAtomic(filepath.Dir(s.path), s.path, data)
}
