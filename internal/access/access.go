// Package access implements the dispatch engine's access-control
// decision procedure: DM/Group policy evaluation, pairing handshake
// integration, mention gating for groups, and a short post-pairing
// grace period so the message that completed pairing doesn't itself
// get dropped.
//
// This generalizes internal/channels.BaseChannel.CheckPolicy/IsAllowed
// (policy switch + compound "id|username" allowlist matching) into a
// channel-agnostic decision that also knows about the pairing store,
// rather than leaving each channel adapter to special-case "pairing"
// policy on its own.
package access

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/internal/store"
)

// PairingGrace is how long after a successful pairing approval the
// approved identity's next message is admitted even if the allowlist
// read is momentarily stale (e.g. read from a cached copy).
const PairingGrace = 30 * time.Second

// Decision is the outcome of an access check.
type Decision struct {
	Allow        bool
	RequirePair  bool   // true if the message triggered (or should trigger) a pairing prompt
	PairingCode  string // set when RequirePair and a code was minted
	Reason       string
}

// Checker evaluates access for inbound messages.
type Checker struct {
	pairing store.PairingStore

	mu          sync.Mutex
	recentPairs map[string]time.Time // "channel|id" -> approved-at, for PairingGrace
}

// NewChecker builds an access Checker backed by a pairing store. pairing
// may be nil for channels that never use the "pairing" policy.
func NewChecker(pairing store.PairingStore) *Checker {
	return &Checker{pairing: pairing, recentPairs: map[string]time.Time{}}
}

// PolicyConfig is the per-channel policy configuration, matching the
// shape already read out of internal/config's channel sections.
type PolicyConfig struct {
	DMPolicy       string // "pairing" | "allowlist" | "open" | "disabled"
	GroupPolicy    string // "open" | "allowlist" | "disabled"
	RequireMention bool
	AllowFrom      []string
}

// NotePairingApproved records that id on channel just graduated onto the
// allowlist, so the triggering message is admitted during the grace
// window even if a concurrent allowlist read hasn't observed it yet.
func (c *Checker) NotePairingApproved(channel, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentPairs[channel+"|"+id] = time.Now()
}

func (c *Checker) recentlyPaired(channel, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.recentPairs[channel+"|"+id]
	if !ok {
		return false
	}
	if time.Since(t) > PairingGrace {
		delete(c.recentPairs, channel+"|"+id)
		return false
	}
	return true
}

// Check evaluates whether msg should be admitted to the dispatch engine.
func (c *Checker) Check(msg core.NormalizedInboundMessage, cfg PolicyConfig) Decision {
	if cfg.GroupPolicy == "" {
		cfg.GroupPolicy = "open"
	}
	if cfg.DMPolicy == "" {
		cfg.DMPolicy = "open"
	}

	if msg.PeerKind == core.PeerGroup {
		return c.checkGroup(msg, cfg)
	}
	return c.checkDM(msg, cfg)
}

func (c *Checker) checkGroup(msg core.NormalizedInboundMessage, cfg PolicyConfig) Decision {
	switch cfg.GroupPolicy {
	case "disabled":
		return Decision{Allow: false, Reason: "group_policy_disabled"}
	case "allowlist":
		if !isAllowed(msg.SenderID, cfg.AllowFrom) {
			return Decision{Allow: false, Reason: "group_not_allowlisted"}
		}
	}
	if cfg.RequireMention && !msg.Mentioned {
		return Decision{Allow: false, Reason: "group_mention_required"}
	}
	return Decision{Allow: true}
}

func (c *Checker) checkDM(msg core.NormalizedInboundMessage, cfg PolicyConfig) Decision {
	switch cfg.DMPolicy {
	case "disabled":
		return Decision{Allow: false, Reason: "dm_policy_disabled"}
	case "allowlist":
		if isAllowed(msg.SenderID, cfg.AllowFrom) {
			return Decision{Allow: true}
		}
		return Decision{Allow: false, Reason: "dm_not_allowlisted"}
	case "pairing":
		return c.checkPairing(msg, cfg)
	default: // open
		return Decision{Allow: true}
	}
}

func (c *Checker) checkPairing(msg core.NormalizedInboundMessage, cfg PolicyConfig) Decision {
	if c.recentlyPaired(msg.Channel, msg.SenderID) {
		return Decision{Allow: true}
	}
	if isAllowed(msg.SenderID, c.mergedAllowFrom(msg.Channel, cfg.AllowFrom)) {
		return Decision{Allow: true}
	}
	if c.pairing != nil && c.pairing.IsPaired(msg.SenderID, msg.Channel) {
		return Decision{Allow: true}
	}
	if c.pairing == nil {
		return Decision{Allow: false, Reason: "pairing_unavailable"}
	}
	code, err := c.pairing.RequestPairing(msg.SenderID, msg.Channel, msg.ChatID, msg.AccountID)
	if err != nil {
		return Decision{Allow: false, Reason: "pairing_request_failed"}
	}
	return Decision{Allow: false, RequirePair: true, PairingCode: code, Reason: "pairing_required"}
}

// mergedAllowFrom combines the channel's configured allowlist with the
// pairing store's own admitted identities, per the pairing policy's
// "configAllowFrom ∪ pairingStoreAllowFrom" admission rule: a sender the
// operator already listed in config should never be routed into the
// pairing handshake just because the pairing store hasn't seen them yet.
func (c *Checker) mergedAllowFrom(channel string, configAllowFrom []string) []string {
	merged := append([]string{}, configAllowFrom...)
	if c.pairing == nil {
		return merged
	}
	for _, entry := range c.pairing.ReadAllowFromStore(channel) {
		merged = append(merged, entry.ID)
	}
	return merged
}

// isAllowed mirrors channels.BaseChannel.IsAllowed's compound
// "id|username" matching, generalized to take the allowlist explicitly
// rather than reading it off a channel instance. An empty allowlist
// denies everyone — a policy can't vacuously allow membership in a set
// with no members.
func isAllowed(senderID string, allowFrom []string) bool {
	if len(allowFrom) == 0 {
		return false
	}
	idPart, userPart := splitCompound(senderID)
	for _, allowed := range allowFrom {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitCompound(trimmed)
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitCompound(id string) (idPart, userPart string) {
	if idx := strings.Index(id, "|"); idx > 0 {
		return id[:idx], id[idx+1:]
	}
	return id, ""
}
