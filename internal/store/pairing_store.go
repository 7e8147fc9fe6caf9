package store

import "time"

// PairingRequestStatus is the lifecycle state of a pairing code.
type PairingRequestStatus string

const (
	PairingPending  PairingRequestStatus = "pending"
	PairingApproved PairingRequestStatus = "approved"
	PairingExpired  PairingRequestStatus = "expired"
)

// PairingRequest records one outstanding (or resolved) pairing code.
type PairingRequest struct {
	Code        string               `json:"code"`
	Channel     string               `json:"channel"`
	SenderID    string               `json:"senderID"`
	ChatID      string               `json:"chatID"`
	AccountID   string               `json:"accountID"`
	Status      PairingRequestStatus `json:"status"`
	RequestedAt time.Time            `json:"requestedAt"`
	ExpiresAt   time.Time            `json:"expiresAt"`
	LastSeenAt  time.Time            `json:"lastSeenAt"`
}

// AllowListEntry is one identity admitted to talk to an agent on a channel.
type AllowListEntry struct {
	ID        string    `json:"id"` // compound "senderID|username" or bare ID
	Channel   string    `json:"channel"`
	AccountID string    `json:"accountID"`
	Label     string    `json:"label,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

// PairingStore manages pairing requests and the allowlists they graduate
// into. RequestPairing and IsPaired are the legacy convenience methods
// every channel adapter already calls; the rest is the full surface used
// by the pairing CLI and the access-control layer.
type PairingStore interface {
	// RequestPairing issues (or refreshes) a pairing code for id on channel/chatID
	// and returns the code to show the user.
	RequestPairing(id, channel, chatID, accountID string) (code string, err error)
	// IsPaired reports whether id is already allow-listed on channel.
	IsPaired(id, channel string) bool

	UpsertPairingRequest(req PairingRequest) (PairingRequest, error)
	ApproveCode(code string) (PairingRequest, error)
	ListRequests(channel string) []PairingRequest

	AddAllowFromEntry(channel string, entry AllowListEntry) error
	RemoveAllowFromEntry(channel, id string) error
	ReadAllowFromStore(channel string) []AllowListEntry
}
