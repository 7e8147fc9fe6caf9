package sessionindex

import (
	"fmt"
	"strings"
)

// MaxKeyBytes bounds a canonical session key, matching the size guard
// applied to every other externally-influenced string in the gateway.
const MaxKeyBytes = 256

// BuildKey constructs the canonical "agent:<agentId>:<scope>:<origin>"
// form. agentID and scope are trusted (config/DB-sourced); origin may
// derive from external channel data and is lower-cased and trimmed but
// never otherwise interpreted.
func BuildKey(agentID, scope, origin string) (string, error) {
	agentID = strings.ToLower(strings.TrimSpace(agentID))
	scope = strings.ToLower(strings.TrimSpace(scope))
	origin = strings.ToLower(strings.TrimSpace(origin))
	if agentID == "" || scope == "" || origin == "" {
		return "", fmt.Errorf("sessionindex: agentID, scope, and origin must all be non-empty")
	}
	key := fmt.Sprintf("agent:%s:%s:%s", agentID, scope, origin)
	if len(key) > MaxKeyBytes {
		return "", fmt.Errorf("sessionindex: key exceeds %d bytes", MaxKeyBytes)
	}
	return key, nil
}

// Valid reports whether key has the canonical shape and fits the size
// bound. It does not guarantee the key is registered in any store.
func Valid(key string) bool {
	if key == "" || len(key) > MaxKeyBytes {
		return false
	}
	if key != strings.ToLower(key) {
		return false
	}
	parts := strings.SplitN(key, ":", 4)
	return len(parts) == 4 && parts[0] == "agent" && parts[1] != "" && parts[2] != "" && parts[3] != ""
}
