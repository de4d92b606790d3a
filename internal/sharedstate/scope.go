package sharedstate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"surfacesync/internal/constants"
)

var (
	validScope      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	unsafeScopeChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// maxContactIDLen bounds the sender part of a contact scope, keeping every
// contact scope well under the scope name limit.
const maxContactIDLen = 64

// ContactScope names the side channel for one sender's display state. Ids
// that needed escaping or truncation get a hash suffix so distinct senders
// never share a scope.
func ContactScope(senderID string) string {
	safe := unsafeScopeChar.ReplaceAllString(senderID, "_")
	if safe == senderID && safe != "" && len(safe) <= maxContactIDLen {
		return constants.ScopeContactPrefix + safe
	}
	if len(safe) > maxContactIDLen {
		safe = safe[:maxContactIDLen]
	}
	sum := sha256.Sum256([]byte(senderID))
	return constants.ScopeContactPrefix + safe + "-" + hex.EncodeToString(sum[:4])
}

// ScopeKind collapses a scope to a bounded metric label.
func ScopeKind(scope string) string {
	switch {
	case scope == constants.ScopeHero:
		return constants.ScopeHero
	case scope == constants.ScopeList:
		return constants.ScopeList
	case strings.HasPrefix(scope, constants.ScopeContactPrefix):
		return "contact"
	default:
		return "other"
	}
}

func validateScope(scope string) error {
	if !validScope.MatchString(scope) || len(scope) > 200 {
		return fmt.Errorf("invalid scope name %q", scope)
	}
	return nil
}

// ValidScope reports whether scope is a name every Store accepts.
func ValidScope(scope string) bool {
	return validateScope(scope) == nil
}
