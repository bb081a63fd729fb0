package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Identifiers are opaque strings issued by the identity provider or the catalog.
// They must start with a letter or digit and stay within a safe character set.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:@-]{0,127}$`)

// UserID identifies an academy user.
type UserID string

func (u UserID) IsValid() bool  { return idRegex.MatchString(string(u)) }
func (u UserID) String() string { return string(u) }

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", ErrInvalidUserID
	}
	return uid, nil
}

// ModuleID identifies a training module from the catalog.
type ModuleID string

func (m ModuleID) IsValid() bool  { return idRegex.MatchString(string(m)) }
func (m ModuleID) String() string { return string(m) }

// NewModuleID creates a new ModuleID with validation.
func NewModuleID(id string) (ModuleID, error) {
	mid := ModuleID(strings.TrimSpace(id))
	if !mid.IsValid() {
		return "", NewDomainError("shared", "NewModuleID", ErrInvalidID, "invalid module ID format")
	}
	return mid, nil
}
