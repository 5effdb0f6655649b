package rule

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RecipientKind discriminates Recipient values.
type RecipientKind string

const (
	RecipientEmail RecipientKind = "email"
	RecipientUser  RecipientKind = "user"
	RecipientRole  RecipientKind = "role"
)

// Recipient is one addressing target on a rule.
//
// It is a tagged union: exactly one of the three payloads is meaningful,
// selected by the kind. Construct values through EmailRecipient,
// UserRecipient or RoleRecipient so a recipient can never carry
// contradictory data for its declared kind.
type Recipient struct {
	kind RecipientKind

	address string
	userID  uuid.UUID
	role    string
}

// EmailRecipient addresses a literal email address.
func EmailRecipient(address string) Recipient {
	return Recipient{kind: RecipientEmail, address: strings.TrimSpace(address)}
}

// UserRecipient addresses one directory user by id.
func UserRecipient(userID uuid.UUID) Recipient {
	return Recipient{kind: RecipientUser, userID: userID}
}

// RoleRecipient addresses every directory user currently holding a role.
func RoleRecipient(role string) Recipient {
	return Recipient{kind: RecipientRole, role: strings.TrimSpace(role)}
}

func (r Recipient) Kind() RecipientKind { return r.kind }

// Address returns the literal address for RecipientEmail values.
func (r Recipient) Address() (string, bool) {
	return r.address, r.kind == RecipientEmail
}

// UserID returns the directory user id for RecipientUser values.
func (r Recipient) UserID() (uuid.UUID, bool) {
	return r.userID, r.kind == RecipientUser
}

// Role returns the role name for RecipientRole values.
func (r Recipient) Role() (string, bool) {
	return r.role, r.kind == RecipientRole
}

// Value returns the payload in its string form, regardless of kind.
// Storage uses this as the single value column next to the kind column.
func (r Recipient) Value() string {
	switch r.kind {
	case RecipientEmail:
		return r.address
	case RecipientUser:
		return r.userID.String()
	case RecipientRole:
		return r.role
	}
	return ""
}

// DecodeRecipient rebuilds a Recipient from its stored (kind, value) pair.
func DecodeRecipient(kind, value string) (Recipient, error) {
	switch RecipientKind(kind) {
	case RecipientEmail:
		return EmailRecipient(value), nil
	case RecipientUser:
		id, err := uuid.Parse(value)
		if err != nil {
			return Recipient{}, fmt.Errorf("recipient: bad user id %q: %w", value, err)
		}
		return UserRecipient(id), nil
	case RecipientRole:
		return RoleRecipient(value), nil
	}
	return Recipient{}, fmt.Errorf("recipient: unknown kind %q", kind)
}

func (r Recipient) validate() error {
	switch r.kind {
	case RecipientEmail:
		if r.address == "" {
			return fmt.Errorf("email recipient: address required")
		}
	case RecipientUser:
		if r.userID == uuid.Nil {
			return fmt.Errorf("user recipient: user id required")
		}
	case RecipientRole:
		if r.role == "" {
			return fmt.Errorf("role recipient: role name required")
		}
	default:
		return fmt.Errorf("recipient: unknown kind %q", r.kind)
	}
	return nil
}
