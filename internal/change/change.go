// ABOUTME: Shared form-change vocabulary used across router, relay, and store
// ABOUTME: Defines the change types and the wire-level Event payload

package change

import (
	"fmt"
	"time"
)

// Type categorizes a form change.
type Type string

const (
	TypeCreated Type = "created"
	TypeUpdated Type = "updated"
	TypeDeleted Type = "deleted"
)

// Valid reports whether t is one of the known change types.
func (t Type) Valid() bool {
	switch t {
	case TypeCreated, TypeUpdated, TypeDeleted:
		return true
	}
	return false
}

// Parse converts a string into a Type, rejecting unknown values.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown change type %q", s)
	}
	return t, nil
}

// Event is one form change as it travels between processes and into the
// ledger. Payload carries the most recent form document for created/updated
// events and is nil for deletions.
type Event struct {
	FormID    string    `json:"formId"`
	Type      Type      `json:"changeType"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
