// Package domain contains core domain types for the carebot application.
package domain

import (
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	// RoleInstruction carries the fixed behavioral prompt. Never displayed.
	RoleInstruction Role = "instruction"
	// RoleAssistant marks turns produced by the completion service or the greeting.
	RoleAssistant Role = "assistant"
	// RoleUser marks turns typed by the person chatting.
	RoleUser Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleInstruction, RoleAssistant, RoleUser:
		return true
	default:
		return false
	}
}

// Visible reports whether turns with this role may be shown to the user.
func (r Role) Visible() bool {
	return r != RoleInstruction
}

// Turn is one utterance in a transcript. Turns are append-only.
type Turn struct {
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LastTurn returns the final turn of a transcript and false when it is empty.
func LastTurn(turns []Turn) (Turn, bool) {
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}
