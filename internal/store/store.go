// Package store provides transcript persistence interfaces and implementations.
//
// Transcripts only live as long as the process: backends are purged at
// startup and sessions are deleted when they end.
package store

import (
	"context"

	"github.com/ashureev/carebot/internal/domain"
)

// Repository defines the interface for storing session transcripts.
type Repository interface {
	// AppendTurn appends a turn to the transcript identified by key and
	// returns it with Seq and CreatedAt assigned.
	AppendTurn(ctx context.Context, key string, role domain.Role, content string) (domain.Turn, error)

	// ListTurns returns the whole transcript in insertion order.
	ListTurns(ctx context.Context, key string) ([]domain.Turn, error)

	// CountTurns returns the transcript length.
	CountTurns(ctx context.Context, key string) (int, error)

	// DeleteSession removes every turn of a transcript.
	DeleteSession(ctx context.Context, key string) error

	// Purge removes all transcripts and returns how many turns were deleted.
	Purge(ctx context.Context) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
