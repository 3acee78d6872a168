// Package completion sends transcripts to an external text-completion
// service and returns the generated reply.
package completion

import (
	"context"

	"github.com/ashureev/carebot/internal/domain"
)

// Client completes a transcript.
//
// Implementations must fail with *domain.AuthenticationError for a missing
// or rejected credential, and with *domain.ServiceError for any other remote
// failure. Each call performs at most one outbound request.
type Client interface {
	Complete(ctx context.Context, transcript []domain.Turn, credential string, opts domain.CompletionOptions) (string, error)
}
