package session

import (
	"context"
	"log/slog"
	"time"
)

// CleanupCallback is called when a session is ended by the TTL worker.
type CleanupCallback func(userID, tabID string)

// StartTTLWorker runs a background goroutine that periodically ends sessions
// idle for longer than ttl.
func StartTTLWorker(ctx context.Context, mgr *Manager, interval, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSessions(ctx, mgr, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSessions(ctx context.Context, mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) int {
	expired := mgr.Expired(ttl)
	if len(expired) == 0 {
		return 0
	}

	slog.Info("TTL worker found expired sessions", "count", len(expired))

	cleaned := 0
	for _, sess := range expired {
		// Skip sessions with a reply in flight; they will be picked up next sweep.
		if !sess.TryBegin() {
			continue
		}
		if err := mgr.Reset(ctx, sess.UserID, sess.TabID); err != nil {
			slog.Warn("TTL worker failed to end session",
				"error", err,
				"user_id", sess.UserID,
				"session_id", sess.TabID)
			sess.End()
			continue
		}
		sess.End()

		if onCleanup != nil {
			onCleanup(sess.UserID, sess.TabID)
		}
		cleaned++
	}

	slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	return cleaned
}
