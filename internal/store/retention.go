package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultRetentionInterval = time.Hour

// StartRetentionWorker periodically deletes intervention log entries older
// than ttl. A non-positive ttl disables the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	if ttl <= 0 {
		slog.Info("Intervention log retention disabled")
		return
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpired(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpired(ctx context.Context, repo Repository, ttl time.Duration) int64 {
	n, err := repo.CleanupOlderThan(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		slog.Error("Retention worker: cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Retention worker: removed expired interventions", "count", n, "ttl", ttl)
	}
	return n
}
