package memory

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// EvictCallback is called for each learner removed by the sweeper.
type EvictCallback func(userID string)

// StartSweeper runs a background goroutine that periodically evicts learners
// idle longer than idleTTL. A non-positive idleTTL disables the sweeper.
func StartSweeper(ctx context.Context, s *Store, idleTTL, interval time.Duration, onEvict EvictCallback) {
	if idleTTL <= 0 {
		slog.Info("Memory sweeper disabled", "idle_ttl", idleTTL)
		return
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Memory sweeper started", "interval", interval, "idle_ttl", idleTTL)

		for {
			select {
			case <-ticker.C:
				sweepIdle(s, idleTTL, onEvict)
			case <-ctx.Done():
				slog.Info("Memory sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdle(s *Store, idleTTL time.Duration, onEvict EvictCallback) int {
	cutoff := s.now().Add(-idleTTL)
	evicted := s.EvictIdle(cutoff)
	if len(evicted) == 0 {
		return 0
	}

	for _, userID := range evicted {
		slog.Info("Memory sweeper evicted idle user", "user_id", userID)
		if onEvict != nil {
			onEvict(userID)
		}
	}
	slog.Info("Memory sweeper cleanup completed", "evicted", len(evicted))
	return len(evicted)
}
