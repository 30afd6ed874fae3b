package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repufi/logger"
)

const maxRefreshWorkers = 5

// RefreshFunc re-scores one user.
type RefreshFunc func(ctx context.Context, username string) error

// MonitorStaleScores starts a goroutine that periodically calls refresh for
// every tracked user whose latest score is older than maxAge. The returned
// channel is closed once the goroutine has stopped after ctx is done.
func (db *DB) MonitorStaleScores(ctx context.Context, interval, maxAge time.Duration, refresh RefreshFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.refreshStaleScores(ctx, time.Now().Add(-maxAge), refresh); err != nil {
					logger.Warn("Error refreshing stale scores", zap.Error(err))
				}
			}
		}
	}()
	return done
}

// refreshStaleScores runs refresh for each stale user, at most five at a
// time. A failing user does not stop the others; the first error is returned.
func (db *DB) refreshStaleScores(ctx context.Context, cutoff time.Time, refresh RefreshFunc) error {
	users, err := db.StaleUsers(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	logger.Info("Refreshing stale scores", zap.Int("count", len(users)))

	var g errgroup.Group
	g.SetLimit(maxRefreshWorkers)
	for _, user := range users {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := refresh(ctx, user.Username); err != nil {
				logger.Warn("Failed to refresh score",
					zap.String("username", user.Username),
					zap.Time("last_computed", user.LastComputed),
					zap.Error(err))
				return fmt.Errorf("error refreshing %s: %w", user.Username, err)
			}
			return nil
		})
	}
	return g.Wait()
}
