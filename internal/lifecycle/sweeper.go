package lifecycle

import (
	"context"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Run sweeps stale sessions every sweep interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "lifecycle: sweeper started", "interval", c.sweepInterval, "retention", c.retention)

	for {
		select {
		case <-ctx.Done():
			c.timer.StopAll()
			return nil
		case <-ticker.Chan():
			c.Sweep(ctx)
		}
	}
}

// Sweep ends sessions that outlived the retention window without ending, and purges ended
// sessions older than the retention window. It returns the purged session IDs.
func (c *Controller) Sweep(ctx context.Context) []string {
	cutoff := c.clock.Now().Add(-c.retention)

	for _, id := range c.store.IDs() {
		err := c.store.Update(id, func(tx *session.Tx) error {
			s := tx.Session()
			if s.Status == domain.StatusEnded || !s.CreatedAt.Before(cutoff) {
				return nil
			}

			slog.InfoContext(ctx, "lifecycle: force ending stale session", "session", id, "created_at", s.CreatedAt)
			c.endLocked(ctx, tx)
			return nil
		})
		if err != nil {
			slog.DebugContext(ctx, "lifecycle: sweep skipped session", "session", id, "error", err)
		}
	}

	// Sessions ended above only become purgeable on a later sweep, so their results stay
	// readable for one more interval.
	purged := c.store.Purge(cutoff)
	for _, id := range purged {
		c.timer.Stop(id)
		c.eb.Release(id)
	}

	if len(purged) > 0 {
		telemetry.SessionsPurged.Add(float64(len(purged)))
		slog.InfoContext(ctx, "lifecycle: purged sessions", "count", len(purged))
	}

	return purged
}
