package lifecycle

import (
	"context"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/timer"
)

// onTick applies countdown ticks to the session. Ticks from a replaced countdown are dropped.
func (c *Controller) onTick(ctx context.Context) timer.Handler {
	ctx = context.WithoutCancel(ctx)

	return func(t timer.Tick) {
		err := c.store.Update(t.SessionID, func(tx *session.Tx) error {
			if !c.timer.IsCurrent(t.SessionID, t.Token) {
				return nil
			}

			s := tx.Session()
			if s.Status != domain.StatusActive {
				return nil
			}

			s.Remaining = t.Remaining
			c.eb.Publish(ctx, domain.EventTimerUpdated{
				SessionID:     s.SessionID,
				QuestionIndex: s.CurrentQuestionIndex,
				Remaining:     seconds(t.Remaining),
				Total:         seconds(t.Total),
			})

			if t.Expired {
				c.closeQuestionLocked(ctx, s)
			}
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "lifecycle: drop timer tick", "session", t.SessionID, "error", err)
		}
	}
}

// closeQuestionLocked stops accepting answers for the current question.
func (c *Controller) closeQuestionLocked(ctx context.Context, s *domain.Session) {
	s.QuestionClosed = true
	c.eb.Publish(ctx, domain.EventTimerExpired{
		SessionID:     s.SessionID,
		QuestionIndex: s.CurrentQuestionIndex,
	})

	if s.Config.AutoAdvance {
		c.scheduleAdvanceLocked(ctx, s)
	}
}

// scheduleAdvanceLocked advances past the closed question after the reveal delay, unless the
// host moves the session on first.
func (c *Controller) scheduleAdvanceLocked(ctx context.Context, s *domain.Session) {
	id, index := s.SessionID, s.CurrentQuestionIndex

	c.timer.After(id, c.revealDelay, func(token uint64) {
		err := c.store.Update(id, func(tx *session.Tx) error {
			cur := tx.Session()
			if !c.timer.IsCurrent(id, token) {
				return nil
			}
			if cur.Status != domain.StatusActive || cur.CurrentQuestionIndex != index || !cur.QuestionClosed {
				return nil
			}

			c.advanceLocked(ctx, tx)
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "lifecycle: auto advance failed", "session", id, "error", err)
		}
	})
}
