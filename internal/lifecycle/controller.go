package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/timer"
)

const (
	defaultRevealDelay   = 2 * time.Second
	defaultRetention     = 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Quizzes is the quiz store collaborator.
type Quizzes interface {
	GetQuizByID(ctx context.Context, id string) (*domain.Quiz, error)
}

type Config struct {
	EventBus *event.Bus
	Store    *session.Store
	Timer    *timer.Coordinator
	Quizzes  Quizzes
	Clock    clockwork.Clock

	// RevealDelay is the pause between a question's expiry and the automatic advance.
	RevealDelay   time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

// Controller drives the session state machine: waiting -> active <-> paused -> ended.
type Controller struct {
	eb      *event.Bus
	store   *session.Store
	timer   *timer.Coordinator
	quizzes Quizzes
	clock   clockwork.Clock

	revealDelay   time.Duration
	retention     time.Duration
	sweepInterval time.Duration
}

func NewController(c Config) *Controller {
	ctl := &Controller{
		eb:            c.EventBus,
		store:         c.Store,
		timer:         c.Timer,
		quizzes:       c.Quizzes,
		clock:         c.Clock,
		revealDelay:   c.RevealDelay,
		retention:     c.Retention,
		sweepInterval: c.SweepInterval,
	}

	if ctl.clock == nil {
		ctl.clock = clockwork.NewRealClock()
	}
	if ctl.revealDelay <= 0 {
		ctl.revealDelay = defaultRevealDelay
	}
	if ctl.retention <= 0 {
		ctl.retention = defaultRetention
	}
	if ctl.sweepInterval <= 0 {
		ctl.sweepInterval = defaultSweepInterval
	}

	return ctl
}

type CreateSessionRequest struct {
	QuizID  string
	HostID  string
	Options session.Options
}

// CreateSession creates a waiting session from a published quiz.
func (c *Controller) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	q, err := c.quizzes.GetQuizByID(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	ss, err := c.store.CreateSession(session.CreateSessionRequest{
		Quiz:    *q,
		HostID:  req.HostID,
		Options: req.Options,
	})
	if err != nil {
		return nil, err
	}

	telemetry.SessionsCreated.Inc()
	slog.InfoContext(ctx, "lifecycle: session created",
		"session", ss.SessionID, "quiz", ss.QuizID, "host", ss.HostID, "questions", len(ss.Questions))

	return ss, nil
}

func (c *Controller) Session(_ context.Context, id string) (*domain.Session, error) {
	return c.store.GetSession(id)
}

func (c *Controller) Stats(_ context.Context, id string) (*domain.Stats, error) {
	var st domain.Stats
	err := c.store.Update(id, func(tx *session.Tx) error {
		s := tx.Session()
		st = domain.Stats{
			SessionID:            s.SessionID,
			Status:               s.Status,
			CurrentQuestionIndex: s.CurrentQuestionIndex,
			TotalQuestions:       len(s.Questions),
			Participants:         len(s.Participants),
		}
		for _, p := range s.Participants {
			if p.Connected {
				st.Connected++
			}
			if _, ok := p.Answers[s.CurrentQuestionIndex]; ok && s.Status != domain.StatusWaiting {
				st.AnswersForCurrent++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// IsHost reports whether actorID is the host of the session.
func (c *Controller) IsHost(_ context.Context, sessionID, actorID string) (bool, error) {
	var ok bool
	err := c.store.Update(sessionID, func(tx *session.Tx) error {
		ok = actorID != "" && tx.Session().HostID == actorID
		return nil
	})
	return ok, err
}

func requireHost(s *domain.Session, actorID string) error {
	if actorID == "" || s.HostID != actorID {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("only the host may do this: session=%s", s.SessionID))
	}
	return nil
}

func sessionEnded(s *domain.Session) error {
	return errors.New(errors.CodeSessionEnded, errors.WithMessagef("session has ended: session=%s", s.SessionID))
}

// Start moves a waiting session to its first question. Starting a paused session resumes it.
func (c *Controller) Start(ctx context.Context, sessionID, actorID string) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		s := tx.Session()
		if err := requireHost(s, actorID); err != nil {
			return err
		}

		switch s.Status {
		case domain.StatusActive:
			return errors.New(errors.CodeAlreadyActive, errors.WithMessagef("session is already active: session=%s", s.SessionID))
		case domain.StatusEnded:
			return sessionEnded(s)
		case domain.StatusPaused:
			c.resumeLocked(ctx, tx)
			return nil
		}

		now := tx.Now()
		s.Status = domain.StatusActive
		s.StartedAt = now
		s.CurrentQuestionIndex = 0
		c.openQuestionLocked(ctx, tx, now)

		telemetry.SessionTransitions.WithLabelValues(string(domain.StatusActive)).Inc()
		c.eb.Publish(ctx, domain.EventSessionStarted{
			SessionID: s.SessionID,
			Quiz: domain.QuizInfo{
				QuizID:         s.QuizID,
				Title:          s.Title,
				TotalQuestions: len(s.Questions),
			},
			Question: domain.NewQuestionView(s),
		})

		slog.InfoContext(ctx, "lifecycle: session started", "session", s.SessionID, "participants", len(s.Participants))
		return nil
	})
}

// openQuestionLocked resets the question bookkeeping and starts a full countdown.
func (c *Controller) openQuestionLocked(ctx context.Context, tx *session.Tx, now time.Time) {
	s := tx.Session()
	s.CurrentQuestionStartTime = now
	s.QuestionPausedFor = 0
	s.QuestionClosed = false
	s.Remaining = s.Config.QuestionTimeLimit

	if s.Config.ShuffleAnswers {
		tx.ShuffleCurrentAnswers()
	}

	c.timer.Start(s.SessionID, s.Remaining, s.Config.QuestionTimeLimit, c.onTick(ctx))
}

// Pause stops the countdown without resetting it.
func (c *Controller) Pause(ctx context.Context, sessionID, actorID string) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		s := tx.Session()
		if err := requireHost(s, actorID); err != nil {
			return err
		}

		switch s.Status {
		case domain.StatusActive:
		case domain.StatusEnded:
			return sessionEnded(s)
		default:
			return errors.New(errors.CodeSessionNotActive,
				errors.WithMessagef("session is not active: session=%s, status=%s", s.SessionID, s.Status))
		}

		if remaining, ok := c.timer.Stop(s.SessionID); ok {
			s.Remaining = remaining
		}
		s.Status = domain.StatusPaused
		s.PausedAt = tx.Now()

		telemetry.SessionTransitions.WithLabelValues(string(domain.StatusPaused)).Inc()
		c.eb.Publish(ctx, domain.EventSessionPaused{
			SessionID: s.SessionID,
			Remaining: seconds(s.Remaining),
		})
		return nil
	})
}

// Resume restarts the countdown from where it was paused.
func (c *Controller) Resume(ctx context.Context, sessionID, actorID string) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		s := tx.Session()
		if err := requireHost(s, actorID); err != nil {
			return err
		}

		switch s.Status {
		case domain.StatusPaused:
		case domain.StatusEnded:
			return sessionEnded(s)
		default:
			return errors.New(errors.CodeNotPaused,
				errors.WithMessagef("session is not paused: session=%s, status=%s", s.SessionID, s.Status))
		}

		c.resumeLocked(ctx, tx)
		return nil
	})
}

func (c *Controller) resumeLocked(ctx context.Context, tx *session.Tx) {
	s := tx.Session()
	now := tx.Now()

	s.QuestionPausedFor += now.Sub(s.PausedAt)
	s.PausedAt = time.Time{}
	s.Status = domain.StatusActive

	switch {
	case s.QuestionClosed:
		if s.Config.AutoAdvance {
			c.scheduleAdvanceLocked(ctx, s)
		}
	case s.Remaining > 0:
		c.timer.Start(s.SessionID, s.Remaining, s.Config.QuestionTimeLimit, c.onTick(ctx))
	}

	telemetry.SessionTransitions.WithLabelValues(string(domain.StatusActive)).Inc()
	c.eb.Publish(ctx, domain.EventSessionResumed{
		SessionID: s.SessionID,
		Remaining: seconds(s.Remaining),
	})

	// Paused after the countdown ran out but before its last tick was applied.
	if !s.QuestionClosed && s.Remaining <= 0 {
		c.closeQuestionLocked(ctx, s)
	}
}

// Advance moves to the next question. On the last question it ends the session.
func (c *Controller) Advance(ctx context.Context, sessionID, actorID string) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		s := tx.Session()
		if err := requireHost(s, actorID); err != nil {
			return err
		}

		switch s.Status {
		case domain.StatusActive:
		case domain.StatusEnded:
			return sessionEnded(s)
		default:
			return errors.New(errors.CodeSessionNotActive,
				errors.WithMessagef("session is not active: session=%s, status=%s", s.SessionID, s.Status))
		}

		c.advanceLocked(ctx, tx)
		return nil
	})
}

func (c *Controller) advanceLocked(ctx context.Context, tx *session.Tx) {
	s := tx.Session()
	if s.IsLastQuestion() {
		c.endLocked(ctx, tx)
		return
	}

	s.CurrentQuestionIndex++
	c.openQuestionLocked(ctx, tx, tx.Now())

	c.eb.Publish(ctx, domain.EventQuestionChanged{
		SessionID: s.SessionID,
		Question:  domain.NewQuestionView(s),
	})

	slog.DebugContext(ctx, "lifecycle: question changed", "session", s.SessionID, "index", s.CurrentQuestionIndex)
}

// End finishes the session and returns the final results with every participant.
func (c *Controller) End(ctx context.Context, sessionID, actorID string) (*domain.Leaderboard, error) {
	var results domain.Leaderboard
	err := c.store.Update(sessionID, func(tx *session.Tx) error {
		s := tx.Session()
		if err := requireHost(s, actorID); err != nil {
			return err
		}
		if s.Status == domain.StatusEnded {
			return sessionEnded(s)
		}

		results = c.endLocked(ctx, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &results, nil
}

func (c *Controller) endLocked(ctx context.Context, tx *session.Tx) domain.Leaderboard {
	s := tx.Session()

	c.timer.Stop(s.SessionID)
	s.Status = domain.StatusEnded
	s.EndedAt = tx.Now()

	results := leaderboard.Project(s, -1)

	telemetry.SessionTransitions.WithLabelValues(string(domain.StatusEnded)).Inc()
	c.eb.Publish(ctx, domain.EventSessionEnded{
		SessionID: s.SessionID,
		Results:   results,
	})

	slog.InfoContext(ctx, "lifecycle: session ended", "session", s.SessionID, "participants", len(s.Participants))
	return results
}

func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
