package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	defaultRetention       = 24 * time.Hour
)

type Sessions interface {
	GetSession(id string) (*domain.Session, error)
}

type Config struct {
	EventBus *event.Bus
	Sessions Sessions
	// Redis keeps the final results of ended sessions. Optional.
	Redis           redis.UniversalClient
	Prefix          string
	TopN            int
	Retention       time.Duration
	PublishInterval time.Duration
	Clock           clockwork.Clock
}

type Service struct {
	eb        *event.Bus
	sessions  Sessions
	redis     redis.UniversalClient
	prefix    string
	topN      int
	retention time.Duration
	interval  time.Duration
	clock     clockwork.Clock

	mu      sync.Mutex
	pending map[string]bool
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		sessions:  c.Sessions,
		redis:     c.Redis,
		prefix:    c.Prefix,
		topN:      c.TopN,
		retention: c.Retention,
		interval:  c.PublishInterval,
		clock:     c.Clock,
		pending:   make(map[string]bool),
	}

	if s.topN <= 0 {
		s.topN = DefaultTopN
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		s.schedulePublishLeaderboard(ctx, e.(domain.EventScoreUpdated).SessionID)
		return nil
	})

	s.eb.Subscribe(domain.EventNameParticipantJoined, func(ctx context.Context, e event.Event) error {
		s.schedulePublishLeaderboard(ctx, e.(domain.EventParticipantJoined).SessionID)
		return nil
	})

	s.eb.Subscribe(domain.EventNameParticipantLeft, func(ctx context.Context, e event.Event) error {
		if ev := e.(domain.EventParticipantLeft); ev.Removed {
			s.schedulePublishLeaderboard(ctx, ev.SessionID)
		}
		return nil
	})

	s.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return s.ArchiveResults(ctx, e.(domain.EventSessionEnded).Results)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
	// Limit caps the number of entries; zero uses the configured top-N, negative returns all.
	Limit int
}

// GetLeaderboard projects the live session, falling back to the archived results once the
// session has been purged.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit == 0 {
		limit = s.topN
	}

	ss, err := s.sessions.GetSession(req.SessionID)
	if err == nil {
		l := Project(ss, limit)
		return &l, nil
	}
	if !errors.HasCode(err, errors.CodeNotFound) {
		return nil, err
	}

	l, aerr := s.GetResults(ctx, req.SessionID)
	if aerr != nil {
		return nil, err
	}
	if limit > 0 && len(l.Entries) > limit {
		l.Entries = l.Entries[:limit]
	}
	return l, nil
}

// schedulePublishLeaderboard publishes the leaderboard changes after a certain interval.
// Score updates arriving within the interval are coalesced into one publish per session.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sessionID string) {
	s.mu.Lock()
	if s.pending[sessionID] {
		s.mu.Unlock()
		return
	}
	s.pending[sessionID] = true
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()

		if err := s.publishLeaderboard(ctx, sessionID); err != nil {
			slog.ErrorContext(ctx, "leaderboard: publish failed", "session", sessionID, "error", err)
		}
	})
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	ss, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	if !ss.Config.ShowLeaderboard {
		return nil
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: Project(ss, s.topN),
	})
	return nil
}

// ArchiveResults stores the final results of a session for the retention window.
func (s *Service) ArchiveResults(ctx context.Context, l domain.Leaderboard) error {
	if s.redis == nil {
		return nil
	}

	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	// TODO: retry on error
	if err := s.redis.Set(ctx, s.getResultsKey(l.SessionID), b, s.retention).Err(); err != nil {
		return fmt.Errorf("archive results: %w", err)
	}
	return nil
}

// GetResults returns the archived final results of a session.
func (s *Service) GetResults(ctx context.Context, sessionID string) (*domain.Leaderboard, error) {
	if s.redis == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("results not found: session=%s", sessionID))
	}

	b, err := s.redis.Get(ctx, s.getResultsKey(sessionID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("results not found: session=%s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}

	var l domain.Leaderboard
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &l, nil
}

func (s *Service) getResultsKey(session string) string {
	return fmt.Sprintf("%s:%s:results", s.prefix, session)
}
