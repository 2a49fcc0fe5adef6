package session

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

type Config struct {
	Clock    clockwork.Clock
	Defaults domain.Config
	// Shuffle permutes question and answer order. Defaults to math/rand/v2.
	Shuffle func(n int, swap func(i, j int))
}

// Store is the canonical in-memory registry of sessions. Every mutation of a session runs
// under that session's own lock; different sessions never contend beyond the registry lookup.
type Store struct {
	clock    clockwork.Clock
	defaults domain.Config
	shuffle  func(n int, swap func(i, j int))

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu sync.Mutex
	s  *domain.Session
}

func NewStore(c Config) *Store {
	s := &Store{
		clock:    c.Clock,
		defaults: c.Defaults,
		shuffle:  c.Shuffle,
		sessions: make(map[string]*entry),
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.defaults == (domain.Config{}) {
		s.defaults = domain.DefaultConfig()
	}
	if s.shuffle == nil {
		s.shuffle = rand.Shuffle
	}

	return s
}

// Options carries the host's config choices; nil fields take the store defaults.
type Options struct {
	MaxParticipants   *int           `json:"max_participants,omitempty"`
	QuestionTimeLimit *time.Duration `json:"question_time_limit,omitempty"`
	ShuffleQuestions  *bool          `json:"shuffle_questions,omitempty"`
	ShuffleAnswers    *bool          `json:"shuffle_answers,omitempty"`
	AutoAdvance       *bool          `json:"auto_advance,omitempty"`
	AllowLateJoin     *bool          `json:"allow_late_join,omitempty"`
	ShowLeaderboard   *bool          `json:"show_leaderboard,omitempty"`
}

func (o Options) apply(c domain.Config) domain.Config {
	if o.MaxParticipants != nil && *o.MaxParticipants > 0 {
		c.MaxParticipants = *o.MaxParticipants
	}
	if o.QuestionTimeLimit != nil && *o.QuestionTimeLimit > 0 {
		c.QuestionTimeLimit = *o.QuestionTimeLimit
	}
	setBool(&c.ShuffleQuestions, o.ShuffleQuestions)
	setBool(&c.ShuffleAnswers, o.ShuffleAnswers)
	setBool(&c.AutoAdvance, o.AutoAdvance)
	setBool(&c.AllowLateJoin, o.AllowLateJoin)
	setBool(&c.ShowLeaderboard, o.ShowLeaderboard)
	return c
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

type CreateSessionRequest struct {
	Quiz    domain.Quiz
	HostID  string
	Options Options
}

// CreateSession registers a new waiting session built from a published quiz.
func (s *Store) CreateSession(req CreateSessionRequest) (*domain.Session, error) {
	if req.Quiz.Status != domain.QuizStatusPublished {
		return nil, errors.New(errors.CodeQuizNotPublished,
			errors.WithMessagef("quiz %s is not published: status=%q", req.Quiz.ID, req.Quiz.Status))
	}
	if len(req.Quiz.Questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz %s has no questions", req.Quiz.ID))
	}
	if strings.TrimSpace(req.HostID) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host id is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	cfg := req.Options.apply(s.defaults)
	ss := &domain.Session{
		SessionID:    id.String(),
		QuizID:       req.Quiz.ID,
		Title:        req.Quiz.Title,
		HostID:       req.HostID,
		Status:       domain.StatusWaiting,
		Config:       cfg,
		Questions:    copyQuestions(req.Quiz.Questions),
		Remaining:    cfg.QuestionTimeLimit,
		Participants: make(map[string]*domain.Participant),
		CreatedAt:    s.clock.Now(),
	}

	if cfg.ShuffleQuestions {
		s.shuffle(len(ss.Questions), func(i, j int) {
			ss.Questions[i], ss.Questions[j] = ss.Questions[j], ss.Questions[i]
		})
	}

	s.mu.Lock()
	s.sessions[ss.SessionID] = &entry{s: ss}
	s.mu.Unlock()

	return ss.Clone(), nil
}

func copyQuestions(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.Answers = append([]domain.Answer(nil), q.Answers...)
		out[i] = q
	}
	return out
}

// GetSession returns a snapshot of the session.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	var out *domain.Session
	err := s.Update(id, func(tx *Tx) error {
		out = tx.s.Clone()
		return nil
	})
	return out, err
}

// Update runs fn with exclusive access to one session.
func (s *Store) Update(id string, fn func(tx *Tx) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return fn(&Tx{s: e.s, clock: s.clock, shuffle: s.shuffle})
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: session=%s", id))
	}
	return e, nil
}

// IDs lists the registered session ids.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Delete drops a session with all of its participant and score state.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Purge deletes ended sessions whose end time is before cutoff and returns their ids.
func (s *Store) Purge(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []string
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := e.s.Status == domain.StatusEnded && e.s.EndedAt.Before(cutoff)
		e.mu.Unlock()

		if expired {
			delete(s.sessions, id)
			purged = append(purged, id)
		}
	}
	return purged
}

// ParticipantInput identifies a joining participant. An empty ID is generated.
type ParticipantInput struct {
	ID   string
	Name string
}

func (s *Store) AddParticipant(sessionID string, in ParticipantInput) (*domain.Participant, error) {
	var out *domain.Participant
	err := s.Update(sessionID, func(tx *Tx) error {
		p, err := tx.AddParticipant(in)
		if err != nil {
			return err
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

func (s *Store) RemoveParticipant(sessionID, participantID string) error {
	return s.Update(sessionID, func(tx *Tx) error {
		return tx.RemoveParticipant(participantID)
	})
}

func (s *Store) RecordAnswer(sessionID, participantID string, questionIndex int, answer string, ts time.Time) (domain.AnswerRecord, error) {
	var rec domain.AnswerRecord
	err := s.Update(sessionID, func(tx *Tx) (err error) {
		rec, err = tx.RecordAnswer(participantID, questionIndex, answer, ts)
		return err
	})
	return rec, err
}

func (s *Store) ApplyScoreDelta(sessionID, participantID string, delta int) (int, error) {
	var total int
	err := s.Update(sessionID, func(tx *Tx) (err error) {
		total, err = tx.ApplyScoreDelta(participantID, delta)
		return err
	})
	return total, err
}

func (s *Store) SetConnected(sessionID, participantID string, connected bool) error {
	return s.Update(sessionID, func(tx *Tx) error {
		return tx.SetConnected(participantID, connected)
	})
}
