package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Tx is exclusive access to a single session, valid only inside Store.Update.
type Tx struct {
	s       *domain.Session
	clock   clockwork.Clock
	shuffle func(n int, swap func(i, j int))
}

// Session exposes the locked session. Callers must not retain it after Update returns.
func (tx *Tx) Session() *domain.Session {
	return tx.s
}

func (tx *Tx) Now() time.Time {
	return tx.clock.Now()
}

func (tx *Tx) AddParticipant(in ParticipantInput) (*domain.Participant, error) {
	s := tx.s

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant name is required"))
	}

	switch s.Status {
	case domain.StatusEnded:
		return nil, errors.New(errors.CodeSessionEnded, errors.WithMessagef("session has ended: session=%s", s.SessionID))
	case domain.StatusActive, domain.StatusPaused:
		if !s.Config.AllowLateJoin {
			return nil, errors.New(errors.CodeLateJoinForbidden,
				errors.WithMessagef("session already started and late join is disabled: session=%s", s.SessionID))
		}
	}

	if len(s.Participants) >= s.Config.MaxParticipants {
		return nil, errors.New(errors.CodeCapacityExceeded,
			errors.WithMessagef("session is full: session=%s, max=%d", s.SessionID, s.Config.MaxParticipants))
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.Participants[id]; exists {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("participant already joined: session=%s, participant=%s", s.SessionID, id))
	}

	p := &domain.Participant{
		ParticipantID: id,
		Name:          name,
		Connected:     true,
		Answers:       make(map[int]domain.AnswerRecord),
		JoinedAt:      tx.clock.Now(),
	}
	s.Participants[id] = p
	s.JoinOrder = append(s.JoinOrder, id)

	return p, nil
}

func (tx *Tx) Participant(id string) (*domain.Participant, error) {
	p, ok := tx.s.Participants[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not found: session=%s, participant=%s", tx.s.SessionID, id))
	}
	return p, nil
}

// RemoveParticipant deletes the participant together with its score and answers.
func (tx *Tx) RemoveParticipant(id string) error {
	if _, err := tx.Participant(id); err != nil {
		return err
	}

	delete(tx.s.Participants, id)
	for i, pid := range tx.s.JoinOrder {
		if pid == id {
			tx.s.JoinOrder = append(tx.s.JoinOrder[:i], tx.s.JoinOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ResponseTime is the time since the current question started, excluding paused time.
// It is negative when the start time is unknown.
func (tx *Tx) ResponseTime(ts time.Time) time.Duration {
	s := tx.s
	if s.CurrentQuestionStartTime.IsZero() {
		return -1
	}

	d := ts.Sub(s.CurrentQuestionStartTime) - s.QuestionPausedFor
	if d < 0 {
		return 0
	}
	return d
}

// RecordAnswer stores the first answer of a participant for a question. A second answer for
// the same question fails with CodeDuplicateAnswer and leaves the session untouched.
func (tx *Tx) RecordAnswer(participantID string, questionIndex int, answer string, ts time.Time) (domain.AnswerRecord, error) {
	s := tx.s

	switch s.Status {
	case domain.StatusActive:
	case domain.StatusEnded:
		return domain.AnswerRecord{}, errors.New(errors.CodeSessionEnded,
			errors.WithMessagef("session has ended: session=%s", s.SessionID))
	default:
		return domain.AnswerRecord{}, errors.New(errors.CodeSessionNotActive,
			errors.WithMessagef("session is not active: session=%s, status=%s", s.SessionID, s.Status))
	}

	if questionIndex < 0 || questionIndex >= len(s.Questions) {
		return domain.AnswerRecord{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question index out of range: %d", questionIndex))
	}

	p, err := tx.Participant(participantID)
	if err != nil {
		return domain.AnswerRecord{}, err
	}

	if _, dup := p.Answers[questionIndex]; dup {
		return domain.AnswerRecord{}, errors.New(errors.CodeDuplicateAnswer,
			errors.WithMessagef("answer is already submitted: session=%s, participant=%s, question=%d", s.SessionID, participantID, questionIndex))
	}

	rec := domain.AnswerRecord{
		QuestionIndex: questionIndex,
		Answer:        answer,
		SubmittedAt:   ts,
		ResponseTime:  tx.ResponseTime(ts),
	}
	p.Answers[questionIndex] = rec

	return rec, nil
}

// ApplyScoreDelta adds a non-negative delta to the participant's score and returns the total.
func (tx *Tx) ApplyScoreDelta(participantID string, delta int) (int, error) {
	if delta < 0 {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("score delta must not be negative: %d", delta))
	}

	p, err := tx.Participant(participantID)
	if err != nil {
		return 0, err
	}

	p.Score += delta
	return p.Score, nil
}

func (tx *Tx) SetConnected(participantID string, connected bool) error {
	p, err := tx.Participant(participantID)
	if err != nil {
		return err
	}

	p.Connected = connected
	return nil
}

// ShuffleCurrentAnswers permutes the answer order of the current question in place.
func (tx *Tx) ShuffleCurrentAnswers() {
	s := tx.s
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return
	}

	answers := s.Questions[s.CurrentQuestionIndex].Answers
	tx.shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})
}
