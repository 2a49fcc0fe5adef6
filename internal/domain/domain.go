package domain

import (
	"time"
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionShortAnswer    QuestionType = "short-answer"
)

const QuizStatusPublished = "published"

// Quiz is the document handed over by the quiz store. The engine only reads it.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Status    string     `json:"status" yaml:"status"`
	Questions []Question `json:"questions" yaml:"questions"`
}

type Question struct {
	ID      string       `json:"id" yaml:"id"`
	Text    string       `json:"text" yaml:"text"`
	Type    QuestionType `json:"type" yaml:"type"`
	Points  int          `json:"points" yaml:"points"`
	Answers []Answer     `json:"answers" yaml:"answers"`
}

type Answer struct {
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Config holds the per-session knobs chosen by the host.
type Config struct {
	MaxParticipants   int           `json:"max_participants" mapstructure:"max_participants"`
	QuestionTimeLimit time.Duration `json:"question_time_limit" mapstructure:"question_time_limit"`
	ShuffleQuestions  bool          `json:"shuffle_questions" mapstructure:"shuffle_questions"`
	ShuffleAnswers    bool          `json:"shuffle_answers" mapstructure:"shuffle_answers"`
	AutoAdvance       bool          `json:"auto_advance" mapstructure:"auto_advance"`
	AllowLateJoin     bool          `json:"allow_late_join" mapstructure:"allow_late_join"`
	ShowLeaderboard   bool          `json:"show_leaderboard" mapstructure:"show_leaderboard"`
}

// DefaultConfig is the configuration used to fill unset fields of a host request.
func DefaultConfig() Config {
	return Config{
		MaxParticipants:   100,
		QuestionTimeLimit: 30 * time.Second,
		AutoAdvance:       true,
		AllowLateJoin:     true,
		ShowLeaderboard:   true,
	}
}

// Session represents one live run of a quiz.
type Session struct {
	SessionID string
	QuizID    string
	Title     string
	HostID    string
	Status    Status
	Config    Config

	// Questions is the session's own copy of the quiz questions, in play order.
	Questions []Question

	CurrentQuestionIndex     int
	CurrentQuestionStartTime time.Time
	// QuestionPausedFor accumulates time spent paused on the current question.
	QuestionPausedFor time.Duration
	PausedAt          time.Time
	// QuestionClosed is set once the current question's timer expired.
	QuestionClosed bool
	// Remaining is the timer's remaining-time counter for the current question.
	Remaining time.Duration

	Participants map[string]*Participant
	// JoinOrder lists participant ids in join order; used for stable ranking.
	JoinOrder []string

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Participant is owned by exactly one session. Score is the only source of truth for the
// participant's cumulative points; map-shaped views are derived from it.
type Participant struct {
	ParticipantID string
	Name          string
	Connected     bool
	Score         int
	Answers       map[int]AnswerRecord
	JoinedAt      time.Time
}

// AnswerRecord is immutable once written.
type AnswerRecord struct {
	QuestionIndex int
	Answer        string
	SubmittedAt   time.Time
	// ResponseTime is negative when the question start time is unknown.
	ResponseTime time.Duration
}

func (s *Session) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

func (s *Session) IsLastQuestion() bool {
	return s.CurrentQuestionIndex >= len(s.Questions)-1
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Answers = append([]Answer(nil), q.Answers...)
		c.Questions[i] = q
	}
	c.JoinOrder = append([]string(nil), s.JoinOrder...)
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		cp.Answers = make(map[int]AnswerRecord, len(p.Answers))
		for k, v := range p.Answers {
			cp.Answers[k] = v
		}
		c.Participants[id] = &cp
	}
	return &c
}

// OrderedParticipants returns the participants in join order.
func (s *Session) OrderedParticipants() []*Participant {
	out := make([]*Participant, 0, len(s.JoinOrder))
	for _, id := range s.JoinOrder {
		if p, ok := s.Participants[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Scores is the score map view, derived from the participants.
func (s *Session) Scores() map[string]int {
	m := make(map[string]int, len(s.Participants))
	for id, p := range s.Participants {
		m[id] = p.Score
	}
	return m
}

// Leaderboard represents a ranked, capped projection of a session's scores.
type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Connected     bool   `json:"connected"`
	Answered      int    `json:"answered"`
}

// Stats summarises a session for dashboards.
type Stats struct {
	SessionID            string `json:"session_id"`
	Status               Status `json:"status"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	TotalQuestions       int    `json:"total_questions"`
	Participants         int    `json:"participants"`
	Connected            int    `json:"connected"`
	AnswersForCurrent    int    `json:"answers_for_current"`
}
