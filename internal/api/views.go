package api

import (
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

type (
	ConfigView struct {
		MaxParticipants   int  `json:"max_participants"`
		QuestionTimeLimit int  `json:"question_time_limit"`
		ShuffleQuestions  bool `json:"shuffle_questions"`
		ShuffleAnswers    bool `json:"shuffle_answers"`
		AutoAdvance       bool `json:"auto_advance"`
		AllowLateJoin     bool `json:"allow_late_join"`
		ShowLeaderboard   bool `json:"show_leaderboard"`
	}

	ParticipantView struct {
		ParticipantID string    `json:"participant_id"`
		Name          string    `json:"name"`
		Connected     bool      `json:"connected"`
		Score         int       `json:"score"`
		Answered      int       `json:"answered"`
		JoinedAt      time.Time `json:"joined_at"`
	}

	// SessionView is a session as exposed to collaborators. Answer correctness never leaves
	// the engine.
	SessionView struct {
		SessionID            string               `json:"session_id"`
		QuizID               string               `json:"quiz_id"`
		Title                string               `json:"title"`
		HostID               string               `json:"host_id"`
		Status               domain.Status        `json:"status"`
		Config               ConfigView           `json:"config"`
		CurrentQuestionIndex int                  `json:"current_question_index"`
		TotalQuestions       int                  `json:"total_questions"`
		Question             *domain.QuestionView `json:"question,omitempty"`
		Remaining            int                  `json:"remaining"`
		Participants         []ParticipantView    `json:"participants"`
		CreatedAt            time.Time            `json:"created_at"`
		StartedAt            *time.Time           `json:"started_at,omitempty"`
		EndedAt              *time.Time           `json:"ended_at,omitempty"`
	}
)

func newParticipantView(p domain.Participant) ParticipantView {
	return ParticipantView{
		ParticipantID: p.ParticipantID,
		Name:          p.Name,
		Connected:     p.Connected,
		Score:         p.Score,
		Answered:      len(p.Answers),
		JoinedAt:      p.JoinedAt,
	}
}

func newSessionView(s *domain.Session) SessionView {
	v := SessionView{
		SessionID: s.SessionID,
		QuizID:    s.QuizID,
		Title:     s.Title,
		HostID:    s.HostID,
		Status:    s.Status,
		Config: ConfigView{
			MaxParticipants:   s.Config.MaxParticipants,
			QuestionTimeLimit: int(s.Config.QuestionTimeLimit / time.Second),
			ShuffleQuestions:  s.Config.ShuffleQuestions,
			ShuffleAnswers:    s.Config.ShuffleAnswers,
			AutoAdvance:       s.Config.AutoAdvance,
			AllowLateJoin:     s.Config.AllowLateJoin,
			ShowLeaderboard:   s.Config.ShowLeaderboard,
		},
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       len(s.Questions),
		Remaining:            int(s.Remaining / time.Second),
		Participants:         make([]ParticipantView, 0, len(s.Participants)),
		CreatedAt:            s.CreatedAt,
	}

	if s.Status == domain.StatusActive || s.Status == domain.StatusPaused {
		q := domain.NewQuestionView(s)
		v.Question = &q
	}
	if !s.StartedAt.IsZero() {
		v.StartedAt = &s.StartedAt
	}
	if !s.EndedAt.IsZero() {
		v.EndedAt = &s.EndedAt
	}
	for _, p := range s.OrderedParticipants() {
		v.Participants = append(v.Participants, newParticipantView(*p))
	}

	return v
}
