package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionEnded       = "session.ended"
	EventNameSessionPaused      = "session.paused"
	EventNameSessionResumed     = "session.resumed"
	EventNameParticipantJoined  = "participant.joined"
	EventNameParticipantLeft    = "participant.left"
	EventNameQuestionChanged    = "question.changed"
	EventNameTimerUpdated       = "timer.updated"
	EventNameTimerExpired       = "timer.expired"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// Every event below is keyed by its session so the bus delivers one session's events in
// publish order.

type EventSessionStarted struct {
	SessionID string
	Quiz      QuizInfo
	Question  QuestionView
}

func (EventSessionStarted) Name() string  { return EventNameSessionStarted }
func (e EventSessionStarted) Key() string { return e.SessionID }

type EventSessionEnded struct {
	SessionID string
	Results   Leaderboard
}

func (EventSessionEnded) Name() string  { return EventNameSessionEnded }
func (e EventSessionEnded) Key() string { return e.SessionID }

type EventSessionPaused struct {
	SessionID string
	Remaining int
}

func (EventSessionPaused) Name() string  { return EventNameSessionPaused }
func (e EventSessionPaused) Key() string { return e.SessionID }

type EventSessionResumed struct {
	SessionID string
	Remaining int
}

func (EventSessionResumed) Name() string  { return EventNameSessionResumed }
func (e EventSessionResumed) Key() string { return e.SessionID }

type EventParticipantJoined struct {
	SessionID        string
	ParticipantID    string
	ParticipantName  string
	ParticipantCount int
	Reconnected      bool
}

func (EventParticipantJoined) Name() string  { return EventNameParticipantJoined }
func (e EventParticipantJoined) Key() string { return e.SessionID }

type EventParticipantLeft struct {
	SessionID        string
	ParticipantID    string
	Removed          bool
	ParticipantCount int
}

func (EventParticipantLeft) Name() string  { return EventNameParticipantLeft }
func (e EventParticipantLeft) Key() string { return e.SessionID }

type EventQuestionChanged struct {
	SessionID string
	Question  QuestionView
}

func (EventQuestionChanged) Name() string  { return EventNameQuestionChanged }
func (e EventQuestionChanged) Key() string { return e.SessionID }

type EventTimerUpdated struct {
	SessionID     string
	QuestionIndex int
	Remaining     int
	Total         int
}

func (EventTimerUpdated) Name() string  { return EventNameTimerUpdated }
func (e EventTimerUpdated) Key() string { return e.SessionID }

type EventTimerExpired struct {
	SessionID     string
	QuestionIndex int
}

func (EventTimerExpired) Name() string  { return EventNameTimerExpired }
func (e EventTimerExpired) Key() string { return e.SessionID }

type EventScoreUpdated struct {
	SessionID     string
	ParticipantID string
	QuestionIndex int
	Correct       bool
	Points        int
	Score         int
}

func (EventScoreUpdated) Name() string  { return EventNameScoreUpdated }
func (e EventScoreUpdated) Key() string { return e.SessionID }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string  { return EventNameLeaderboardUpdated }
func (e EventLeaderboardUpdated) Key() string { return e.Leaderboard.SessionID }

// QuizInfo is the quiz summary broadcast when a session starts.
type QuizInfo struct {
	QuizID         string `json:"quiz_id"`
	Title          string `json:"title"`
	TotalQuestions int    `json:"total_questions"`
}

// QuestionView is a question as shown to participants: answer correctness is stripped.
type QuestionView struct {
	Index          int          `json:"index"`
	TotalQuestions int          `json:"total_questions"`
	QuestionID     string       `json:"question_id"`
	Text           string       `json:"text"`
	Type           QuestionType `json:"type"`
	Points         int          `json:"points"`
	Options        []string     `json:"options,omitempty"`
	TimeLimit      int          `json:"time_limit"`
}

// NewQuestionView builds the participant-facing view of the session's current question.
func NewQuestionView(s *Session) QuestionView {
	q, _ := s.CurrentQuestion()
	v := QuestionView{
		Index:          s.CurrentQuestionIndex,
		TotalQuestions: len(s.Questions),
		QuestionID:     q.ID,
		Text:           q.Text,
		Type:           q.Type,
		Points:         q.Points,
		TimeLimit:      int(s.Config.QuestionTimeLimit.Seconds()),
	}
	if q.Type != QuestionShortAnswer {
		for _, a := range q.Answers {
			v.Options = append(v.Options, a.Text)
		}
	}
	return v
}
