package gateway

import (
	"encoding/json"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

// Inbound event names.
const (
	EventJoinSession        = "join_session"
	EventLeaveSession       = "leave_session"
	EventStartQuiz          = "start_quiz"
	EventPauseQuiz          = "pause_quiz"
	EventResumeQuiz         = "resume_quiz"
	EventChangeQuestion     = "change_question"
	EventEndQuiz            = "end_quiz"
	EventSubmitAnswer       = "submit_answer"
	EventRequestLeaderboard = "request_leaderboard"
	EventPing               = "ping"
)

// Outbound event names. start_quiz, change_question and end_quiz share their inbound names.
const (
	EventUpdateTimer        = "update_timer"
	EventTimerExpired       = "timer_expired"
	EventUpdateScore        = "update_score"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventParticipantJoined  = "participant_joined"
	EventParticipantLeft    = "participant_left"
	EventQuizPaused         = "quiz_paused"
	EventQuizResumed        = "quiz_resumed"

	EventSessionJoined    = "session_joined"
	EventAnswerSubmitted  = "answer_submitted"
	EventError            = "error"
	EventPong             = "pong"
	EventConnectionFailed = "connection_failed"
)

// Envelope is a single frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame before encoding.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

type (
	JoinSession struct {
		SessionID     string `json:"sessionId"`
		ParticipantID string `json:"participantId,omitempty"`
		Name          string `json:"name,omitempty"`
		HostID        string `json:"hostId,omitempty"`
	}

	SubmitAnswer struct {
		SessionID     string `json:"sessionId,omitempty"`
		ParticipantID string `json:"participantId,omitempty"`
		QuestionIndex int    `json:"questionIndex"`
		Answer        string `json:"answer"`
		// Timestamp is the client's clock and is informational only.
		Timestamp int64 `json:"timestamp,omitempty"`
	}

	RequestLeaderboard struct {
		SessionID string `json:"sessionId,omitempty"`
		Limit     int    `json:"limit,omitempty"`
	}
)

type (
	QuizData struct {
		QuizID         string `json:"quizId"`
		Title          string `json:"title"`
		TotalQuestions int    `json:"totalQuestions"`
	}

	QuestionData struct {
		Index          int      `json:"index"`
		TotalQuestions int      `json:"totalQuestions"`
		QuestionID     string   `json:"questionId"`
		Text           string   `json:"text"`
		Type           string   `json:"type"`
		Points         int      `json:"points"`
		Options        []string `json:"options,omitempty"`
		TimeLimit      int      `json:"timeLimit"`
	}

	StartQuiz struct {
		SessionID    string       `json:"sessionId"`
		QuizData     QuizData     `json:"quizData"`
		QuestionData QuestionData `json:"questionData"`
	}

	ChangeQuestion struct {
		SessionID    string       `json:"sessionId"`
		QuestionData QuestionData `json:"questionData"`
	}

	UpdateTimer struct {
		SessionID     string `json:"sessionId"`
		QuestionIndex int    `json:"questionIndex"`
		Remaining     int    `json:"remaining"`
		Total         int    `json:"total"`
	}

	TimerExpired struct {
		SessionID     string `json:"sessionId"`
		QuestionIndex int    `json:"questionIndex"`
	}

	UpdateScore struct {
		SessionID     string `json:"sessionId"`
		ParticipantID string `json:"participantId"`
		Score         int    `json:"score"`
	}

	LeaderboardEntry struct {
		Rank          int    `json:"rank"`
		ParticipantID string `json:"participantId"`
		Name          string `json:"name"`
		Score         int    `json:"score"`
		Connected     bool   `json:"connected"`
		Answered      int    `json:"answered"`
	}

	Leaderboard struct {
		SessionID string             `json:"sessionId"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	ParticipantJoined struct {
		SessionID        string `json:"sessionId"`
		ParticipantID    string `json:"participantId"`
		ParticipantName  string `json:"name"`
		ParticipantCount int    `json:"participantCount"`
		Reconnected      bool   `json:"reconnected"`
	}

	ParticipantLeft struct {
		SessionID        string `json:"sessionId"`
		ParticipantID    string `json:"participantId"`
		ParticipantCount int    `json:"participantCount"`
		Removed          bool   `json:"removed"`
	}

	QuizPaused struct {
		SessionID string `json:"sessionId"`
		Remaining int    `json:"remaining"`
	}

	EndQuiz struct {
		SessionID string             `json:"sessionId"`
		Results   []LeaderboardEntry `json:"results"`
	}

	SessionJoined struct {
		SessionID     string        `json:"sessionId"`
		ParticipantID string        `json:"participantId,omitempty"`
		Name          string        `json:"name,omitempty"`
		Host          bool          `json:"host"`
		Reconnected   bool          `json:"reconnected"`
		Status        string        `json:"status"`
		Score         int           `json:"score"`
		QuizData      QuizData      `json:"quizData"`
		QuestionData  *QuestionData `json:"questionData,omitempty"`
		Remaining     int           `json:"remaining"`
	}

	AnswerSubmitted struct {
		SessionID     string `json:"sessionId"`
		QuestionIndex int    `json:"questionIndex"`
		Correct       bool   `json:"correct"`
		Points        int    `json:"points"`
		Score         int    `json:"score"`
	}

	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Event   string `json:"event,omitempty"`
	}

	Pong struct {
		Timestamp int64 `json:"timestamp"`
	}
)

func newQuestionData(v domain.QuestionView) QuestionData {
	return QuestionData{
		Index:          v.Index,
		TotalQuestions: v.TotalQuestions,
		QuestionID:     v.QuestionID,
		Text:           v.Text,
		Type:           string(v.Type),
		Points:         v.Points,
		Options:        v.Options,
		TimeLimit:      v.TimeLimit,
	}
}

func newLeaderboardEntries(l domain.Leaderboard) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, LeaderboardEntry{
			Rank:          e.Rank,
			ParticipantID: e.ParticipantID,
			Name:          e.Name,
			Score:         e.Score,
			Connected:     e.Connected,
			Answered:      e.Answered,
		})
	}
	return out
}

func newSessionJoined(s *domain.Session) SessionJoined {
	sj := SessionJoined{
		SessionID: s.SessionID,
		Status:    string(s.Status),
		QuizData: QuizData{
			QuizID:         s.QuizID,
			Title:          s.Title,
			TotalQuestions: len(s.Questions),
		},
		Remaining: int(s.Remaining / time.Second),
	}
	if s.Status == domain.StatusActive || s.Status == domain.StatusPaused {
		qd := newQuestionData(domain.NewQuestionView(s))
		sj.QuestionData = &qd
	}
	return sj
}

// RoomEvents are the domain events broadcast to a session's room.
var RoomEvents = []string{
	domain.EventNameSessionStarted,
	domain.EventNameSessionEnded,
	domain.EventNameSessionPaused,
	domain.EventNameSessionResumed,
	domain.EventNameParticipantJoined,
	domain.EventNameParticipantLeft,
	domain.EventNameQuestionChanged,
	domain.EventNameTimerUpdated,
	domain.EventNameTimerExpired,
	domain.EventNameScoreUpdated,
	domain.EventNameLeaderboardUpdated,
}

// FromEvent maps a domain event to the session it targets and its wire message.
func FromEvent(e event.Event) (string, Message, bool) {
	switch e := e.(type) {
	case domain.EventSessionStarted:
		return e.SessionID, Message{Event: EventStartQuiz, Data: StartQuiz{
			SessionID: e.SessionID,
			QuizData: QuizData{
				QuizID:         e.Quiz.QuizID,
				Title:          e.Quiz.Title,
				TotalQuestions: e.Quiz.TotalQuestions,
			},
			QuestionData: newQuestionData(e.Question),
		}}, true
	case domain.EventQuestionChanged:
		return e.SessionID, Message{Event: EventChangeQuestion, Data: ChangeQuestion{
			SessionID:    e.SessionID,
			QuestionData: newQuestionData(e.Question),
		}}, true
	case domain.EventTimerUpdated:
		return e.SessionID, Message{Event: EventUpdateTimer, Data: UpdateTimer(e)}, true
	case domain.EventTimerExpired:
		return e.SessionID, Message{Event: EventTimerExpired, Data: TimerExpired(e)}, true
	case domain.EventScoreUpdated:
		return e.SessionID, Message{Event: EventUpdateScore, Data: UpdateScore{
			SessionID:     e.SessionID,
			ParticipantID: e.ParticipantID,
			Score:         e.Score,
		}}, true
	case domain.EventLeaderboardUpdated:
		return e.Leaderboard.SessionID, Message{Event: EventLeaderboardUpdated, Data: Leaderboard{
			SessionID: e.Leaderboard.SessionID,
			Entries:   newLeaderboardEntries(e.Leaderboard),
		}}, true
	case domain.EventParticipantJoined:
		return e.SessionID, Message{Event: EventParticipantJoined, Data: ParticipantJoined(e)}, true
	case domain.EventParticipantLeft:
		return e.SessionID, Message{Event: EventParticipantLeft, Data: ParticipantLeft{
			SessionID:        e.SessionID,
			ParticipantID:    e.ParticipantID,
			ParticipantCount: e.ParticipantCount,
			Removed:          e.Removed,
		}}, true
	case domain.EventSessionPaused:
		return e.SessionID, Message{Event: EventQuizPaused, Data: QuizPaused(e)}, true
	case domain.EventSessionResumed:
		return e.SessionID, Message{Event: EventQuizResumed, Data: QuizPaused(e)}, true
	case domain.EventSessionEnded:
		return e.SessionID, Message{Event: EventEndQuiz, Data: EndQuiz{
			SessionID: e.SessionID,
			Results:   newLeaderboardEntries(e.Results),
		}}, true
	}
	return "", Message{}, false
}
