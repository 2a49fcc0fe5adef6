package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/quizstore"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/timer"
)

const hostID = "host-1"

type fixture struct {
	ctl       *lifecycle.Controller
	hub       *gateway.Hub
	url       string
	sessionID string
	srv       *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClock()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	tm := timer.NewCoordinator(timer.Config{Clock: clock})
	t.Cleanup(tm.StopAll)

	store := session.NewStore(session.Config{Clock: clock})
	quizzes := quizstore.NewMemory(domain.Quiz{
		ID: "capitals", Title: "Capitals", Status: domain.QuizStatusPublished,
		Questions: []domain.Question{
			{ID: "q1", Text: "France?", Type: domain.QuestionMultipleChoice, Points: 100,
				Answers: []domain.Answer{{Text: "Paris", Correct: true}, {Text: "Rome"}}},
			{ID: "q2", Text: "Italy?", Type: domain.QuestionMultipleChoice, Points: 100,
				Answers: []domain.Answer{{Text: "Paris"}, {Text: "Rome", Correct: true}}},
		},
	})

	ctl := lifecycle.NewController(lifecycle.Config{
		EventBus: eb,
		Store:    store,
		Timer:    tm,
		Quizzes:  quizzes,
		Clock:    clock,
	})
	lb := leaderboard.NewService(leaderboard.Config{EventBus: eb, Sessions: store, Clock: clock})
	hub := gateway.NewHub(gateway.Config{EventBus: eb, Controller: ctl, Leaderboard: lb})

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	s, err := ctl.CreateSession(context.Background(), lifecycle.CreateSessionRequest{QuizID: "capitals", HostID: hostID})
	require.NoError(t, err)

	return &fixture{
		ctl:       ctl,
		hub:       hub,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		sessionID: s.SessionID,
		srv:       srv,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := json.Marshal(gateway.Message{Event: event, Data: data})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

// expect reads frames until one named event arrives and decodes its data into out.
func expect(t *testing.T, ws *websocket.Conn, event string, out any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, b, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var env gateway.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func (f *fixture) joinHost(t *testing.T) *websocket.Conn {
	t.Helper()
	ws := dial(t, f.url)
	send(t, ws, gateway.EventJoinSession, gateway.JoinSession{SessionID: f.sessionID, HostID: hostID})

	var sj gateway.SessionJoined
	expect(t, ws, gateway.EventSessionJoined, &sj)
	require.True(t, sj.Host)
	return ws
}

func (f *fixture) joinParticipant(t *testing.T, name string) (*websocket.Conn, gateway.SessionJoined) {
	t.Helper()
	ws := dial(t, f.url)
	send(t, ws, gateway.EventJoinSession, gateway.JoinSession{SessionID: f.sessionID, Name: name})

	var sj gateway.SessionJoined
	expect(t, ws, gateway.EventSessionJoined, &sj)
	require.NotEmpty(t, sj.ParticipantID)
	return ws, sj
}

func TestHub_PlaysQuizOverWebsocket(t *testing.T) {
	f := setup(t)

	host := f.joinHost(t)
	alice, joined := f.joinParticipant(t, "alice")
	assert.Equal(t, "waiting", joined.Status)
	assert.Equal(t, 2, joined.QuizData.TotalQuestions)

	var pj gateway.ParticipantJoined
	expect(t, host, gateway.EventParticipantJoined, &pj)
	assert.Equal(t, joined.ParticipantID, pj.ParticipantID)
	assert.Equal(t, "alice", pj.ParticipantName)
	assert.Equal(t, 1, pj.ParticipantCount)

	send(t, alice, gateway.EventStartQuiz, nil)
	var e gateway.Error
	expect(t, alice, gateway.EventError, &e)
	assert.Equal(t, gateway.Error{Code: "forbidden", Message: e.Message, Event: gateway.EventStartQuiz}, e)

	send(t, host, gateway.EventStartQuiz, map[string]string{"sessionId": f.sessionID})
	var started gateway.StartQuiz
	expect(t, alice, gateway.EventStartQuiz, &started)
	assert.Equal(t, 0, started.QuestionData.Index)
	assert.Equal(t, []string{"Paris", "Rome"}, started.QuestionData.Options)
	assert.Equal(t, 30, started.QuestionData.TimeLimit)

	send(t, alice, gateway.EventSubmitAnswer, gateway.SubmitAnswer{QuestionIndex: 0, Answer: "Paris"})
	var ack gateway.AnswerSubmitted
	expect(t, alice, gateway.EventAnswerSubmitted, &ack)
	assert.Equal(t, gateway.AnswerSubmitted{SessionID: f.sessionID, QuestionIndex: 0, Correct: true, Points: 200, Score: 200}, ack)

	var us gateway.UpdateScore
	expect(t, host, gateway.EventUpdateScore, &us)
	assert.Equal(t, 200, us.Score)

	send(t, alice, gateway.EventSubmitAnswer, gateway.SubmitAnswer{QuestionIndex: 0, Answer: "Paris"})
	expect(t, alice, gateway.EventError, &e)
	assert.Equal(t, "duplicate_answer", e.Code)

	send(t, alice, gateway.EventRequestLeaderboard, gateway.RequestLeaderboard{Limit: 5})
	var lb gateway.Leaderboard
	expect(t, alice, gateway.EventLeaderboardUpdated, &lb)
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, gateway.LeaderboardEntry{Rank: 1, ParticipantID: joined.ParticipantID, Name: "alice", Score: 200, Connected: true, Answered: 1}, lb.Entries[0])

	send(t, host, gateway.EventChangeQuestion, nil)
	var cq gateway.ChangeQuestion
	expect(t, alice, gateway.EventChangeQuestion, &cq)
	assert.Equal(t, 1, cq.QuestionData.Index)

	send(t, host, gateway.EventEndQuiz, nil)
	var end gateway.EndQuiz
	expect(t, alice, gateway.EventEndQuiz, &end)
	require.Len(t, end.Results, 1)
	assert.Equal(t, 200, end.Results[0].Score)
}

func TestHub_DisconnectKeepsParticipant(t *testing.T) {
	f := setup(t)

	alice, joined := f.joinParticipant(t, "alice")
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		s, err := f.ctl.Session(context.Background(), f.sessionID)
		if err != nil {
			return false
		}
		p, ok := s.Participants[joined.ParticipantID]
		return ok && !p.Connected
	}, 2*time.Second, 10*time.Millisecond)

	again := dial(t, f.url)
	send(t, again, gateway.EventJoinSession, gateway.JoinSession{SessionID: f.sessionID, ParticipantID: joined.ParticipantID})

	var sj gateway.SessionJoined
	expect(t, again, gateway.EventSessionJoined, &sj)
	assert.True(t, sj.Reconnected)
	assert.Equal(t, joined.ParticipantID, sj.ParticipantID)
	assert.Equal(t, "alice", sj.Name)

	s, err := f.ctl.Session(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Len(t, s.Participants, 1)
	assert.True(t, s.Participants[joined.ParticipantID].Connected)
}

func TestHub_StaleConnCloseKeepsReconnectedParticipant(t *testing.T) {
	f := setup(t)

	host := f.joinHost(t)
	old, joined := f.joinParticipant(t, "ann")

	again := dial(t, f.url)
	send(t, again, gateway.EventJoinSession, gateway.JoinSession{SessionID: f.sessionID, ParticipantID: joined.ParticipantID})
	var sj gateway.SessionJoined
	expect(t, again, gateway.EventSessionJoined, &sj)
	require.True(t, sj.Reconnected)

	require.NoError(t, old.Close())
	require.Eventually(t, func() bool { return f.hub.RoomSize(f.sessionID) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Never(t, func() bool {
		s, err := f.ctl.Session(context.Background(), f.sessionID)
		return err != nil || !s.Participants[joined.ParticipantID].Connected
	}, 200*time.Millisecond, 10*time.Millisecond)

	// The newer connection still owns the participant, so closing it disconnects.
	require.NoError(t, again.Close())
	var left gateway.ParticipantLeft
	expect(t, host, gateway.EventParticipantLeft, &left)
	assert.Equal(t, joined.ParticipantID, left.ParticipantID)
	assert.False(t, left.Removed)
}

func TestHub_LeaveRemovesParticipant(t *testing.T) {
	f := setup(t)

	host := f.joinHost(t)
	alice, joined := f.joinParticipant(t, "alice")

	send(t, alice, gateway.EventLeaveSession, nil)

	var left gateway.ParticipantLeft
	expect(t, host, gateway.EventParticipantLeft, &left)
	assert.True(t, left.Removed)
	assert.Equal(t, joined.ParticipantID, left.ParticipantID)
	assert.Zero(t, left.ParticipantCount)

	send(t, alice, gateway.EventSubmitAnswer, gateway.SubmitAnswer{QuestionIndex: 0, Answer: "Paris"})
	var e gateway.Error
	expect(t, alice, gateway.EventError, &e)
	assert.Equal(t, "invalid_argument", e.Code, "a connection that left is no longer bound")
}

func TestHub_RejectsBadFrames(t *testing.T) {
	tests := map[string]struct {
		frame    string
		wantCode string
		wantName string
	}{
		"malformed json": {
			frame:    `{"event":`,
			wantCode: "invalid_argument",
		},
		"unknown event": {
			frame:    `{"event":"dance"}`,
			wantCode: "invalid_argument",
			wantName: "dance",
		},
		"answer before joining": {
			frame:    `{"event":"submit_answer","data":{"questionIndex":0,"answer":"Paris"}}`,
			wantCode: "invalid_argument",
			wantName: gateway.EventSubmitAnswer,
		},
		"join unknown session": {
			frame:    `{"event":"join_session","data":{"sessionId":"nope","name":"bob"}}`,
			wantCode: "not_found",
			wantName: gateway.EventJoinSession,
		},
		"join as an impostor host": {
			frame:    `{"event":"join_session","data":{"sessionId":"%s","hostId":"mallory"}}`,
			wantCode: "forbidden",
			wantName: gateway.EventJoinSession,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			ws := dial(t, f.url)

			frame := tt.frame
			if strings.Contains(frame, "%s") {
				frame = strings.Replace(frame, "%s", f.sessionID, 1)
			}
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))

			var e gateway.Error
			expect(t, ws, gateway.EventError, &e)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantName, e.Event)
		})
	}
}

func TestHub_Ping(t *testing.T) {
	f := setup(t)
	ws := dial(t, f.url)

	send(t, ws, gateway.EventPing, nil)
	var p gateway.Pong
	expect(t, ws, gateway.EventPong, &p)
	assert.NotZero(t, p.Timestamp)
}
