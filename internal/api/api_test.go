package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/quizstore"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/timer"
)

const (
	hostID = "host-1"
	prefix = "livequiz"
)

type fixture struct {
	router *gin.Engine
	ctl    *lifecycle.Controller
	rdb    *redis.Client
	client *api.SessionServiceClient
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lb := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Sessions: store,
		Redis:    rdb,
		Prefix:   prefix,
		Clock:    clock,
	})

	router := gin.New()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(telemetry.GRPCServerInterceptor())

	api.New(api.Config{
		GRPC:         gs,
		Router:       router,
		EventBus:     eb,
		Controller:   ctl,
		Leaderboard:  lb,
		Redis:        rdb,
		PubsubPrefix: prefix,
	})

	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{
		router: router,
		ctl:    ctl,
		rdb:    rdb,
		client: api.NewSessionServiceClient(conn),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, host string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if host != "" {
		req.Header.Set(api.HeaderHostID, host)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *fixture) createSession(t *testing.T) api.SessionView {
	t.Helper()
	limit := 10
	w := f.do(t, http.MethodPost, "/api/sessions", api.CreateSessionRequest{
		QuizID: "capitals",
		HostID: hostID,
		Config: api.SessionOptions{QuestionTimeLimit: &limit},
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[api.SessionView](t, w)
}

func TestHTTP_PlaysSession(t *testing.T) {
	f := setup(t)

	s := f.createSession(t)
	assert.Equal(t, domain.StatusWaiting, s.Status)
	assert.Equal(t, 10, s.Config.QuestionTimeLimit)
	assert.Equal(t, 2, s.TotalQuestions)
	assert.Nil(t, s.Question)
	base := "/api/sessions/" + s.SessionID

	w := f.do(t, http.MethodPost, base+"/participants", api.JoinSessionRequest{Name: "alice"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	joined := decode[api.JoinSessionResponse](t, w)
	alice := joined.Participant.ParticipantID
	require.NotEmpty(t, alice)

	w = f.do(t, http.MethodPost, base+"/participants", api.JoinSessionRequest{ParticipantID: alice}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[api.JoinSessionResponse](t, w).Reconnected)

	w = f.do(t, http.MethodPost, base+"/start", nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, w).Error.Code)

	w = f.do(t, http.MethodPost, base+"/start", nil, hostID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	started := decode[api.SessionView](t, w)
	assert.Equal(t, domain.StatusActive, started.Status)
	require.NotNil(t, started.Question)
	assert.Equal(t, []string{"Paris", "Rome"}, started.Question.Options)
	assert.NotContains(t, w.Body.String(), "correct")

	w = f.do(t, http.MethodPost, base+"/answers", api.SubmitAnswerRequest{ParticipantID: alice, QuestionIndex: 0, Answer: "Paris"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, api.SubmitAnswerResponse{QuestionIndex: 0, Correct: true, Points: 200, Score: 200}, decode[api.SubmitAnswerResponse](t, w))

	w = f.do(t, http.MethodPost, base+"/answers", api.SubmitAnswerRequest{ParticipantID: alice, QuestionIndex: 0, Answer: "Rome"}, "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_answer", decode[errorBody](t, w).Error.Code)

	w = f.do(t, http.MethodGet, base+"/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.Stats{
		SessionID:            s.SessionID,
		Status:               domain.StatusActive,
		CurrentQuestionIndex: 0,
		TotalQuestions:       2,
		Participants:         1,
		Connected:            1,
		AnswersForCurrent:    1,
	}, decode[domain.Stats](t, w))

	w = f.do(t, http.MethodPost, base+"/pause", nil, hostID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusPaused, decode[api.SessionView](t, w).Status)

	w = f.do(t, http.MethodPost, base+"/resume", nil, hostID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusActive, decode[api.SessionView](t, w).Status)

	w = f.do(t, http.MethodPost, base+"/next", nil, hostID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[api.SessionView](t, w).CurrentQuestionIndex)

	w = f.do(t, http.MethodGet, base+"/leaderboard?limit=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	lb := decode[domain.Leaderboard](t, w)
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, 200, lb.Entries[0].Score)

	w = f.do(t, http.MethodPost, base+"/end", nil, hostID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	results := decode[domain.Leaderboard](t, w)
	require.Len(t, results.Entries, 1)
	assert.Equal(t, alice, results.Entries[0].ParticipantID)

	require.Eventually(t, func() bool {
		return f.do(t, http.MethodGet, base+"/results", nil, "").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	ended := decode[api.SessionView](t, w)
	assert.Equal(t, domain.StatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	w = f.do(t, http.MethodDelete, base+"/participants/"+alice, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHTTP_Errors(t *testing.T) {
	tests := map[string]struct {
		method     string
		path       string
		body       any
		host       string
		wantStatus int
		wantCode   string
	}{
		"unknown session": {
			method:     http.MethodGet,
			path:       "/api/sessions/nope",
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		"unknown quiz": {
			method:     http.MethodPost,
			path:       "/api/sessions",
			body:       api.CreateSessionRequest{QuizID: "nope", HostID: hostID},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		"malformed body": {
			method:     http.MethodPost,
			path:       "/api/sessions",
			body:       "quiz",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_argument",
		},
		"bad leaderboard limit": {
			method:     http.MethodGet,
			path:       "/api/sessions/{id}/leaderboard?limit=zero",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_argument",
		},
		"answer before start": {
			method:     http.MethodPost,
			path:       "/api/sessions/{id}/answers",
			body:       api.SubmitAnswerRequest{ParticipantID: "p1", Answer: "Paris"},
			wantStatus: http.StatusConflict,
			wantCode:   "session_not_active",
		},
		"resume while waiting": {
			method:     http.MethodPost,
			path:       "/api/sessions/{id}/resume",
			host:       hostID,
			wantStatus: http.StatusConflict,
			wantCode:   "not_paused",
		},
		"results before end": {
			method:     http.MethodGet,
			path:       "/api/sessions/{id}/results",
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			s := f.createSession(t)

			path := strings.Replace(tt.path, "{id}", s.SessionID, 1)
			w := f.do(t, tt.method, path, tt.body, tt.host)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[errorBody](t, w).Error.Code)
		})
	}
}

func TestGRPC_SessionService(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := f.createSession(t)
	res, err := f.ctl.Join(ctx, lifecycle.JoinRequest{SessionID: s.SessionID, Name: "alice"})
	require.NoError(t, err)

	got, err := f.client.GetSession(ctx, &api.GetSessionRequest{SessionID: s.SessionID})
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, got.Session.SessionID)
	require.Len(t, got.Session.Participants, 1)
	assert.Equal(t, "alice", got.Session.Participants[0].Name)

	stats, err := f.client.GetStats(ctx, &api.GetStatsRequest{SessionID: s.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stats.Participants)
	assert.Equal(t, domain.StatusWaiting, stats.Stats.Status)

	lb, err := f.client.GetLeaderboard(ctx, &api.GetLeaderboardRequest{SessionID: s.SessionID})
	require.NoError(t, err)
	require.Len(t, lb.Leaderboard.Entries, 1)
	assert.Equal(t, res.Participant.ParticipantID, lb.Leaderboard.Entries[0].ParticipantID)

	_, err = f.client.GetSession(ctx, &api.GetSessionRequest{SessionID: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPubsub_MirrorsRoomEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := f.createSession(t)

	ps := f.rdb.PSubscribe(ctx, prefix+":*")
	t.Cleanup(func() { _ = ps.Close() })
	_, err := ps.Receive(ctx)
	require.NoError(t, err)
	ch := ps.Channel()

	res, err := f.ctl.Join(ctx, lifecycle.JoinRequest{SessionID: s.SessionID, Name: "alice"})
	require.NoError(t, err)
	pid := res.Participant.ParticipantID

	channel, env := next(t, ch, gateway.EventParticipantJoined)
	assert.Equal(t, prefix+":session:"+s.SessionID, channel)

	var pj gateway.ParticipantJoined
	require.NoError(t, json.Unmarshal(env.Data, &pj))
	assert.Equal(t, pid, pj.ParticipantID)

	_, err = f.ctl.End(ctx, s.SessionID, hostID)
	require.NoError(t, err)

	got := map[string]bool{}
	for len(got) < 2 {
		channel, _ := next(t, ch, gateway.EventEndQuiz)
		got[channel] = true
	}
	assert.Equal(t, map[string]bool{
		prefix + ":session:" + s.SessionID: true,
		prefix + ":participant:" + pid:     true,
	}, got)
}

// next reads pub/sub messages until one carries the named event.
func next(t *testing.T, ch <-chan *redis.Message, event string) (string, gateway.Envelope) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			var env gateway.Envelope
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
			if env.Event == event {
				return msg.Channel, env
			}
		case <-timeout:
			t.Fatalf("no %s message", event)
		}
	}
}
