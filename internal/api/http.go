package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/session"
)

// HeaderHostID carries the caller's host identity on host-only routes.
const HeaderHostID = "X-Host-ID"

type (
	SessionOptions struct {
		MaxParticipants *int `json:"max_participants"`
		// QuestionTimeLimit is in seconds.
		QuestionTimeLimit *int  `json:"question_time_limit"`
		ShuffleQuestions  *bool `json:"shuffle_questions"`
		ShuffleAnswers    *bool `json:"shuffle_answers"`
		AutoAdvance       *bool `json:"auto_advance"`
		AllowLateJoin     *bool `json:"allow_late_join"`
		ShowLeaderboard   *bool `json:"show_leaderboard"`
	}

	CreateSessionRequest struct {
		QuizID string         `json:"quiz_id"`
		HostID string         `json:"host_id"`
		Config SessionOptions `json:"config"`
	}

	JoinSessionRequest struct {
		ParticipantID string `json:"participant_id"`
		Name          string `json:"name"`
	}

	JoinSessionResponse struct {
		Participant ParticipantView `json:"participant"`
		Session     SessionView     `json:"session"`
		Reconnected bool            `json:"reconnected"`
	}

	SubmitAnswerRequest struct {
		ParticipantID string `json:"participant_id"`
		QuestionIndex int    `json:"question_index"`
		Answer        string `json:"answer"`
	}

	SubmitAnswerResponse struct {
		QuestionIndex int  `json:"question_index"`
		Correct       bool `json:"correct"`
		Points        int  `json:"points"`
		Score         int  `json:"score"`
	}
)

func (o SessionOptions) options() session.Options {
	opts := session.Options{
		MaxParticipants:  o.MaxParticipants,
		ShuffleQuestions: o.ShuffleQuestions,
		ShuffleAnswers:   o.ShuffleAnswers,
		AutoAdvance:      o.AutoAdvance,
		AllowLateJoin:    o.AllowLateJoin,
		ShowLeaderboard:  o.ShowLeaderboard,
	}
	if o.QuestionTimeLimit != nil {
		d := time.Duration(*o.QuestionTimeLimit) * time.Second
		opts.QuestionTimeLimit = &d
	}
	return opts
}

func (a *API) registerRoutes(r gin.IRouter) {
	g := r.Group("/api/sessions")

	g.POST("", a.handleCreateSession)
	g.GET("/:id", a.handleGetSession)
	g.POST("/:id/start", a.hostCommand(a.ctl.Start))
	g.POST("/:id/pause", a.hostCommand(a.ctl.Pause))
	g.POST("/:id/resume", a.hostCommand(a.ctl.Resume))
	g.POST("/:id/next", a.hostCommand(a.ctl.Advance))
	g.POST("/:id/end", a.handleEndSession)
	g.POST("/:id/participants", a.handleJoinSession)
	g.DELETE("/:id/participants/:pid", a.handleLeaveSession)
	g.POST("/:id/answers", a.handleSubmitAnswer)
	g.GET("/:id/leaderboard", a.handleGetLeaderboard)
	g.GET("/:id/stats", a.handleGetStats)
	g.GET("/:id/results", a.handleGetResults)
}

func (a *API) handleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %v", err)))
		return
	}

	s, err := a.ctl.CreateSession(c.Request.Context(), lifecycle.CreateSessionRequest{
		QuizID:  req.QuizID,
		HostID:  req.HostID,
		Options: req.Config.options(),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSessionView(s))
}

func (a *API) handleGetSession(c *gin.Context) {
	s, err := a.ctl.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(s))
}

// hostCommand adapts a host-only transition to a route. The session is returned after the
// transition so callers observe its new status.
func (a *API) hostCommand(op func(ctx context.Context, sessionID, actorID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := op(c.Request.Context(), id, c.GetHeader(HeaderHostID)); err != nil {
			abort(c, err)
			return
		}

		s, err := a.ctl.Session(c.Request.Context(), id)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(s))
	}
}

func (a *API) handleEndSession(c *gin.Context) {
	l, err := a.ctl.End(c.Request.Context(), c.Param("id"), c.GetHeader(HeaderHostID))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) handleJoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %v", err)))
		return
	}

	res, err := a.ctl.Join(c.Request.Context(), lifecycle.JoinRequest{
		SessionID:     c.Param("id"),
		ParticipantID: req.ParticipantID,
		Name:          req.Name,
	})
	if err != nil {
		abort(c, err)
		return
	}

	status := http.StatusCreated
	if res.Reconnected {
		status = http.StatusOK
	}
	c.JSON(status, JoinSessionResponse{
		Participant: newParticipantView(res.Participant),
		Session:     newSessionView(res.Session),
		Reconnected: res.Reconnected,
	})
}

func (a *API) handleLeaveSession(c *gin.Context) {
	if err := a.ctl.Leave(c.Request.Context(), c.Param("id"), c.Param("pid")); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) handleSubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %v", err)))
		return
	}

	res, err := a.ctl.SubmitAnswer(c.Request.Context(), lifecycle.SubmitAnswerRequest{
		SessionID:     c.Param("id"),
		ParticipantID: req.ParticipantID,
		QuestionIndex: req.QuestionIndex,
		Answer:        req.Answer,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitAnswerResponse(*res))
}

func (a *API) handleGetLeaderboard(c *gin.Context) {
	var limit int
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit: %q", v)))
			return
		}
		limit = n
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
		Limit:     limit,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) handleGetStats(c *gin.Context) {
	st, err := a.ctl.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) handleGetResults(c *gin.Context) {
	l, err := a.ls.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
