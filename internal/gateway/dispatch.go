package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/telemetry"
)

func (h *Hub) registerHandlers() {
	h.Handle(EventJoinSession, h.handleJoinSession)
	h.Handle(EventLeaveSession, h.handleLeaveSession)
	h.Handle(EventStartQuiz, h.hostCommand(h.ctl.Start))
	h.Handle(EventPauseQuiz, h.hostCommand(h.ctl.Pause))
	h.Handle(EventResumeQuiz, h.hostCommand(h.ctl.Resume))
	h.Handle(EventChangeQuestion, h.hostCommand(h.ctl.Advance))
	h.Handle(EventEndQuiz, h.hostCommand(func(ctx context.Context, sessionID, actorID string) error {
		_, err := h.ctl.End(ctx, sessionID, actorID)
		return err
	}))
	h.Handle(EventSubmitAnswer, h.handleSubmitAnswer)
	h.Handle(EventRequestLeaderboard, h.handleRequestLeaderboard)
	h.Handle(EventPing, h.handlePing)
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, env Envelope) {
	telemetry.GatewayMessages.WithLabelValues("in", env.Event).Inc()

	fn, ok := h.handlers[env.Event]
	if !ok {
		c.sendError(env.Event, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown event %q", env.Event)))
		return
	}

	if err := fn(ctx, c, env.Data); err != nil {
		e := errors.Convert(err)
		if e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "gateway: handle event failed", "conn", c.id, "event", env.Event, "error", err)
		}
		c.sendError(env.Event, e)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed payload: %v", err))
	}
	return v, nil
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

// boundTo returns the connection's binding, checking it against an optional session ID
// named in the payload.
func (c *Conn) boundTo(sessionID string) (binding, error) {
	b := c.binding()
	if !b.bound() {
		return b, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("join a session first"))
	}
	if sessionID != "" && sessionID != b.sessionID {
		return b, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("connection is bound to another session: %s", b.sessionID))
	}
	return b, nil
}

func (h *Hub) handleJoinSession(ctx context.Context, c *Conn, data json.RawMessage) error {
	req, err := decode[JoinSession](data)
	if err != nil {
		return err
	}
	if req.SessionID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("sessionId is required"))
	}

	if req.HostID != "" {
		return h.joinAsHost(ctx, c, req)
	}

	if prev := c.binding(); prev.bound() && (prev.sessionID != req.SessionID || prev.participantID != req.ParticipantID) {
		h.release(ctx, c)
	}

	res, err := h.ctl.Join(ctx, lifecycle.JoinRequest{
		SessionID:     req.SessionID,
		ParticipantID: req.ParticipantID,
		Name:          req.Name,
		OnJoined: func(participantID string) {
			h.claim(seat{sessionID: req.SessionID, participantID: participantID}, c)
		},
	})
	if err != nil {
		return err
	}

	c.bind(binding{sessionID: req.SessionID, participantID: res.Participant.ParticipantID})
	h.join(req.SessionID, c)

	sj := newSessionJoined(res.Session)
	sj.ParticipantID = res.Participant.ParticipantID
	sj.Name = res.Participant.Name
	sj.Score = res.Participant.Score
	sj.Reconnected = res.Reconnected
	c.Send(EventSessionJoined, sj)

	return nil
}

func (h *Hub) joinAsHost(ctx context.Context, c *Conn, req JoinSession) error {
	ok, err := h.ctl.IsHost(ctx, req.SessionID, req.HostID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.CodeForbidden, errors.WithMessagef("not the host of session %s", req.SessionID))
	}

	s, err := h.ctl.Session(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if prev := c.binding(); prev.bound() {
		h.release(ctx, c)
	}
	c.bind(binding{sessionID: req.SessionID, hostID: req.HostID})
	h.join(req.SessionID, c)

	sj := newSessionJoined(s)
	sj.Host = true
	c.Send(EventSessionJoined, sj)

	slog.InfoContext(ctx, "gateway: host joined", "conn", c.id, "session", req.SessionID)
	return nil
}

// release unbinds the connection and marks its participant disconnected.
func (h *Hub) release(ctx context.Context, c *Conn) {
	if b := c.unbind(); b.bound() {
		h.detach(ctx, c, b)
	}
}

func (h *Hub) handleLeaveSession(ctx context.Context, c *Conn, data json.RawMessage) error {
	ref, err := decode[sessionRef](data)
	if err != nil {
		return err
	}
	b, err := c.boundTo(ref.SessionID)
	if err != nil {
		return err
	}

	if b.participantID != "" {
		if err := h.ctl.Leave(ctx, b.sessionID, b.participantID); err != nil {
			return err
		}
	}

	c.unbind()
	h.leave(b.sessionID, c)
	h.disown(seat{sessionID: b.sessionID, participantID: b.participantID}, c)
	return nil
}

// hostCommand adapts a host-only controller operation to an inbound event.
func (h *Hub) hostCommand(op func(ctx context.Context, sessionID, actorID string) error) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		ref, err := decode[sessionRef](data)
		if err != nil {
			return err
		}
		b, err := c.boundTo(ref.SessionID)
		if err != nil {
			return err
		}
		if !b.host() {
			return errors.New(errors.CodeForbidden, errors.WithMessagef("only the host may do this: session=%s", b.sessionID))
		}

		return op(ctx, b.sessionID, b.hostID)
	}
}

func (h *Hub) handleSubmitAnswer(ctx context.Context, c *Conn, data json.RawMessage) error {
	req, err := decode[SubmitAnswer](data)
	if err != nil {
		return err
	}
	b, err := c.boundTo(req.SessionID)
	if err != nil {
		return err
	}
	if b.participantID == "" {
		return errors.New(errors.CodeForbidden, errors.WithMessagef("only participants may answer"))
	}
	if req.ParticipantID != "" && req.ParticipantID != b.participantID {
		return errors.New(errors.CodeForbidden, errors.WithMessagef("cannot answer for another participant"))
	}

	res, err := h.ctl.SubmitAnswer(ctx, lifecycle.SubmitAnswerRequest{
		SessionID:     b.sessionID,
		ParticipantID: b.participantID,
		QuestionIndex: req.QuestionIndex,
		Answer:        req.Answer,
	})
	if err != nil {
		return err
	}

	c.Send(EventAnswerSubmitted, AnswerSubmitted{
		SessionID:     b.sessionID,
		QuestionIndex: res.QuestionIndex,
		Correct:       res.Correct,
		Points:        res.Points,
		Score:         res.Score,
	})
	return nil
}

func (h *Hub) handleRequestLeaderboard(ctx context.Context, c *Conn, data json.RawMessage) error {
	req, err := decode[RequestLeaderboard](data)
	if err != nil {
		return err
	}
	b, err := c.boundTo(req.SessionID)
	if err != nil {
		return err
	}

	if !b.host() {
		s, err := h.ctl.Session(ctx, b.sessionID)
		if err != nil {
			return err
		}
		if !s.Config.ShowLeaderboard {
			return errors.New(errors.CodeForbidden, errors.WithMessagef("leaderboard is hidden for this session"))
		}
	}

	l, err := h.lb.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: b.sessionID, Limit: req.Limit})
	if err != nil {
		return err
	}

	c.Send(EventLeaderboardUpdated, Leaderboard{
		SessionID: l.SessionID,
		Entries:   newLeaderboardEntries(*l),
	})
	return nil
}

func (h *Hub) handlePing(_ context.Context, c *Conn, _ json.RawMessage) error {
	c.Send(EventPong, Pong{Timestamp: time.Now().UnixMilli()})
	return nil
}
