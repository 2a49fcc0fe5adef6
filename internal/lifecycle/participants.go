package lifecycle

import (
	"context"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/session"
)

type JoinRequest struct {
	SessionID string
	// ParticipantID of a previous join reconnects that participant. Empty joins a new one.
	ParticipantID string
	Name          string
	// OnJoined runs under the session lock once the participant is joined, so it is ordered
	// against DisconnectIf conditions of the same session.
	OnJoined func(participantID string)
}

type JoinResult struct {
	Participant domain.Participant
	Session     *domain.Session
	Reconnected bool
}

// Join adds a participant, or marks a known participant connected again.
func (c *Controller) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	var res JoinResult
	err := c.store.Update(req.SessionID, func(tx *session.Tx) error {
		s := tx.Session()

		if p, ok := s.Participants[req.ParticipantID]; ok && req.ParticipantID != "" {
			p.Connected = true
			res.Reconnected = true
			res.Participant = *p
		} else {
			p, err := tx.AddParticipant(session.ParticipantInput{ID: req.ParticipantID, Name: req.Name})
			if err != nil {
				return err
			}
			res.Participant = *p
		}

		res.Session = s.Clone()
		c.eb.Publish(ctx, domain.EventParticipantJoined{
			SessionID:        s.SessionID,
			ParticipantID:    res.Participant.ParticipantID,
			ParticipantName:  res.Participant.Name,
			ParticipantCount: len(s.Participants),
			Reconnected:      res.Reconnected,
		})
		if req.OnJoined != nil {
			req.OnJoined(res.Participant.ParticipantID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Participant.Answers = nil
	slog.InfoContext(ctx, "lifecycle: participant joined",
		"session", req.SessionID, "participant", res.Participant.ParticipantID, "reconnected", res.Reconnected)

	return &res, nil
}

// Leave removes the participant with their score and answers.
func (c *Controller) Leave(ctx context.Context, sessionID, participantID string) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		if err := tx.RemoveParticipant(participantID); err != nil {
			return err
		}

		s := tx.Session()
		c.eb.Publish(ctx, domain.EventParticipantLeft{
			SessionID:        s.SessionID,
			ParticipantID:    participantID,
			Removed:          true,
			ParticipantCount: len(s.Participants),
		})

		slog.InfoContext(ctx, "lifecycle: participant left", "session", sessionID, "participant", participantID)
		return nil
	})
}

// Disconnect keeps the participant's score and answers so they can reconnect later.
func (c *Controller) Disconnect(ctx context.Context, sessionID, participantID string) error {
	return c.DisconnectIf(ctx, sessionID, participantID, nil)
}

// DisconnectIf marks the participant disconnected when cond, evaluated under the session lock,
// reports true. A nil cond always holds.
func (c *Controller) DisconnectIf(ctx context.Context, sessionID, participantID string, cond func() bool) error {
	return c.store.Update(sessionID, func(tx *session.Tx) error {
		p, err := tx.Participant(participantID)
		if err != nil {
			return err
		}
		if cond != nil && !cond() {
			return nil
		}
		if !p.Connected {
			return nil
		}
		p.Connected = false

		s := tx.Session()
		c.eb.Publish(ctx, domain.EventParticipantLeft{
			SessionID:        s.SessionID,
			ParticipantID:    participantID,
			ParticipantCount: len(s.Participants),
		})
		return nil
	})
}
