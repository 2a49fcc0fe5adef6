package api

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/gateway"
)

const maxConcurrent = 100

// PublishRoomEvent mirrors an outbound room event to the session's pub/sub channel. The
// final results are additionally delivered on each participant's own channel.
func (a *API) PublishRoomEvent(ctx context.Context, e event.Event) error {
	sessionID, msg, ok := gateway.FromEvent(e)
	if !ok {
		return nil
	}

	b, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", msg.Event, err)
	}

	if err := a.redis.Publish(ctx, a.sessionChannel(sessionID), b).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", msg.Event, err)
	}

	ended, ok := e.(domain.EventSessionEnded)
	if !ok {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range ended.Results.Entries {
		eg.Go(func() error {
			return a.redis.Publish(ctx, a.participantChannel(entry.ParticipantID), b).Err()
		})
	}

	return eg.Wait()
}

func (a *API) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, sessionID)
}

func (a *API) participantChannel(participantID string) string {
	return fmt.Sprintf("%s:participant:%s", a.prefix, participantID)
}
