package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/gateway"
)

type inbox struct {
	mu   sync.Mutex
	envs []gateway.Envelope
}

func (i *inbox) handle(env gateway.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
}

func (i *inbox) all(event string) []gateway.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []gateway.Envelope
	for _, env := range i.envs {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func TestClient_ReconnectsAsSameParticipant(t *testing.T) {
	f := setup(t)
	in := &inbox{}

	c := gateway.NewClient(gateway.ClientConfig{
		URL:       f.url,
		Join:      gateway.JoinSession{SessionID: f.sessionID, Name: "alice"},
		Handler:   in.handle,
		BaseDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(in.all(gateway.EventSessionJoined)) == 1 }, 2*time.Second, 5*time.Millisecond)
	first := c.ParticipantID()
	require.NotEmpty(t, first)

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return len(in.all(gateway.EventSessionJoined)) == 2 }, 2*time.Second, 5*time.Millisecond)

	var sj gateway.SessionJoined
	require.NoError(t, json.Unmarshal(in.all(gateway.EventSessionJoined)[1].Data, &sj))
	assert.True(t, sj.Reconnected)
	assert.Equal(t, first, sj.ParticipantID)

	s, err := f.ctl.Session(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Len(t, s.Participants, 1)

	require.NoError(t, c.Send(gateway.EventPing, nil))
	require.Eventually(t, func() bool { return len(in.all(gateway.EventPong)) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_ReportsConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	in := &inbox{}
	c := gateway.NewClient(gateway.ClientConfig{
		URL:         url,
		Join:        gateway.JoinSession{SessionID: "s1", Name: "alice"},
		Handler:     in.handle,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})

	err := c.Run(context.Background())
	require.Error(t, err)

	failed := in.all(gateway.EventConnectionFailed)
	require.Len(t, failed, 1)

	var cf gateway.ConnectionFailed
	require.NoError(t, json.Unmarshal(failed[0].Data, &cf))
	assert.Equal(t, 3, cf.Attempts)
	assert.NotEmpty(t, cf.Error)

	assert.ErrorIs(t, c.Send(gateway.EventPing, nil), gateway.ErrNotConnected)
}
