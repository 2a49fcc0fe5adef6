package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultInterval = time.Second

// Tick is delivered once per interval while a countdown runs. The last tick of a countdown
// has Expired set and Remaining zero.
type Tick struct {
	SessionID string
	Token     uint64
	Remaining time.Duration
	Total     time.Duration
	Expired   bool
}

type Handler func(t Tick)

type Config struct {
	Clock    clockwork.Clock
	Interval time.Duration
}

// Coordinator runs at most one countdown per session. Each countdown is identified by a
// token; handlers must drop ticks whose token is no longer current.
type Coordinator struct {
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	seq     uint64
	tasks   map[string]*task
	current map[string]uint64
	delayed map[string]clockwork.Timer
}

type task struct {
	token     uint64
	remaining time.Duration
	total     time.Duration
	ticker    clockwork.Ticker
	stop      chan struct{}
}

func NewCoordinator(c Config) *Coordinator {
	co := &Coordinator{
		clock:    c.Clock,
		interval: c.Interval,
		tasks:    make(map[string]*task),
		current:  make(map[string]uint64),
		delayed:  make(map[string]clockwork.Timer),
	}

	if co.clock == nil {
		co.clock = clockwork.NewRealClock()
	}
	if co.interval <= 0 {
		co.interval = defaultInterval
	}

	return co
}

// Start replaces any countdown or delayed action of the session with a new countdown from
// remaining and returns its token.
func (c *Coordinator) Start(sessionID string, remaining, total time.Duration, h Handler) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(sessionID)

	c.seq++
	t := &task{
		token:     c.seq,
		remaining: remaining,
		total:     total,
		ticker:    c.clock.NewTicker(c.interval),
		stop:      make(chan struct{}),
	}
	c.tasks[sessionID] = t
	c.current[sessionID] = t.token

	go c.run(sessionID, t, h)

	return t.token
}

func (c *Coordinator) run(sessionID string, t *task, h Handler) {
	defer t.ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.Chan():
		}

		c.mu.Lock()
		if c.tasks[sessionID] != t {
			c.mu.Unlock()
			return
		}

		t.remaining -= c.interval
		if t.remaining < 0 {
			t.remaining = 0
		}
		tick := Tick{
			SessionID: sessionID,
			Token:     t.token,
			Remaining: t.remaining,
			Total:     t.total,
			Expired:   t.remaining == 0,
		}
		if tick.Expired {
			delete(c.tasks, sessionID)
		}
		c.mu.Unlock()

		h(tick)

		if tick.Expired {
			return
		}
	}
}

// Stop cancels the session's countdown and delayed action. It returns the countdown's
// remaining time, zero for a countdown that expired but is still current, or false when the
// session had no countdown.
func (c *Coordinator) Stop(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopLocked(sessionID)
}

func (c *Coordinator) stopLocked(sessionID string) (time.Duration, bool) {
	if d, ok := c.delayed[sessionID]; ok {
		d.Stop()
		delete(c.delayed, sessionID)
	}

	_, counting := c.current[sessionID]
	delete(c.current, sessionID)

	t, ok := c.tasks[sessionID]
	if !ok {
		return 0, counting
	}

	delete(c.tasks, sessionID)
	close(t.stop)
	return t.remaining, true
}

// After runs fn once after d unless the session's timer is stopped or restarted first. fn
// receives the token current at scheduling time.
func (c *Coordinator) After(sessionID string, d time.Duration, fn func(token uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.delayed[sessionID]; ok {
		old.Stop()
	}

	token := c.current[sessionID]
	var tm clockwork.Timer
	tm = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		if c.delayed[sessionID] == tm {
			delete(c.delayed, sessionID)
		}
		c.mu.Unlock()

		fn(token)
	})
	c.delayed[sessionID] = tm
}

// IsCurrent reports whether token belongs to the session's latest countdown. An expired
// countdown stays current until the session's timer is stopped or restarted. Token zero is
// current while the session has no countdown.
func (c *Coordinator) IsCurrent(sessionID string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current[sessionID] == token
}

func (c *Coordinator) Remaining(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[sessionID]
	if !ok {
		return 0, false
	}
	return t.remaining, true
}

func (c *Coordinator) Running(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.tasks[sessionID]
	return ok
}

// StopAll cancels every countdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.tasks)+len(c.delayed))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	for id := range c.delayed {
		ids = append(ids, id)
	}
	for _, id := range ids {
		c.stopLocked(id)
	}
}
