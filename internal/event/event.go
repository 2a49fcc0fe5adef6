package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize   = 10000
	defaultLaneBuffer = 1024
	defaultTimeout    = 30 * time.Second
)

type Event interface {
	Name() string
}

// Keyed events are delivered in publish order relative to other events with the same key.
type Keyed interface {
	Key() string
}

type Handler func(ctx context.Context, e Event) error

type task struct {
	ctx context.Context
	h   Handler
	e   Event
}

// Bus is an in-memory event bus. Unkeyed events are dispatched concurrently from a bounded
// pool; keyed events are dispatched by one goroutine per key.
type Bus struct {
	pool     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler

	lanesMu sync.Mutex
	lanes   map[string]chan task
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
		lanes:    make(map[string]chan task),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	k, keyed := e.(Keyed)
	for _, h := range b.handlers[e.Name()] {
		if keyed {
			b.enqueue(k.Key(), task{ctx: ctx, h: h, e: e})
			continue
		}
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		defer func() {
			<-b.pool
			b.wg.Done()
		}()

		run(ctx, h, e)
	}()
}

func (b *Bus) enqueue(key string, t task) {
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()

	lane, ok := b.lanes[key]
	if !ok {
		lane = make(chan task, defaultLaneBuffer)
		b.lanes[key] = lane
		go b.drain(lane)
	}

	b.wg.Add(1)
	lane <- t
}

func (b *Bus) drain(lane chan task) {
	for t := range lane {
		run(t.ctx, t.h, t.e)
		b.wg.Done()
	}
}

func run(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Release closes the lane of a key once its queued events are delivered. Publishing the key
// again opens a new lane.
func (b *Bus) Release(key string) {
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()

	if lane, ok := b.lanes[key]; ok {
		close(lane)
		delete(b.lanes, key)
	}
}

// Stop waits for all handlers to finish and closes every lane.
func (b *Bus) Stop() {
	b.wg.Wait()

	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()
	for key, lane := range b.lanes {
		close(lane)
		delete(b.lanes, key)
	}
}
