package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
)

type Config struct {
	GRPC        *grpc.Server
	Router      gin.IRouter
	EventBus    *event.Bus
	Controller  *lifecycle.Controller
	Leaderboard *leaderboard.Service
	Hub         *gateway.Hub
	// Redis mirrors room events to pub/sub channels. Optional.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	ctl *lifecycle.Controller
	ls  *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ctl:    c.Controller,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterSessionServiceServer(c.GRPC, a)
	}

	// HTTP APIs
	if c.Router != nil {
		a.registerRoutes(c.Router)
		if c.Hub != nil {
			c.Router.GET("/ws", gin.WrapH(c.Hub))
		}
	}

	// Register event handlers
	if a.redis != nil {
		for _, name := range gateway.RoomEvents {
			c.EventBus.Subscribe(name, a.PublishRoomEvent)
		}
	}

	return a
}
