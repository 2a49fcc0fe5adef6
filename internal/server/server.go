package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

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

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Engine struct {
		// Session holds the defaults applied to unset fields of a host's session config.
		Session         domain.Config
		RevealDelay     time.Duration
		TickInterval    time.Duration
		TopN            int
		PublishInterval time.Duration
		Retention       time.Duration
		SweepInterval   time.Duration
	}

	Gateway struct {
		WriteTimeout   time.Duration
		ReadTimeout    time.Duration
		PingInterval   time.Duration
		MaxMessageSize int64
		SendBuffer     int
	}

	// Empty addrs disable the Redis-backed results archive and event mirror.
	Redis struct {
		Archive RedisConfig
		Pubsub  RedisConfig
	}

	// An empty addr serves quizzes from the seed file only.
	Postgres struct {
		Quiz PostgresConfig
	}

	Quiz struct {
		SeedFile string
	}

	CORS struct {
		AllowOrigins []string
	}
}

// DefaultConfig is the configuration overridden by the config file and the environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081

	c.Engine.Session = domain.DefaultConfig()
	c.Engine.RevealDelay = 2 * time.Second
	c.Engine.TickInterval = time.Second
	c.Engine.TopN = leaderboard.DefaultTopN
	c.Engine.PublishInterval = 200 * time.Millisecond
	c.Engine.Retention = 24 * time.Hour
	c.Engine.SweepInterval = time.Hour

	g := gateway.DefaultConfig()
	c.Gateway.WriteTimeout = g.WriteTimeout
	c.Gateway.ReadTimeout = g.ReadTimeout
	c.Gateway.PingInterval = g.PingInterval
	c.Gateway.MaxMessageSize = g.MaxMessageSize
	c.Gateway.SendBuffer = g.SendBuffer

	c.Redis.Archive.Prefix = "livequiz"
	c.Redis.Pubsub.Prefix = "livequiz"
	c.CORS.AllowOrigins = []string{"*"}
	return c
}

type Server struct {
	c Config

	eb    *event.Bus
	clock clockwork.Clock

	infra struct {
		redis struct {
			archive redis.UniversalClient
			pubsub  redis.UniversalClient
		}

		postgres struct {
			quiz *pgxpool.Pool
		}
	}

	service struct {
		quizzes     lifecycle.Quizzes
		sessions    *session.Store
		timer       *timer.Coordinator
		controller  *lifecycle.Controller
		leaderboard *leaderboard.Service
		hub         *gateway.Hub
	}

	http *http.Server
	grpc *grpc.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, clock: clockwork.NewRealClock()}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.archive, err = connect(s.c.Redis.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	c := s.c.Postgres.Quiz
	if c.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return fmt.Errorf("quiz: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("quiz: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("quiz: %w", err)
	}

	s.infra.postgres.quiz = db
	return nil
}

func (s *Server) initService() error {
	if err := s.initQuizzes(); err != nil {
		return fmt.Errorf("quizzes: %w", err)
	}

	s.service.sessions = session.NewStore(session.Config{
		Clock:    s.clock,
		Defaults: s.c.Engine.Session,
	})

	s.service.timer = timer.NewCoordinator(timer.Config{
		Clock:    s.clock,
		Interval: s.c.Engine.TickInterval,
	})

	s.service.controller = lifecycle.NewController(lifecycle.Config{
		EventBus:      s.eb,
		Store:         s.service.sessions,
		Timer:         s.service.timer,
		Quizzes:       s.service.quizzes,
		Clock:         s.clock,
		RevealDelay:   s.c.Engine.RevealDelay,
		Retention:     s.c.Engine.Retention,
		SweepInterval: s.c.Engine.SweepInterval,
	})

	lc := leaderboard.Config{
		EventBus:        s.eb,
		Sessions:        s.service.sessions,
		Prefix:          s.c.Redis.Archive.Prefix,
		TopN:            s.c.Engine.TopN,
		Retention:       s.c.Engine.Retention,
		PublishInterval: s.c.Engine.PublishInterval,
		Clock:           s.clock,
	}
	if s.infra.redis.archive != nil {
		lc.Redis = s.infra.redis.archive
	}
	s.service.leaderboard = leaderboard.NewService(lc)

	gc := gateway.Config{
		EventBus:       s.eb,
		Controller:     s.service.controller,
		Leaderboard:    s.service.leaderboard,
		WriteTimeout:   s.c.Gateway.WriteTimeout,
		ReadTimeout:    s.c.Gateway.ReadTimeout,
		PingInterval:   s.c.Gateway.PingInterval,
		MaxMessageSize: s.c.Gateway.MaxMessageSize,
		SendBuffer:     s.c.Gateway.SendBuffer,
		CheckOrigin:    s.checkOrigin,
	}
	s.service.hub = gateway.NewHub(gc)

	return nil
}

// initQuizzes serves quizzes from Postgres when configured, seeding it from the seed file,
// and from memory otherwise.
func (s *Server) initQuizzes() error {
	mem := quizstore.NewMemory()
	if f := s.c.Quiz.SeedFile; f != "" {
		n, err := mem.LoadFile(f)
		if err != nil {
			return err
		}
		slog.Info("server: quiz seed loaded", "file", f, "quizzes", n)
	}

	if s.infra.postgres.quiz == nil {
		s.service.quizzes = mem
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg := quizstore.NewPostgres(quizstore.PostgresConfig{DB: s.infra.postgres.quiz})
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	for _, q := range mem.All() {
		if err := pg.Put(ctx, q); err != nil {
			return err
		}
	}

	s.service.quizzes = pg
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origins := s.c.CORS.AllowOrigins
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	cc := cors.DefaultConfig()
	if slices.Contains(s.c.CORS.AllowOrigins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.c.CORS.AllowOrigins
	}
	cc.AddAllowHeaders(api.HeaderHostID)
	e.Use(cors.New(cc))

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	ac := api.Config{
		GRPC:         s.grpc,
		Router:       e,
		EventBus:     s.eb,
		Controller:   s.service.controller,
		Leaderboard:  s.service.leaderboard,
		Hub:          s.service.hub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.infra.redis.pubsub != nil {
		ac.Redis = s.infra.redis.pubsub
	}
	api.New(ac)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.service.controller.Run(ctx)
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.cancel()
	s.service.timer.StopAll()
	s.eb.Stop()

	if s.infra.redis.archive != nil {
		_ = s.infra.redis.archive.Close()
	}
	if s.infra.redis.pubsub != nil {
		_ = s.infra.redis.pubsub.Close()
	}
	if s.infra.postgres.quiz != nil {
		s.infra.postgres.quiz.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

// Handler exposes the HTTP surface, for tests driving the server in-process.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
