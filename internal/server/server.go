package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/codeduel/internal/api"
	"github.com/victornm/codeduel/internal/archive"
	"github.com/victornm/codeduel/internal/challenge"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/leaderboard"
	"github.com/victornm/codeduel/internal/prize"
	"github.com/victornm/codeduel/internal/realtime"
	"github.com/victornm/codeduel/internal/room"
	"github.com/victornm/codeduel/internal/telemetry"
	"github.com/victornm/codeduel/internal/verify"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Room struct {
		// TTL is how long a room without connections is kept.
		TTL             time.Duration
		ReapInterval    time.Duration
		Resubmission    string
		StartPolicy     string
		AssignChallenge bool
		SendBuffer      int
	}

	Verify struct {
		Mode        string
		ExecutorURL string
		Timeout     time.Duration
		MaxAttempts int
	}

	Prize struct {
		// EntryFee is a decimal string.
		EntryFee string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Archive struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// DefaultConfig returns the configuration used for keys that are neither in the file nor in
// the environment.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"

	c.Room.TTL = 2 * time.Hour
	c.Room.ReapInterval = time.Minute
	c.Room.Resubmission = string(room.ResubmitOverwrite)
	c.Room.StartPolicy = string(room.StartWhenArmed)
	c.Room.SendBuffer = 64

	c.Verify.Mode = verify.ModeClient
	c.Verify.Timeout = 10 * time.Second
	c.Verify.MaxAttempts = 3

	c.Prize.EntryFee = "0"

	c.Redis.Leaderboard.Addrs = []string{"localhost:6379"}
	c.Redis.Leaderboard.Prefix = "codeduel"
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "codeduel"

	c.Postgres.Archive.Addr = "localhost:5432"
	c.Postgres.Archive.User = "postgres"
	c.Postgres.Archive.Name = "codeduel"

	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		rooms       *room.Registry
		coordinator *room.Coordinator
		leaderboard *leaderboard.Service
		archive     *archive.Service
		checker     realtime.Checker
	}

	api      *api.API
	realtime *realtime.Handler
	http     *http.Server
	grpc     *grpc.Server

	stopReaper context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

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
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	a := s.c.Postgres.Archive
	s.infra.postgres.archive, err = connect(a.Addr, a.User, a.Pass, a.Name)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	resubmit, err := room.ParseResubmitPolicy(s.c.Room.Resubmission)
	if err != nil {
		return err
	}

	start, err := room.ParseStartPolicy(s.c.Room.StartPolicy)
	if err != nil {
		return err
	}

	fee, err := decimal.NewFromString(s.c.Prize.EntryFee)
	if err != nil {
		return fmt.Errorf("prize: entry fee %q: %w", s.c.Prize.EntryFee, err)
	}

	s.service.checker, err = s.newChecker()
	if err != nil {
		return err
	}

	s.service.rooms = room.NewRegistry(room.RegistryConfig{
		TTL:      s.c.Room.TTL,
		EventBus: s.eb,
	})

	cc := room.Config{
		Registry:     s.service.rooms,
		EventBus:     s.eb,
		Settler:      prize.NewSettler(prize.Config{EntryFee: fee}),
		Resubmission: resubmit,
		Start:        start,
	}

	if s.c.Room.AssignChallenge {
		p, err := challenge.NewProvider()
		if err != nil {
			return err
		}
		cc.Challenges = p
	}

	s.service.coordinator = room.NewCoordinator(cc)

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.archive = archive.NewService(archive.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.archive,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.service.archive.Migrate(ctx)
}

func (s *Server) newChecker() (realtime.Checker, error) {
	var v verify.Verifier

	switch s.c.Verify.Mode {
	case verify.ModeClient, "":
		return nil, nil
	case verify.ModeHeuristic:
		v = verify.Heuristic{}
	case verify.ModeExecutor:
		if s.c.Verify.ExecutorURL == "" {
			return nil, fmt.Errorf("verify: executor mode requires an executor url")
		}
		v = verify.NewExecutor(verify.ExecutorConfig{URL: s.c.Verify.ExecutorURL})
	default:
		return nil, fmt.Errorf("verify: unknown mode %q", s.c.Verify.Mode)
	}

	return verify.NewRetrying(verify.RetryingConfig{
		Verifier:    v,
		MaxAttempts: s.c.Verify.MaxAttempts,
		Timeout:     s.c.Verify.Timeout,
	}), nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)

	s.realtime = realtime.NewHandler(realtime.Config{
		Coordinator: s.service.coordinator,
		Checker:     s.service.checker,
		SendBuffer:  s.c.Room.SendBuffer,
	})

	s.api = api.New(api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Rooms:        s.service.coordinator,
		Realtime:     s.realtime,
		Leaderboard:  s.service.leaderboard,
		Archive:      s.service.archive,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	reaperCtx, cancel := context.WithCancel(context.Background())
	s.stopReaper = cancel

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
		slog.InfoContext(ctx, "server: room reaper started", "ttl", s.c.Room.TTL, "interval", s.c.Room.ReapInterval)
		s.service.rooms.Run(reaperCtx, s.c.Room.ReapInterval)
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.api.Shutdown()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Hijacked WebSocket connections are not closed by http.Server.Shutdown.
	s.realtime.Shutdown()

	if s.stopReaper != nil {
		s.stopReaper()
	}

	s.eb.Stop()

	s.infra.postgres.archive.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
