package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Ludge/goal-gala-quiz-time/internal/api"
	"github.com/Ludge/goal-gala-quiz-time/internal/event"
	"github.com/Ludge/goal-gala-quiz-time/internal/feed"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/host"
	"github.com/Ludge/goal-gala-quiz-time/internal/question"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
	"github.com/Ludge/goal-gala-quiz-time/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Questions struct {
		// URL of the question-generation service. Empty means the built-in
		// fallback set is used for every game.
		URL string
	}

	Game struct {
		QuestionTime    time.Duration
		LeaderboardTime time.Duration
		PollInterval    time.Duration
		StuckTimeout    time.Duration
		QuestionCount   int
	}
}

func (c Config) timing() game.Timing {
	return game.Timing{
		QuestionTime:    c.Game.QuestionTime,
		LeaderboardTime: c.Game.LeaderboardTime,
		PollInterval:    c.Game.PollInterval,
		StuckTimeout:    c.Game.StuckTimeout,
		QuestionCount:   c.Game.QuestionCount,
	}.WithDefaults()
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store store.Store
	feed  *feed.Redis
	games *host.Registry

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initEngine()
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

// initEngine wires the sync engine: every store write raises a change event,
// the notifier fans those out over redis, and the host registry runs the
// game loops against the same store and feed.
func (s *Server) initEngine() {
	s.store = store.NewPublished(store.NewPostgres(s.infra.postgres), s.eb)
	s.feed = feed.NewRedis(s.infra.redis, s.c.Redis.Prefix)
	feed.NewNotifier(s.eb, s.feed)

	s.games = host.NewRegistry(
		s.store,
		s.feed,
		question.NewGenerator(s.c.Questions.URL),
		s.c.timing(),
	)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router: e,
		Store:  s.store,
		Games:  s.games,
		Timing: s.c.timing(),
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.games.Shutdown()
	s.eb.Stop()

	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
