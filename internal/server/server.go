// Package server hosts the coordination engine in a long-running process:
// infra wiring (postgres, redis change bus, local persistence), controller
// construction per membership, and an HTTP surface that exposes only
// operational endpoints. The engine itself is not a network API.
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

	"github.com/victornm/liveclass/internal/event"
	"github.com/victornm/liveclass/internal/persist"
	"github.com/victornm/liveclass/internal/presence"
	"github.com/victornm/liveclass/internal/store"
	"github.com/victornm/liveclass/internal/student"
	"github.com/victornm/liveclass/internal/teacher"
	"github.com/victornm/liveclass/internal/telemetry"
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

	Persist struct {
		// Path of the local sqlite state file. Empty disables reconnection
		// persistence.
		Path string
	}

	Heartbeat struct {
		// Interval in seconds. Zero means the default.
		IntervalSeconds int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		persist  persist.Adapter
	}

	engine struct {
		store    store.Store
		presence *presence.Tracker
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initEngine()
	s.initHTTP()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initPersist(); err != nil {
		return fmt.Errorf("persist: %w", err)
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

	if err := store.EnsureSchema(ctx, db); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initPersist() error {
	if s.c.Persist.Path == "" {
		s.infra.persist = persist.Noop{}
		return nil
	}

	a, err := persist.OpenSQLite(s.c.Persist.Path)
	if err != nil {
		return err
	}

	s.infra.persist = a
	return nil
}

func (s *Server) initEngine() {
	bus := store.NewRedisBus(s.infra.redis, s.c.Redis.Prefix)
	s.engine.store = store.NewPostgres(s.infra.postgres, bus)

	interval := time.Duration(s.c.Heartbeat.IntervalSeconds) * time.Second
	s.engine.presence = presence.NewTracker(presence.Config{
		Store:    s.engine.store,
		Interval: interval,
	})
}

func (s *Server) initHTTP() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Bus is the reactive-state surface callers subscribe to for domain events.
func (s *Server) Bus() *event.Bus {
	return s.eb
}

// Teacher constructs the lifecycle controller for one teacher membership.
func (s *Server) Teacher(teacherID, lessonID string) *teacher.Controller {
	return teacher.NewController(teacher.Config{
		TeacherID: teacherID,
		LessonID:  lessonID,
		Store:     s.engine.store,
		Persist:   s.infra.persist,
		Bus:       s.eb,
		Presence:  s.engine.presence,
	})
}

// Student constructs the membership controller for one student identity.
func (s *Server) Student(studentIdentifier string) *student.Controller {
	return student.NewController(student.Config{
		StudentIdentifier: studentIdentifier,
		Store:             s.engine.store,
		Persist:           s.infra.persist,
		Bus:               s.eb,
		Presence:          s.engine.presence,
	})
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	if closer, ok := s.infra.persist.(*persist.SQLite); ok {
		if err := closer.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close persist failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
