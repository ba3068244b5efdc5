// Package app wires the notesync server runtime: config, logging, storage, HTTP routes,
// the realtime gateway and the idle-room sweeper.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"notesync/cmd/internal/notes"
	"notesync/cmd/internal/realtime"
	"notesync/cmd/security/password"
)

// App is the notesync server runtime. It owns the storage clients and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	rdb   *redis.Client
	store notes.Store

	engine  *realtime.Engine
	ws      *realtime.WSGateway
	sweeper *realtime.Sweeper

	promReg     *prometheus.Registry
	httpMetrics *httpMetrics
	readiness   []readinessCheck

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg)
	}

	hasher, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	box, err := ContentBox(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		promReg: prometheus.NewRegistry(),
	}
	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.httpMetrics = newHTTPMetrics(a.promReg)

	ctx := context.Background()
	store, err := a.openStore(ctx, hasher)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.RedisURL != "" {
		store, err = a.openPresence(ctx, store)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.store = notes.WithSealing(store, box)

	reg := realtime.NewRegistry()
	opts := append(cfg.engineOptions(), realtime.WithMetrics(realtime.NewMetrics(a.promReg, reg)))
	a.engine = realtime.NewEngine(log, a.store, reg, opts...)
	a.ws = realtime.NewWSGateway(log, a.engine, cfg.gatewayConfig())
	a.sweeper = realtime.NewSweeper(log, a.engine, cfg.SweepSchedule)
	a.handler = a.routes()

	return a, nil
}

// openStore picks Postgres when a database URL is configured and the in-memory store otherwise.
func (a *App) openStore(ctx context.Context, hasher notes.PasswordHasher) (notes.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return notes.NewInMemoryStore(hasher), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	// The app owns the pool; PostgresStore.Close is a no-op.
	pg, err := notes.NewPostgresStore(pool, hasher, notes.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, err
	}
	if a.cfg.DBAutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	a.readiness = append(a.readiness, readinessCheck{
		name:  "db",
		check: func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) },
	})
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.DBAutoMigrate)
	return pg, nil
}

// openPresence layers the Redis presence store over base.
func (a *App) openPresence(ctx context.Context, base notes.Store) (notes.Store, error) {
	rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb

	presence, err := notes.NewRedisPresenceStore(rdb, notes.WithPresenceTTL(a.cfg.PresenceTTL))
	if err != nil {
		return nil, err
	}

	a.readiness = append(a.readiness, readinessCheck{
		name:  "redis",
		check: func(ctx context.Context) error { return PingRedis(ctx, rdb, 2*time.Second) },
	})
	a.log.Info("redis.enabled.presence_store")
	return notes.WithPresence(base, presence), nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the sweeper and blocks until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	// Hijacked WebSocket connections are not tracked by Shutdown; cancelling the base
	// context ends their read loops.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	if err := a.sweeper.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		base, ws := listenURLs(a.cfg.HTTPAddr)
		a.log.Info("server.start",
			"addr", a.cfg.HTTPAddr,
			"base_url", base,
			"ws_url", ws,
			"db_enabled", a.pool != nil,
			"redis_enabled", a.rdb != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		a.sweeper.Stop(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases storage clients. It is safe to call more than once.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.store = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// listenURLs returns the local HTTP base and websocket endpoint for a listen address.
func listenURLs(addr string) (base, ws string) {
	base = runtimeBaseURL(addr)
	return base, wsBaseURL(base) + "/ws"
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) form.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
