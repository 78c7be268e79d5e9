package commands

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/admin/internal/admin/dispatch"
	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/cli/config"
	"github.com/conduit-lang/admin/internal/demo"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/conduit-lang/admin/internal/web/cache"
	"github.com/conduit-lang/admin/internal/web/profiling"
	"github.com/conduit-lang/admin/internal/web/ratelimit"
	"github.com/conduit-lang/admin/internal/web/server"
	"github.com/conduit-lang/admin/internal/web/websocket"
)

// redisPrefix namespaces every key the admin writes to redis
const redisPrefix = "admin:"

// app holds what serve wires together from the configuration
type app struct {
	handler  http.Handler
	store    store.Store
	db       *sql.DB
	runner   *task.Runner
	users    *auth.Directory
	closers  []closer
	warnings []string
}

type closer struct {
	name string
	fn   server.ShutdownHook
}

type appOptions struct {
	// demo seeds the catalogue and falls back to the demo accounts
	demo bool
}

// onClose registers a shutdown step; steps run in reverse registration order
func (a *app) onClose(name string, fn server.ShutdownHook) {
	a.closers = append([]closer{{name: name, fn: fn}}, a.closers...)
}

// close runs the closers in order, used when wiring fails half way
func (a *app) close(ctx context.Context) {
	for _, c := range a.closers {
		c.fn(ctx)
	}
}

// newApp builds the store, cache, task runner, limiter and HTTP handler.
// Streams end when ctx is cancelled.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	var rdb *redis.Client
	if cfg.Cache.Backend == config.BackendRedis || cfg.Tasks.Backend == config.BackendRedis ||
		cfg.RateLimit.Backend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		a.onClose("redis", func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
	}

	st, err := openStore(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	a.store = st

	slotCache, err := openCache(ctx, cfg, rdb, a)
	if err != nil {
		return nil, err
	}

	graphOpts := []graph.Option{
		graph.WithCache(slotCache),
		graph.WithLogger(logger.Named("graph")),
		graph.WithPageSize(cfg.Pagination.PageSize),
	}
	progress, err := openTaskStore(ctx, cfg, rdb, a.db)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		a.runner = task.NewRunner(progress, logger.Named("tasks"))
		graphOpts = append(graphOpts, graph.WithTasks(a.runner))
	}

	reg := graph.NewRegistry(st, graphOpts...)
	if err := demo.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register catalogue: %w", err)
	}
	if opts.demo {
		if err := seedDemo(ctx, st); err != nil {
			return nil, err
		}
	}

	a.users, err = cfg.Directory()
	if err != nil {
		return nil, err
	}
	if opts.demo && len(cfg.Users) == 0 {
		if a.users, err = demo.Users(); err != nil {
			return nil, err
		}
	}

	secret := cfg.Auth.Secret
	if secret == "" {
		if secret, err = randomSecret(); err != nil {
			return nil, err
		}
		a.warnings = append(a.warnings, "auth.secret is empty: tokens are signed with a random key and expire on restart")
	}

	limiter, err := openLimiter(cfg, rdb, a)
	if err != nil {
		return nil, err
	}

	deps := server.Deps{
		Dispatcher: dispatch.New(reg, logger.Named("dispatch")),
		Auth:       auth.NewAuthService(secret, cfg.Auth.TokenTTL),
		Users:      a.users,
		Limiter:    limiter,
		Logger:     logger.Named("http"),
	}
	if cfg.Profiling.Enabled {
		deps.Profiling = &profiling.Config{Path: cfg.Profiling.Path}
	}
	if a.runner != nil {
		deps.Tasks = a.runner
		deps.Streams = websocket.NewUpgrader(ctx, nil, a.runner, logger.Named("ws"))
	}
	a.handler, err = server.NewHandler(deps)
	if err != nil {
		return nil, err
	}
	if a.runner != nil {
		// last registered, first run: tasks finish before their stores close
		a.onClose("tasks", a.waitTasks)
	}
	return a, nil
}

func (a *app) waitTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}

// openStore keeps records in memory unless database.url is set
func openStore(ctx context.Context, cfg *config.Config, a *app) (store.Store, error) {
	if cfg.Database.URL == "" {
		return store.NewMemoryStore(), nil
	}
	schemas, err := demo.Schemas()
	if err != nil {
		return nil, err
	}
	sqlStore, err := store.Open(cfg.Database.Driver, cfg.Database.URL, schemas)
	if err != nil {
		return nil, err
	}
	a.db = sqlStore.DB()
	a.onClose("database", func(context.Context) error { return sqlStore.Close() })

	// the server tunes and pings the pool; tables are needed before that
	if err := sqlStore.EnsureTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return sqlStore, nil
}

func openCache(ctx context.Context, cfg *config.Config, rdb *redis.Client, a *app) (cache.Cache, error) {
	cc := cache.Config{DefaultTTL: cfg.Cache.TTL, Prefix: redisPrefix + "cache:"}
	if cfg.Cache.Backend == config.BackendRedis {
		return cache.NewRedisCacheWithClient(rdb, cc), nil
	}
	c, err := cache.New(ctx, cfg.Cache.Backend, "", cc)
	if err != nil {
		return nil, err
	}
	if mc, ok := c.(*cache.MemoryCache); ok {
		a.onClose("cache", func(context.Context) error { return mc.Close() })
	}
	return c, nil
}

// openTaskStore returns nil when background tasks are disabled
func openTaskStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, db *sql.DB) (task.ProgressStore, error) {
	switch cfg.Tasks.Backend {
	case config.BackendMemory:
		return task.NewMemoryStore(cfg.Tasks.Retention), nil
	case config.BackendRedis:
		return task.NewRedisStore(rdb, redisPrefix, cfg.Tasks.Retention), nil
	case config.BackendSQL:
		if db == nil {
			return nil, fmt.Errorf("tasks.backend sql needs database.url")
		}
		s := task.NewSQLStore(db, cfg.Tasks.Retention)
		if err := s.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("failed to create task table: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// openLimiter returns an untyped nil when throttling is disabled
func openLimiter(cfg *config.Config, rdb *redis.Client, a *app) (ratelimit.Limiter, error) {
	rc := ratelimit.Config{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	switch cfg.RateLimit.Backend {
	case config.BackendMemory:
		l, err := ratelimit.NewMemoryLimiter(rc, time.Minute)
		if err != nil {
			return nil, err
		}
		a.onClose("ratelimit", func(context.Context) error { return l.Close() })
		return l, nil
	case config.BackendRedis:
		l, err := ratelimit.NewRedisLimiter(rdb, rc, redisPrefix+"ratelimit:")
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, nil
	}
}

// seedDemo inserts the demo catalogue into an empty store
func seedDemo(ctx context.Context, st store.Store) error {
	n, err := st.Count(ctx, "Author", store.Query{})
	if err != nil {
		return fmt.Errorf("failed to inspect catalogue: %w", err)
	}
	if n > 0 {
		return nil
	}
	return demo.Seed(ctx, st)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
