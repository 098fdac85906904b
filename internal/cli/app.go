package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mvariant/internal/adapters/memory"
	"github.com/emiliopalmerini/mvariant/internal/adapters/otel"
	"github.com/emiliopalmerini/mvariant/internal/adapters/redislock"
	"github.com/emiliopalmerini/mvariant/internal/adapters/turso"
	"github.com/emiliopalmerini/mvariant/internal/config"
	"github.com/emiliopalmerini/mvariant/internal/experiment"
	"github.com/emiliopalmerini/mvariant/internal/logger"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

// AppContext holds all shared dependencies for CLI commands.
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Store    *turso.Store
	Service  *experiment.Service
	exporter ports.MetricsExporter
	redis    *redislock.Locker
}

// NewAppContext connects to the database and wires the service. Telemetry
// and the Redis lock degrade to no-op and in-process versions when they
// cannot be reached.
func NewAppContext(ctx context.Context, cfg *config.Config, logOut io.Writer) (*AppContext, error) {
	log, err := logger.Init(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := turso.NewDB(ctx, cfg.Database.URL, cfg.Database.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := turso.NewStore(db)

	app := &AppContext{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Store:    store,
		exporter: otel.NewNoOpExporter(),
	}

	if cfg.OTEL.Enabled {
		exp, err := otel.NewExporter(ctx, cfg.OTEL)
		if err != nil {
			log.Warn("metrics export disabled", "error", err)
		} else {
			app.exporter = exp
		}
	}

	var locker ports.Locker = memory.NewLocker()
	if cfg.Redis.Addr != "" {
		l, err := redislock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redislock.WithTTL(cfg.Redis.LockTTL),
			redislock.WithLogger(log),
		)
		if err != nil {
			log.Warn("redis lock unavailable, locking in-process", "error", err)
		} else {
			app.redis = l
			locker = l
		}
	}

	app.Service = experiment.NewService(store.Repositories, store,
		experiment.WithLocker(locker),
		experiment.WithExporter(app.exporter),
		experiment.WithLogger(log),
		experiment.WithPageSize(cfg.DefaultPageSize),
	)
	return app, nil
}

// Close releases all resources held by the AppContext.
func (a *AppContext) Close(ctx context.Context) error {
	if err := a.exporter.Close(ctx); err != nil {
		a.Logger.Warn("failed to flush metrics", "error", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return a.Store.Close()
}

// withApp loads configuration, builds an AppContext for one command and
// closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *AppContext) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	app, err := NewAppContext(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	return fn(ctx, app)
}
