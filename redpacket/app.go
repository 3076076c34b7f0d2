package redpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/redpacket/internal/domain/ledger"
	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/database"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/claim"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/grab"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/lifecycle"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/reconcile"
	"github.com/ellavondegurechaff/redpacket/redpacket/events"
	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	"github.com/ellavondegurechaff/redpacket/redpacket/services"
	"github.com/ellavondegurechaff/redpacket/redpacket/utils"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

const ledgerMemo = "red envelope claim"

// Stores is the persistence the engine runs against.
type Stores struct {
	Activities repositories.ActivityRepository
	Shares     repositories.ShareRepository
	Claims     repositories.ClaimRepository
	Accounts   repositories.AccountRepository
}

func PostgresStores(db *database.DB) Stores {
	return Stores{
		Activities: repositories.NewActivityRepository(db.BunDB()),
		Shares:     repositories.NewShareRepository(db.BunDB()),
		Claims:     repositories.NewClaimRepository(db.BunDB()),
		Accounts:   repositories.NewAccountRepository(db.BunDB()),
	}
}

func New(cfg *Config, version string, commit string) *Engine {
	return &Engine{
		Cfg:       cfg,
		Version:   version,
		Commit:    commit,
		Publisher: events.NewNop(),
		Metrics:   metrics.NewNop(),
	}
}

type Engine struct {
	Cfg     *Config
	Version string
	Commit  string

	DB       *database.DB
	Stores   Stores
	Registry *prometheus.Registry

	Publisher   events.Publisher
	Metrics     metrics.Collector
	Ledger      ledger.Ledger
	Coordinator *claim.Coordinator
	Controller  *lifecycle.Controller
	Worker      *reconcile.Worker
	Grabs       *grab.Manager
	Auditor     *services.AuditService
	Spaces      *services.SpacesService
	Processes   *utils.ProcessManager

	nc *nats.Conn
}

// Setup connects every configured backend and assembles the engine on top of
// Postgres.
func (e *Engine) Setup(ctx context.Context) error {
	dbStart := time.Now()
	db, err := database.New(ctx, database.DBConfig{
		Host:         e.Cfg.DB.Host,
		Port:         e.Cfg.DB.Port,
		User:         e.Cfg.DB.User,
		Password:     e.Cfg.DB.Password,
		Database:     e.Cfg.DB.Database,
		PoolSize:     e.Cfg.DB.PoolSize,
		MaxIdleConns: e.Cfg.DB.MaxIdleConns,
		MaxLifetime:  e.Cfg.DB.MaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	e.DB = db
	slog.Info("Database connected successfully",
		slog.String("type", "db"),
		slog.String("database", e.Cfg.DB.Database),
		slog.Duration("took", time.Since(dbStart)))

	if err = db.InitializeSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	e.Registry = prometheus.NewRegistry()
	e.Metrics = metrics.NewPrometheus(e.Registry, "")

	if e.Cfg.NATS.Enabled {
		pub, nc, err := events.Connect(ctx, e.Cfg.NATS.URL, e.Cfg.NATS.Stream, e.Cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		e.Publisher, e.nc = pub, nc
		slog.Info("Event publishing enabled",
			slog.String("type", "sys"),
			slog.String("stream", e.Cfg.NATS.Stream))
	}

	if e.Cfg.Spaces.Enabled() {
		spaces, err := services.NewSpacesService(ctx, services.SpacesConfig{
			Key:        e.Cfg.Spaces.Key,
			Secret:     e.Cfg.Spaces.Secret,
			Region:     e.Cfg.Spaces.Region,
			Bucket:     e.Cfg.Spaces.Bucket,
			ReportRoot: e.Cfg.Spaces.ReportRoot,
			Endpoint:   e.Cfg.Spaces.Endpoint,
		})
		if err != nil {
			return err
		}
		e.Spaces = spaces
	}

	return e.Assemble(PostgresStores(db))
}

// Assemble wires the engine components on top of stores. Publisher, Metrics
// and Spaces are used as already set on the engine.
func (e *Engine) Assemble(stores Stores) error {
	e.Stores = stores
	e.Coordinator = claim.NewCoordinator(e.Cfg.Engine.GrabQueueSize, e.Metrics)
	e.Controller = lifecycle.NewController(stores.Activities, stores.Shares, stores.Claims, e.Coordinator, e.Metrics, lifecycle.Config{
		MinShareAmount:  e.Cfg.Engine.MinShareAmount,
		DefaultStrategy: e.Cfg.Engine.DefaultStrategy,
		SweepInterval:   e.Cfg.Engine.SweepInterval.Or(config.DefaultSweepInterval),
	})

	if e.Ledger == nil {
		e.Ledger = ledger.NewAccountLedger(stores.Accounts, ledgerMemo)
	}
	e.Worker = reconcile.NewWorker(stores.Claims, e.Ledger, e.Publisher, e.Metrics, reconcile.Config{
		Interval:    e.Cfg.Reconcile.Interval.Or(config.DefaultReconcileInterval),
		BatchSize:   e.Cfg.Reconcile.BatchSize,
		Concurrency: e.Cfg.Reconcile.Concurrency,
		BaseBackoff: e.Cfg.Reconcile.BaseBackoff.Or(config.DefaultBaseBackoff),
		MaxBackoff:  e.Cfg.Reconcile.MaxBackoff.Or(config.DefaultMaxBackoff),
	})

	grabs, err := grab.NewManager(grab.Deps{
		Activities:  stores.Activities,
		Claims:      stores.Claims,
		Coordinator: e.Coordinator,
		Recoverer:   e.Controller,
		Notifier:    e.Worker,
		Publisher:   e.Publisher,
		Metrics:     e.Metrics,
		CacheSize:   e.Cfg.Engine.ActivityCacheSize,
	})
	if err != nil {
		return err
	}
	e.Grabs = grabs
	e.Controller.OnChange(e.Grabs.Invalidate)

	var sink services.ReportSink
	if e.Spaces != nil {
		sink = e.Spaces
	}
	e.Auditor = services.NewAuditService(stores.Activities, stores.Shares, stores.Claims, sink)
	return nil
}

// Start launches the lifecycle scheduler and the settlement worker under
// supervision. Both stop when ctx is cancelled or Shutdown is called.
func (e *Engine) Start(ctx context.Context) {
	e.Processes = utils.NewProcessManager(ctx, time.Second)

	e.Processes.StartProcess("lifecycle", "activity start/end sweeps and pool recovery", func(ctx context.Context) error {
		e.Controller.Run(ctx)
		return ctx.Err()
	})
	e.Processes.StartProcess("reconcile", "ledger settlement of pending claims", func(ctx context.Context) error {
		e.Worker.Start(ctx)
		return ctx.Err()
	})

	slog.Info("Red envelope engine started",
		slog.String("type", "sys"),
		slog.String("version", e.Version),
		slog.String("commit", e.Commit))
}

// Shutdown stops background processes, then drops every pool and closes the
// backends.
func (e *Engine) Shutdown(timeout time.Duration) error {
	var errs []error
	if e.Processes != nil {
		if err := e.Processes.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("background processes: %w", err))
		}
	}
	if e.Coordinator != nil {
		e.Coordinator.Close()
	}
	if e.nc != nil {
		if err := e.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if e.DB != nil {
		e.DB.Close()
	}
	return errors.Join(errs...)
}

// Healthy reports whether the store is reachable and the background processes
// are registered.
func (e *Engine) Healthy(ctx context.Context) error {
	if e.DB != nil {
		if err := e.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if e.Processes != nil && e.Processes.GetProcessCount() == 0 {
		return errors.New("no background processes running")
	}
	return nil
}
