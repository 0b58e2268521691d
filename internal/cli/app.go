package cli

import (
	"context"
	"io"

	"github.com/virtuallab/labsync/internal/cache"
	"github.com/virtuallab/labsync/internal/clock"
	"github.com/virtuallab/labsync/internal/config"
	"github.com/virtuallab/labsync/internal/connectivity"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/metrics"
	"github.com/virtuallab/labsync/internal/offline"
	"github.com/virtuallab/labsync/internal/remote"
	"github.com/virtuallab/labsync/internal/store"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
	"github.com/virtuallab/labsync/internal/sync/queue"
	"github.com/virtuallab/labsync/internal/sync/scheduler"
)

// linkCheck decides whether the device has a usable network interface.
// Tests replace it.
var linkCheck = connectivity.HasNetworkInterface

// App is the fully wired sync core.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Store     store.Store
	Cache     *cache.Cache
	Queue     *queue.Queue
	Handlers  *syncpkg.Registry
	Monitor   *connectivity.Monitor
	Prober    *connectivity.Prober
	Metrics   *metrics.LatencyTracker
	Engine    *syncpkg.SyncEngine
	Service   *offline.Service
	Scheduler *scheduler.Scheduler
}

// loadApp reads the configuration named by opts and wires the app. Logs go
// to logOut so they never mix with command output.
func loadApp(opts *RootOptions, logOut io.Writer) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = logging.LevelDebug
	}
	app, err := NewApp(cfg, logging.New(logOut, level))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return app, nil
}

// NewApp wires every component from cfg. The monitor starts offline until
// the prober reports otherwise.
func NewApp(cfg *config.Config, logger *logging.Logger) (*App, error) {
	s, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	c := clock.Real{}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    s,
		Cache:    cache.New(s, c, logger),
		Queue:    queue.New(s, queue.WithClock(c), queue.WithLogger(logger)),
		Handlers: syncpkg.NewRegistry(),
		Monitor:  connectivity.NewMonitor(false, logger),
		Metrics:  metrics.NewLatencyTracker(0.01),
	}
	remote.Register(a.Handlers, remote.NewClient(cfg.Remote, logger))

	a.Prober = connectivity.NewProber(a.Monitor, cfg.ProbeTarget(),
		cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, logger,
		connectivity.WithLinkCheck(linkCheck))

	a.Engine = syncpkg.NewSyncEngine(a.Queue, a.Handlers,
		syncpkg.WithReachability(a.Monitor),
		syncpkg.WithClock(c),
		syncpkg.WithMaxRetries(cfg.Sync.MaxRetries),
		syncpkg.WithMetrics(a.Metrics),
		syncpkg.WithLogger(logger))

	a.Service = offline.New(offline.Deps{
		Store:        s,
		Cache:        a.Cache,
		Queue:        a.Queue,
		Engine:       a.Engine,
		Handlers:     a.Handlers,
		Reachability: a.Monitor,
		Clock:        c,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		Metrics:      a.Metrics,
		Logger:       logger,
	})

	a.Scheduler = scheduler.NewScheduler(a.Engine, a.Queue, a.Monitor, scheduler.ConfigFrom(cfg),
		scheduler.WithSuppression(a.Service.SuppressAutoSync),
		scheduler.WithLogger(logger))
	return a, nil
}

// CheckConnectivity probes the remote once and records the result.
func (a *App) CheckConnectivity(ctx context.Context) bool {
	return a.Prober.Check(ctx)
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	a.Prober.Stop()
	a.Service.Close()
	return a.Store.Close()
}
