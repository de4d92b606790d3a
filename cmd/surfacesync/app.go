package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"surfacesync/internal/api"
	"surfacesync/internal/broker"
	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/dispatcher"
	"surfacesync/internal/logger"
	"surfacesync/internal/mediacache"
	"surfacesync/internal/receipts"
	"surfacesync/internal/reconcile"
	"surfacesync/internal/refresh"
	"surfacesync/internal/remote"
	"surfacesync/internal/sharedstate"
	"surfacesync/pkg/bootstrap"
	"surfacesync/pkg/health"
	"surfacesync/pkg/logging"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	dbs            *bootstrap.Databases
	tracerProvider *tracing.TracerProvider

	media        *mediacache.Cache
	mirror       *mediacache.MinioMirror
	store        sharedstate.Store
	queue        receipts.Queue
	remote       remote.SystemOfRecord
	hub          *refresh.Hub
	orchestrator *refresh.Orchestrator
	dispatcher   *dispatcher.Dispatcher
	engine       *reconcile.Engine
	scheduler    *reconcile.Scheduler
	health       *health.CheckerRegistry

	server     *http.Server
	stopRouter context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

// Initialize wires every component and the HTTP server.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitializeCore(ctx); err != nil {
		return err
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

// InitializeCore wires the pipeline without the HTTP server, for one-shot
// commands.
func (a *App) InitializeCore(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPipelineMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	dbs, err := a.dbConnector.InitAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	a.dbs = dbs

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"media cache", a.initMedia},
		{"state store", a.initStore},
		{"receipt queue", a.initReceipts},
		{"remote", a.initRemote},
		{"broker", func(context.Context) error { return a.InitBroker(constants.ServiceName) }},
		{"refresh", a.initRefresh},
		{"dispatcher", a.initDispatcher},
		{"reconcile", a.initReconcile},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	a.initHealth()
	return nil
}

// InitializeReceipts opens only the receipt queue. Surface processes use it
// to record consumption without paying for the whole pipeline.
func (a *App) InitializeReceipts(ctx context.Context) error {
	metrics.RegisterPipelineMetrics()

	a.dbs = &bootstrap.Databases{}
	if a.Config.Receipts.Backend == constants.BackendPostgres {
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return err
		}
		a.dbs.Postgres = db
	}

	return a.initReceipts(ctx)
}

func (a *App) initMedia(ctx context.Context) error {
	blobs, err := mediacache.NewFileBlobStore(a.Config.Media.Dir)
	if err != nil {
		return err
	}

	var opts []mediacache.Option
	if a.Config.Media.Mirror {
		mirror, err := mediacache.NewMinioMirror(ctx, a.Config.Storage.Minio)
		if err != nil {
			return fmt.Errorf("failed to connect media mirror: %w", err)
		}
		a.mirror = mirror
		opts = append(opts, mediacache.WithMirror(mirror))
	}

	a.media = mediacache.NewCache(a.Config.Media, blobs, a.Logger, opts...)
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	var store sharedstate.Store
	switch a.Config.State.Backend {
	case constants.BackendRedis:
		if a.dbs.Redis == nil {
			return fmt.Errorf("redis state backend requires database.redis")
		}
		store = sharedstate.NewRedisStore(a.dbs.Redis, a.Config.State.KeyPrefix)
	case constants.BackendFile, "":
		fs, err := sharedstate.NewFileStore(a.Config.State.Dir)
		if err != nil {
			return err
		}
		store = fs
	default:
		return fmt.Errorf("unknown state backend: %s", a.Config.State.Backend)
	}

	a.store = sharedstate.WithMetrics(store, a.Logger)
	return nil
}

func (a *App) initReceipts(ctx context.Context) error {
	queue, err := receipts.New(a.Config.Receipts, a.dbs.Postgres, a.Logger)
	if err != nil {
		return err
	}
	a.queue = queue
	return nil
}

func (a *App) initRemote(ctx context.Context) error {
	r, err := remote.New(a.Config.Remote, a.Config.CircuitBreaker, a.dbs.MongoDB, a.Logger)
	if err != nil {
		return err
	}
	if _, ok := r.(remote.Noop); ok {
		a.Logger.Warnw("No remote system of record configured, receipts are acknowledged locally only")
	}
	a.remote = r
	return nil
}

func (a *App) initRefresh(ctx context.Context) error {
	var notifiers refresh.Multi

	signals, err := refresh.NewFileSignal(a.Config.Refresh.SignalDir)
	if err != nil {
		return err
	}
	notifiers = append(notifiers, signals)

	if a.Config.Refresh.WebSocket {
		a.hub = refresh.NewHub(a.Logger)
		notifiers = append(notifiers, a.hub)
	}

	if a.Config.Refresh.PublishEvents {
		if a.Producer == nil {
			return fmt.Errorf("refresh.publish_events requires a broker")
		}
		notifiers = append(notifiers, refresh.NewBrokerNotifier(a.Producer, a.Config.Broker.Kafka.RedrawTopic))
	}

	a.orchestrator = refresh.NewOrchestrator(a.Config.Refresh.CoalesceWindow, notifiers, a.Logger)
	return nil
}

func (a *App) initDispatcher(ctx context.Context) error {
	dedup, err := dispatcher.NewDeduplicator(a.Config.Dispatcher.Dedup, a.Config.CircuitBreaker, a.dbs.Redis, a.Logger)
	if err != nil {
		return err
	}

	d, err := dispatcher.New(
		a.Config.Dispatcher,
		a.Config.Media.MaxDimensionPx,
		a.media,
		a.store,
		a.orchestrator,
		a.Logger,
		dispatcher.WithRemote(a.remote),
		dispatcher.WithDeduplicator(dedup),
	)
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

func (a *App) initReconcile(ctx context.Context) error {
	a.engine = reconcile.NewEngine(a.queue, a.Config.Reconcile, a.Logger)
	a.scheduler = reconcile.NewScheduler(a.engine, remote.CommitFunc(a.remote), a.Config.Reconcile, a.Logger)
	return nil
}

func (a *App) initHealth() {
	if a.dbs.Postgres != nil {
		a.health.Register(health.NewPostgreSQLChecker(a.dbs.Postgres))
	}
	if a.dbs.Redis != nil {
		a.health.Register(health.NewRedisChecker(a.dbs.Redis))
	}
	if a.dbs.Mongo != nil {
		a.health.Register(health.NewMongoDBChecker(a.dbs.Mongo))
	}

	a.health.Register(health.NewDirChecker("media_dir", a.Config.Media.Dir))
	if a.Config.State.Backend != constants.BackendRedis {
		a.health.Register(health.NewDirChecker("state_dir", a.Config.State.Dir))
	}
	if a.Config.Receipts.Backend != constants.BackendPostgres {
		a.health.Register(health.NewDirChecker("receipts_dir", a.Config.Receipts.Dir))
	}

	// A broken mirror only costs other devices their blobs.
	if a.mirror != nil {
		a.health.Register(health.NewFuncChecker("media_mirror", a.mirror.Ping, true))
	}

	a.health.Register(health.NewFuncChecker("receipt_queue", func(ctx context.Context) error {
		n, err := a.queue.Len(ctx)
		if err != nil {
			return err
		}
		metrics.SetReceiptQueueDepth(n)
		return nil
	}, false))
}

func (a *App) initServer() error {
	routerCtx, cancel := context.WithCancel(context.Background())
	a.stopRouter = cancel

	deps := api.Deps{
		Pusher:     a.dispatcher,
		Receipts:   a.queue,
		State:      a.store,
		Media:      a.media,
		Reconciler: a.scheduler,
		Health:     a.health,
	}
	if a.hub != nil {
		deps.Events = a.hub
	}

	router := api.NewRouter(routerCtx, a.Config, api.NewHandler(deps, a.Logger), a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

// Run serves HTTP, consumes the push topic and runs the reconcile schedule
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.scheduler.Run(gCtx)
	})

	if a.Consumer != nil {
		pushTopic := a.Config.Broker.Kafka.PushTopic
		g.Go(func() error {
			consumeCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(consumeCtx, "Starting push consumer", "topic", pushTopic)
			err := a.Consumer.Consume(gCtx, pushTopic, a.handlePushMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) handlePushMessage(ctx context.Context, msg broker.Message) error {
	return a.dispatcher.HandleRaw(ctx, msg.Value)
}

// Shutdown stops intake, flushes pending redraws while the producer is still
// open, then closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	return a.Base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if a.hub != nil {
			a.hub.Close()
		}

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if a.stopRouter != nil {
			a.stopRouter()
		}

		if a.Consumer != nil {
			if err := a.Consumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("consumer close error: %w", err))
			}
			a.Consumer = nil
		}

		if a.dispatcher != nil {
			if err := a.dispatcher.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("remote surface state writes: %w", err))
			}
		}

		if a.orchestrator != nil {
			a.orchestrator.Close()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.dbs)...)
		return errs
	})
}
