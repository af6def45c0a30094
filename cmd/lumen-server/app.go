package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Lumen/server/internal/config"
	dbpkg "github.com/BrandonDHaskell/Lumen/server/internal/db"
	"github.com/BrandonDHaskell/Lumen/server/internal/eventsink"
	"github.com/BrandonDHaskell/Lumen/server/internal/grpcapi"
	"github.com/BrandonDHaskell/Lumen/server/internal/httpapi"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/broadcast"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/session"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store/sqlite"
	"github.com/BrandonDHaskell/Lumen/server/internal/metrics"
	"github.com/BrandonDHaskell/Lumen/server/internal/mqttbridge"
)

const shutdownTimeout = 5 * time.Second

// app is the wired dependency graph. Optional transports are nil when
// their configuration is empty.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db     *sql.DB
	writer *dbpkg.Worker
	store  *sqlite.Store

	router    *broadcast.Router
	metrics   *metrics.Metrics
	sensors   *service.SensorService
	ingest    *service.IngestService
	debouncer *debounce.Debouncer
	evaluator *service.ShutdownEvaluator
	checker   *service.ConnectivityChecker
	pruner    *service.HistoryPruner
	sessions  *session.Manager
	http      *httpapi.Server

	grpc      *grpcapi.Server
	mqtt      *mqttbridge.Bridge
	publisher *eventsink.Publisher
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}
	if err := a.seed(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) seed(ctx context.Context) error {
	if a.cfg.Env == "dev" {
		if err := dbpkg.SeedDev(ctx, a.db); err != nil {
			return fmt.Errorf("dev seed: %w", err)
		}
	}
	if a.cfg.SeedFile == "" {
		return nil
	}
	f, err := os.Open(a.cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	layout, err := dbpkg.LoadSeed(f)
	if err != nil {
		return err
	}
	return dbpkg.Seed(ctx, a.db, layout)
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("shutdown.timezone: %w", err)
	}

	a.writer = dbpkg.NewWorker(a.db)
	a.store = sqlite.New(a.db, a.writer)
	a.router = broadcast.NewRouter()
	a.metrics = metrics.New()

	opts := []service.Option{service.WithLogger(logger), service.WithObserver(a.metrics)}
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher, err = eventsink.New(eventsink.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, service.WithHistorySink(a.publisher))
	}

	queue := service.NewCommandQueue(0)
	cache := service.NewConnectivityCache(0)

	a.sensors = service.NewSensorService(a.store, a.router, queue, opts...)
	a.debouncer = debounce.New(a.sensors.ApplyReported,
		debounce.WithWindow(cfg.DebounceWindow),
		debounce.WithMaxAge(cfg.DebounceMaxAge),
		debounce.WithLogger(logger),
	)
	a.ingest = service.NewIngestService(a.store, a.sensors, a.router, queue, cache,
		service.IngestConfig{HeartbeatInterval: cfg.SessionHeartbeat}, opts...)
	a.evaluator = service.NewShutdownEvaluator(a.store, a.router, loc, opts...)
	a.checker = service.NewConnectivityChecker(a.store, cache, nil, opts...)
	a.pruner = service.NewHistoryPruner(a.store, service.PrunerConfig{
		RetentionDays: cfg.HistoryRetentionDays,
		Interval:      cfg.HistoryPruneInterval,
	}, opts...)

	var identity service.IdentityProvider
	if len(cfg.AuthTokens) > 0 {
		tokens, err := service.ParseStaticTokens(cfg.AuthTokens)
		if err != nil {
			return err
		}
		identity = tokens
	}

	a.sessions = session.NewManager(session.Deps{
		Rooms:        a.store,
		Router:       a.router,
		Commands:     a.sensors,
		Reports:      a.debouncer,
		Connectivity: cache,
		Identity:     identity,
		Logger:       logger,
	}, session.Config{
		HeartbeatInterval: cfg.SessionHeartbeat,
		IdleThreshold:     cfg.SessionIdle,
		OriginPatterns:    cfg.SessionOrigins,
	})
	a.metrics.RegisterLive(a.sessions.Active, a.router.Groups, a.debouncer.Stats)

	a.http = httpapi.NewServer(httpapi.Dependencies{
		Logger:       logger,
		Addr:         cfg.HTTPAddr,
		Ingest:       a.ingest,
		Rooms:        a.store,
		Sensors:      a.store,
		History:      a.store,
		Connectivity: cache,
		Sessions:     a.sessions,
		Metrics:      a.metrics.Handler(),
	})

	if cfg.GRPCAddr != "" {
		a.grpc = grpcapi.NewServer(grpcapi.Config{Addr: cfg.GRPCAddr}, a.db.PingContext, nil, logger)
	}
	if cfg.MQTTBroker != "" {
		a.mqtt, err = mqttbridge.New(mqttbridge.Config{Broker: cfg.MQTTBroker, Prefix: cfg.MQTTTopic}, mqttbridge.Deps{
			Ingest:  a.ingest,
			Reports: a.debouncer,
			Rooms:   a.store,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// serve runs every component until ctx is done or one of them fails.
func (a *app) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(a.http.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked session connections are not covered by http.Server.Shutdown.
		return errors.Join(a.http.Shutdown(shutdownCtx), a.sessions.Shutdown(shutdownCtx))
	})

	g.Go(func() error { return a.debouncer.Run(ctx) })
	g.Go(func() error { return a.pruner.Run(ctx) })
	g.Go(func() error {
		return service.NewPeriodic("shutdown-evaluator", a.cfg.ShutdownInterval, func(ctx context.Context) error {
			_, err := a.evaluator.Evaluate(ctx)
			return err
		}, service.WithLogger(a.logger)).Run(ctx)
	})
	g.Go(func() error {
		return service.NewPeriodic("connectivity", a.cfg.ConnectivityInterval, func(ctx context.Context) error {
			_, err := a.checker.Check(ctx)
			return err
		}, service.WithLogger(a.logger)).Run(ctx)
	})

	if a.grpc != nil {
		g.Go(func() error { return a.grpc.Run(ctx) })
	}
	if a.mqtt != nil {
		g.Go(func() error { return a.mqtt.Run(ctx) })
	}
	if a.publisher != nil {
		g.Go(func() error { return a.publisher.Run(ctx) })
	}

	a.logger.Info("lumen server started", "http", a.cfg.HTTPAddr, "grpc", a.cfg.GRPCAddr,
		"mqtt", a.cfg.MQTTBroker != "", "kafka", a.publisher != nil)
	err := g.Wait()
	a.logger.Info("lumen server stopped")
	return err
}

func (a *app) close() {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
