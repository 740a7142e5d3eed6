package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RoundLedger/internal/config"
	"RoundLedger/internal/core"
	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/keeper"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/oracle"
	"RoundLedger/internal/persistence"
	"RoundLedger/internal/projection"
	"RoundLedger/internal/query"
	"RoundLedger/internal/round"
	"RoundLedger/internal/server"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.NewLogger("roundledger")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := observability.NewLoggerWithLevel("roundledger", observability.ParseLogLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("roundledger stopped")
	}
	logger.Info().Msg("roundledger shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	health.SetDependency("postgres", true)
	logger.Info().Msg("connected to postgres")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger.With().Str("component", "migrator").Logger())
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	// --- Price cache and oracle ---
	var cache oracle.PriceCache
	if cfg.Redis.Enabled {
		rc, err := oracle.NewRedisCache(ctx, oracle.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			KeyTTL:   cfg.Redis.PriceTTL.Duration,
		}, time.Now)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		cache = rc
		health.SetDependency("redis", true)
	} else {
		cache = oracle.NewMemoryCache(time.Now)
	}
	priceOracle := oracle.NewClient(cache, cfg.Engine.OracleTimeout.Duration, int32(cfg.Engine.PriceDecimals),
		metrics, logger.With().Str("component", "oracle").Logger())

	// --- Channels ---
	persistChan := make(chan core.CoreOutput, cfg.Persistence.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Persistence.ProjectionChanSize)
	journalChan := make(chan *ledger.Batch, cfg.Persistence.JournalChanSize)

	// --- Engine and credit ledger ---
	authz := round.NewOperatorSet(cfg.OperatorPrincipals()...)
	credits := ledger.NewCreditLedger(ledger.CreditLedgerConfig{
		Authorizer: authz,
		Out:        journalChan,
		Logger:     logger.With().Str("component", "ledger").Logger(),
	})
	engine := core.NewEngine(core.Config{
		MaxBet:              cfg.Engine.MaxBet,
		MaxFeeBps:           uint16(cfg.Engine.MaxFeeBps),
		BetMaxPriceAge:      cfg.Engine.BetMaxPriceAge.Duration,
		ResolveMaxPriceAge:  cfg.Engine.ResolveMaxPriceAge.Duration,
		IdempotencyCapacity: cfg.Engine.IdempotencyCapacity,
		Now:                 time.Now,
	}, core.Deps{
		Oracle:         priceOracle,
		Source:         credits,
		Sink:           credits,
		Authorizer:     authz,
		DBChecker:      persistence.NewPostgresIdempotencyChecker(db),
		PersistChan:    persistChan,
		ProjectionChan: projectionChan,
		Metrics:        metrics,
		Logger:         logger.With().Str("component", "engine").Logger(),
	})

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverState(ctx, engine, credits, snapMgr, cfg.Persistence.ReplayPageSize, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	startSequence := engine.GetSequence()

	// --- NATS ---
	var js jetstream.JetStream
	var publishChan chan ingestion.PublishableEvent
	if cfg.NATS.Enabled {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATS.URL, logger.With().Str("component", "nats").Logger())
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := ingestion.EnsureStreams(ctx, stream, logger); err != nil {
			return err
		}
		js = stream
		publishChan = make(chan ingestion.PublishableEvent, cfg.Persistence.PublishChanSize)
		health.SetDependency("nats", true)
	}

	// Ticks queue here until the price feed starts
	rawChan := make(chan ingestion.RawEvent, 1024)
	if js != nil {
		subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger.With().Str("component", "subscriber").Logger())
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer subscriber.Stop()
	}

	// --- Servers ---
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, logger.With().Str("component", "grpc").Logger())
	operators := make([]server.OperatorToken, 0, len(cfg.Server.Operators))
	for _, op := range cfg.Server.Operators {
		operators = append(operators, server.OperatorToken{Token: op.Token, Principal: op.Principal})
	}
	httpServer, err := server.NewHTTPServer(cfg.Server.HTTPAddr, server.HTTPDeps{
		Engine:        engine,
		Accounts:      credits,
		History:       query.NewQueryService(db, int32(cfg.Engine.PriceDecimals)),
		Health:        health,
		Metrics:       metrics,
		Operators:     operators,
		PriceDecimals: int32(cfg.Engine.PriceDecimals),
		Logger:        logger.With().Str("component", "http").Logger(),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// 1. Persistence: events and journals in one transaction, then outbox
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, journalChan, publishChan,
		persistence.WorkerConfig{
			BatchSize:    cfg.Persistence.BatchSize,
			FlushTimeout: cfg.Persistence.FlushTimeout.Duration,
		}, metrics, logger.With().Str("component", "persistence").Logger())
	g.Go(func() error { return ignoreCanceled(persistWorker.Run(gctx)) })

	// 2. Projections, catching up from the event log on gaps
	projWorker := projection.NewProjectionWorker(db, projectionChan, snapMgr, time.Second,
		metrics, logger.With().Str("component", "projection").Logger())
	g.Go(func() error { return ignoreCanceled(projWorker.Run(gctx)) })

	// 3. Outbound events and inbound price ticks
	if js != nil {
		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, logger.With().Str("component", "publisher").Logger())
		g.Go(func() error { return ignoreCanceled(publisher.Run(gctx)) })

		feed := ingestion.NewPriceFeed(rawChan, cache, metrics, logger.With().Str("component", "price_feed").Logger())
		g.Go(func() error { return ignoreCanceled(feed.Run(gctx)) })
	}

	// 4. Keeper
	if cfg.Keeper.Enabled {
		markets := make([]common.Hash, 0, len(cfg.Keeper.Markets))
		for _, symbol := range cfg.Keeper.Markets {
			markets = append(markets, round.MarketID(symbol))
		}
		k := keeper.New(engine, keeper.Config{
			Interval:  cfg.Keeper.Interval.Duration,
			Markets:   markets,
			Principal: cfg.Keeper.Principal,
			FeeBps:    uint16(cfg.Keeper.FeeBps),
		}, metrics, logger.With().Str("component", "keeper").Logger())
		g.Go(func() error { return ignoreCanceled(k.Run(gctx)) })
	}

	// 5. gRPC health and the HTTP API
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error { return httpServer.Start(gctx) })

	// 6. Periodic snapshots
	g.Go(func() error {
		runPeriodicSnapshots(gctx, engine, snapMgr, cfg.Persistence.SnapshotInterval.Duration, metrics, logger)
		return nil
	})

	// 7. Prometheus metrics
	g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, logger) })

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", startSequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("roundledger ready")

	err = g.Wait()
	health.SetReady(false)
	if err != nil {
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// Workers drained their buffers on cancellation; snapshot what is persisted.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := takeSnapshot(shutdownCtx, engine, snapMgr, metrics); serr != nil {
		logger.Warn().Err(serr).Msg("final snapshot skipped")
	} else {
		logger.Info().Int64("sequence", engine.GetSequence()).Msg("final snapshot saved")
	}
	return err
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
