package main

import (
	"MutualLedger/internal/capability"
	"MutualLedger/internal/config"
	"MutualLedger/internal/core"
	"MutualLedger/internal/ingestion"
	"MutualLedger/internal/keeper"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/persistence"
	"MutualLedger/internal/query"
	"MutualLedger/internal/server"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("mutualledger exited")
	}
	logger.Info().Msg("shutdown complete")
}

// storage is either Postgres-backed or, without a DSN, in-memory with no
// recovery across restarts.
type storage struct {
	db        *sql.DB
	records   persistence.RecordStore
	sink      persistence.Sink
	dbChecker core.DBIdempotencyChecker
	snapshots *persistence.SnapshotManager
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	store, err := openStorage(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	if store.db != nil {
		defer store.db.Close()
		health.AddCheck("postgres", store.db.PingContext)
	}

	// --- Capabilities ---
	wallets := capability.NewWallets()
	for p, amount := range cfg.DevFunds {
		wallets.Mint(p, amount)
	}
	verifier := capability.NewEd25519Verifier()
	clock := capability.SystemClock{}

	// --- Channels ---
	persistCh := make(chan core.Output, cfg.PersistChanSize)
	persistRows := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	var outboundCh chan core.Output
	var publishCh chan ingestion.PublishableEvent
	if cfg.NATSURL != "" {
		outboundCh = make(chan core.Output, cfg.OutboundChanSize)
		publishCh = make(chan ingestion.PublishableEvent, cfg.OutboundChanSize)
	}

	engineCfg := core.Config{
		Admin:         cfg.Admin,
		Settler:       wallets,
		Verifier:      verifier,
		Clock:         clock,
		DedupCapacity: cfg.IdempotencyLRUCapacity,
		DBChecker:     store.dbChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("engine"),
		PersistChan:   persistCh,
		OutboundChan:  outboundCh,
	}
	engine, err := core.NewEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if store.snapshots != nil {
		if err := recoverEngine(ctx, cfg, store.snapshots, engine, logger); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
	}

	// --- Persistence and outbound pipeline ---
	// Runs on its own lifetime: it drains after every applier has stopped.
	var pipeline errgroup.Group
	br := &bridge{
		persistIn:  persistCh,
		persistOut: persistRows,
		outboundIn: outboundCh,
		publishOut: publishCh,
		metrics:    metrics,
	}
	pipeline.Go(func() error { br.Run(); return nil })
	worker := persistence.NewPersistenceWorker(store.sink, persistRows, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	pipeline.Go(func() error { return worker.Run(context.Background()) })

	// --- Appliers ---
	g, gctx := errgroup.WithContext(ctx)

	var subscriber *ingestion.NATSSubscriber
	var submitter keeper.Submitter = keeper.EngineSubmitter{Engine: engine}
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLogger("ingestion")
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		health.AddCheck("nats", func(context.Context) error {
			if st := nc.Status(); st != nats.CONNECTED {
				return fmt.Errorf("nats %s", st)
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}

		rawCh := make(chan ingestion.RawEvent, cfg.IngestChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawCh, natsLogger)
		if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
			return err
		}

		loop := ingestion.NewLoop(rawCh, engine, ingestion.NewSequenceTracker(metrics), metrics, natsLogger)
		g.Go(func() error { return loop.Run(gctx) })

		publisher := ingestion.NewOutboundPublisher(js, publishCh, metrics, natsLogger)
		pipeline.Go(func() error { return publisher.Run(context.Background()) })

		if cfg.KeeperMode == config.KeeperNATS {
			submitter = keeper.NATSSubmitter{JS: js}
		}
	}

	querySvc := query.NewService(engine, store.records, store.db, metrics)
	srv, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:       server.NewLedgerService(engine, querySvc),
		HealthChecker: health,
		Gatherer:      reg,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })

	if cfg.KeeperMode != config.KeeperOff {
		k := keeper.New(engine, submitter, clock, cfg.KeeperInterval, observability.NewLogger("keeper"))
		g.Go(func() error { return k.Run(gctx) })
	}

	if store.snapshots != nil {
		g.Go(func() error {
			return runPeriodicSnapshots(gctx, cfg, engine, store.snapshots, metrics, logger)
		})
	}

	srv.SetServing(true)
	health.SetReady(true)
	logger.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Bool("postgres", store.db != nil).
		Bool("nats", cfg.NATSURL != "").
		Str("keeper", cfg.KeeperMode).
		Msg("mutualledger ready")

	// --- Shutdown ---
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	health.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// Every applier has returned; drain what the engine already emitted.
	close(persistCh)
	if outboundCh != nil {
		close(outboundCh)
	}
	if err := pipeline.Wait(); err != nil {
		logger.Error().Err(err).Msg("pipeline drain failed")
	}

	if store.snapshots != nil {
		snapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := takeSnapshot(snapCtx, engine, store.snapshots, metrics); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("sequence", engine.Sequence()).Msg("final snapshot saved")
		}
	}
	return runErr
}

func openStorage(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*storage, error) {
	if cfg.PostgresURL == "" {
		logger.Warn().Msg("MUTUAL_POSTGRES_DSN unset, running in memory")
		mem := persistence.NewMemoryRecordStore()
		return &storage{records: mem, sink: persistence.NewMemorySink(mem)}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator")).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info().Msg("postgres connected, migrations applied")

	return &storage{
		db:        db,
		records:   persistence.NewPostgresRecordStore(db),
		sink:      persistence.NewPostgresSink(db, metrics),
		dbChecker: persistence.NewPostgresIdempotencyChecker(db),
		snapshots: persistence.NewSnapshotManager(db),
	}, nil
}

// recoverEngine restores the latest verified snapshot, replays the log tail
// and warms the dedup LRU.
func recoverEngine(ctx context.Context, cfg config.Config, snaps *persistence.SnapshotManager, engine *core.Engine, logger zerolog.Logger) error {
	snap, err := snaps.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		var state core.SnapshotState
		if err := json.Unmarshal(snap.Data, &state); err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := engine.RestoreFromSnapshot(&state); err != nil {
			return err
		}
		if h := engine.StateHash(); string(h[:]) != string(snap.StateHash) {
			return fmt.Errorf("snapshot %d: state hash %x, stored %x", snap.Sequence, h, snap.StateHash)
		}
	} else {
		logger.Info().Msg("no snapshot, replaying from sequence 0")
	}

	replayed, err := replayFromLog(ctx, snaps, engine, logger)
	if err != nil {
		return err
	}

	// After replay: warming first would make replayed ids look duplicate.
	ids, err := snaps.RecentRequestIDs(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		return fmt.Errorf("warm dedup: %w", err)
	}
	engine.WarmLRU(ids)

	logger.Info().
		Int("replayed", replayed).
		Int64("sequence", engine.Sequence()).
		Str("state_hash", fmt.Sprintf("%x", engine.StateHash())).
		Msg("recovery complete")
	return nil
}

func runPeriodicSnapshots(ctx context.Context, cfg config.Config, engine *core.Engine, snaps *persistence.SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) error {
	ticker := time.NewTicker(cfg.SnapshotCheckInterval)
	defer ticker.Stop()

	last := engine.Sequence()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq := engine.Sequence()
			if seq-last < cfg.SnapshotInterval {
				continue
			}
			if err := takeSnapshot(ctx, engine, snaps, metrics); err != nil {
				logger.Error().Err(err).Int64("sequence", seq).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			logger.Info().Int64("sequence", seq).Msg("snapshot saved")
		}
	}
}
