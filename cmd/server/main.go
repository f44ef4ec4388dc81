package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/events"
	"kyc-engine/internal/kyc/gateway"
	"kyc-engine/internal/kyc/handler"
	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/internal/kyc/submission"
	"kyc-engine/internal/kyc/sweep"
	"kyc-engine/internal/platform/config"
	"kyc-engine/internal/platform/httpserver"
	"kyc-engine/internal/platform/logger"
	platformredis "kyc-engine/internal/platform/redis"
)

// main wires the stores, engine, submitter, sweeper and HTTP surface, then
// runs until interrupted. Business logic lives under internal/kyc.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var health []handler.Health

	// Case store: PostgreSQL when configured, in-memory otherwise.
	var st store.Store
	var outbox events.Outbox
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("case store migration failed", "error", err)
			os.Exit(1)
		}
		st = pg
		health = append(health, pool.Ping)

		// The event outbox rides the same database over database/sql.
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			log.Error("failed to open outbox connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pgOutbox := events.NewPostgresOutbox(db)
		if err := pgOutbox.Migrate(ctx); err != nil {
			log.Error("outbox migration failed", "error", err)
			os.Exit(1)
		}
		outbox = pgOutbox
	} else {
		log.Warn("no postgres URL configured, using in-memory store")
		st = store.NewInMemoryStore()
		outbox = events.NewInMemoryOutbox()
	}

	emitter := events.NewEmitter(outbox, time.Now, log)
	dispatcher := notify.NewDispatcher(st, notify.NewLoggerNotifier(log),
		notify.WithLogger(log),
		notify.WithMetrics(m),
		notify.WithTimeout(cfg.NotifierTimeout),
	)

	expiry := policy.Expiry{
		CaseTTL:         cfg.Lifecycle.CaseTTL,
		ActivityTimeout: cfg.Lifecycle.ActivityTimeout,
		IdleTimeout:     cfg.Lifecycle.IdleTimeout,
		TimeoutGrace:    cfg.Lifecycle.TimeoutGrace,
		WarningFraction: cfg.Lifecycle.WarningFraction,
	}
	eng := engine.NewEngine(st, expiry,
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithDispatcher(dispatcher),
		engine.WithEmitter(emitter),
	)

	backoff := policy.Backoff{
		Base:   cfg.Submission.BackoffBase,
		Factor: cfg.Submission.BackoffFactor,
		Cap:    cfg.Submission.BackoffCap,
		Jitter: cfg.Submission.BackoffJitter,
	}
	cdms := gateway.NewHTTPClient(cfg.Submission.Endpoint, cfg.Submission.Timeout)
	submitter := submission.NewSubmitter(st, cdms, eng, backoff, cfg.Submission.MaxAttempts,
		submission.WithLogger(log),
		submission.WithMetrics(m),
		submission.WithDispatcher(dispatcher),
	)
	eng.SetSubmitter(submitter)

	sweepOpts := []sweep.Option{
		sweep.WithLogger(log),
		sweep.WithMetrics(m),
		sweep.WithDispatcher(dispatcher),
		sweep.WithInterval(cfg.Sweep.Interval),
		sweep.WithConcurrency(cfg.Sweep.Concurrency),
		sweep.WithBatchSize(cfg.Sweep.BatchSize),
	}
	redisClient, err := platformredis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		sweepOpts = append(sweepOpts,
			sweep.WithLock(sweep.NewRedisLock(redisClient, "kyc:sweep:lock", 2*cfg.Sweep.Interval)))
		health = append(health, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	sweeper := sweep.NewSweeper(st, eng, submitter, expiry, sweepOpts...)
	go sweeper.Run(ctx)

	// Outbox drain to Kafka, when brokers are configured.
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		worker := events.NewWorker(outbox, publisher, log, 5*time.Second, cfg.Sweep.BatchSize)
		go worker.Run(ctx)
	} else {
		log.Warn("no kafka brokers configured, case events stay in the outbox")
	}

	h := handler.New(eng, st, log, health...)
	srv := httpserver.New(cfg.Server, h.Router())

	log.Info("starting kyc-engine", "addr", cfg.Server.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
