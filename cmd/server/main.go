// Command server runs the audit evidentiary engine: the HTTP API, the
// audit-trail outbox relay, and the background model trainer.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"veritas/internal/access"
	"veritas/internal/audittrail"
	auditmetrics "veritas/internal/audittrail/metrics"
	"veritas/internal/audittrail/relay"
	auditstore "veritas/internal/audittrail/store"
	"veritas/internal/evidence"
	"veritas/internal/evidence/blob"
	evidencehandler "veritas/internal/evidence/handler"
	evidencestore "veritas/internal/evidence/store"
	"veritas/internal/platform/config"
	"veritas/internal/platform/httpserver"
	"veritas/internal/platform/logger"
	"veritas/internal/platform/postgres"
	platformredis "veritas/internal/platform/redis"
	"veritas/internal/platform/token"
	"veritas/internal/prediction"
	"veritas/internal/prediction/cache"
	predictionhandler "veritas/internal/prediction/handler"
	predictionmetrics "veritas/internal/prediction/metrics"
	predictionstore "veritas/internal/prediction/store"
	samplinghandler "veritas/internal/sampling/handler"
	httptransport "veritas/internal/transport/http"
	"veritas/internal/workflow"
	workflowhandler "veritas/internal/workflow/handler"
	workflowmetrics "veritas/internal/workflow/metrics"
	workflowstore "veritas/internal/workflow/store"
	txcontext "veritas/pkg/platform/tx"
)

func main() {
	log := logger.New()
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	trailMetrics := auditmetrics.New()

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	var (
		trailStore      audittrail.Store
		outboxStore     relay.OutboxStore
		evidenceStore   evidence.Store
		workflowStore   workflow.Store
		featureStore    prediction.FeatureStore
		membershipStore access.MembershipStore
		runner          txcontext.Runner
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		trailPG := auditstore.NewPostgresStore(db)
		evidencePG := evidencestore.NewPostgresStore(db)
		workflowPG := workflowstore.NewPostgresStore(db)
		if err := trailPG.Migrate(ctx); err != nil {
			return err
		}
		if err := evidencePG.Migrate(ctx); err != nil {
			return err
		}
		if err := workflowPG.Migrate(ctx); err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, access.MembershipSchema); err != nil {
			return err
		}

		trailStore = trailPG
		outboxStore = trailPG
		evidenceStore = evidencePG
		workflowStore = workflowPG
		featureStore = predictionstore.NewPostgresFeatureStore(db)
		membershipStore = access.NewPostgresMembershipStore(db)
		runner = &txcontext.SQLRunner{DB: db}
		log.Info("storage: postgres")
	} else {
		trailMemory := auditstore.NewInMemoryStore()
		trailStore = trailMemory
		outboxStore = trailMemory
		evidenceStore = evidencestore.NewInMemoryStore()
		workflowStore = workflowstore.NewInMemoryStore()
		featureStore = predictionstore.NewInMemoryFeatureStore()
		membershipStore = access.NewInMemoryMembershipStore()
		runner = txcontext.NopRunner{}
		log.Warn("storage: in-memory, data will not survive a restart")
	}

	trail := audittrail.NewService(trailStore,
		audittrail.WithLogger(log),
		audittrail.WithMetrics(trailMetrics),
	)
	authorizer := access.NewAuthorizer(membershipStore)

	evidenceSvc := evidence.NewService(
		evidenceStore,
		blob.NewInMemoryStore(),
		trail,
		runner,
		evidence.WithLogger(log),
	)

	workflowSvc := workflow.NewService(
		workflowStore,
		trail,
		authorizer,
		runner,
		workflow.WithLogger(log),
		workflow.WithMetrics(workflowmetrics.New()),
	)

	logit := prediction.NewLogisticRegression()
	logit.Epochs = cfg.Trainer.Epochs
	predictionOpts := []prediction.Option{
		prediction.WithLogger(log),
		prediction.WithMetrics(predictionmetrics.New()),
		prediction.WithEstimator(prediction.ModelTypeLogistic, logit),
	}
	if cfg.Redis.Addr != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			return err
		}
		predictionOpts = append(predictionOpts,
			prediction.WithCache(cache.New(redisClient, 15*time.Minute, log)))
		log.Info("risk assessment cache: redis", "addr", cfg.Redis.Addr)
	}
	predictionSvc := prediction.NewService(prediction.NewRegistry(), featureStore, predictionOpts...)
	trainer := prediction.NewTrainer(predictionSvc, cfg.Trainer.QueueSize, log)

	tokens := token.NewService(cfg.JWTSigningKey, "veritas")
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		TokenValidator: tokens,
		Handlers: []httptransport.Registrar{
			samplinghandler.New(log),
			evidencehandler.New(evidenceSvc, authorizer, log),
			predictionhandler.New(predictionSvc, trainer, log),
			workflowhandler.New(workflowSvc, trail, log),
		},
	})
	server := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := trainer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := relay.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer producer.Close()
		outboxRelay := relay.New(outboxStore, producer, log, relay.WithMetrics(trailMetrics))
		g.Go(func() error {
			log.Info("audit trail relay running", "topic", cfg.Kafka.Topic)
			err := outboxRelay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
