// cmd/shopdesk/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopdesk/internal/api"
	"shopdesk/internal/archive"
	"shopdesk/internal/assistant"
	"shopdesk/internal/assistant/provider"
	"shopdesk/internal/autoreply"
	"shopdesk/internal/carrier"
	"shopdesk/internal/common/camunda"
	"shopdesk/internal/common/config"
	"shopdesk/internal/common/database"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/observability"
	"shopdesk/internal/common/retry"
	"shopdesk/internal/messenger"
	"shopdesk/internal/notify"
	"shopdesk/internal/sheets"
	"shopdesk/internal/store"

	ct "shopdesk/internal/workers/ai-conversation/crawl-training"
	gar "shopdesk/internal/workers/ai-conversation/generate-ai-reply"
	nh "shopdesk/internal/workers/communication/notify-handoff"
	cs "shopdesk/internal/workers/orders/create-shipment"
	sos "shopdesk/internal/workers/orders/sync-order-sheet"
)

func connectPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxRetries: attempts, InitialDelay: 2 * time.Second}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}).
		WithFields(map[string]interface{}{"service": cfg.App.Name, "env": cfg.App.Environment})
	fatal := func(msg string, err error) {
		log.Error(msg, map[string]interface{}{"error": err})
		os.Exit(1)
	}

	log.Info("starting shopdesk", map[string]interface{}{"version": cfg.App.Version})

	obs := observability.New(observability.Options{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		Logger:         log,
	})
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retry.WithBackoff(ctx, connectPolicy(15), log, "PostgreSQL connection", func(ctx context.Context) error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	})
	if err != nil {
		fatal("postgres failed after retries", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		fatal("postgres migration failed", err)
	}
	log.Info("PostgreSQL connected successfully", nil)

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retry.WithBackoff(ctx, connectPolicy(10), log, "Redis connection", func(ctx context.Context) error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	})
	if err != nil {
		fatal("redis failed after retries", err)
	}
	defer redis.Close()
	log.Info("Redis connected successfully", nil)

	ready := map[string]api.Checker{
		"postgres": pg.Ping,
		"redis":    redis.Ping,
	}

	// --- Init Elasticsearch (optional) ---
	var convArchive *archive.Archive
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		var es *database.ElasticsearchClient
		err = retry.WithBackoff(ctx, connectPolicy(15), log, "Elasticsearch connection", func(ctx context.Context) error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		})
		if err != nil {
			fatal("elasticsearch failed after retries", err)
		}
		convArchive = archive.New(es, cfg.Database.Elasticsearch.ArchiveIndex, log)
		if err := convArchive.EnsureIndex(ctx); err != nil {
			fatal("archive index setup failed", err)
		}
		ready["elasticsearch"] = es.Ping
		log.Info("Elasticsearch connected successfully", nil)
	} else {
		log.Warn("elasticsearch not configured, conversation archive disabled", nil)
	}

	stores := store.New(pg.DB, redis, log)

	// --- AI pipeline ---
	gen, err := provider.Build(cfg.AI, log)
	if err != nil {
		fatal("ai generator setup failed", err)
	}
	pipeline, err := assistant.NewPipelineFromConfig(cfg.AI, gen, log)
	if err != nil {
		fatal("ai pipeline setup failed", err)
	}

	// --- Integrations ---
	msgr := messenger.NewClient(cfg.Messenger, log)
	switch {
	case cfg.Messenger.AppSecret == "" && cfg.Messenger.SkipSignature:
		log.Warn("messenger.skip_signature set, webhook deliveries are not authenticated", nil)
	case cfg.Messenger.AppSecret == "":
		log.Warn("messenger.app_secret not configured, webhook deliveries will be rejected", nil)
	}

	notifier, err := notify.NewFromConfig(ctx, cfg.Notifications, log)
	if err != nil {
		fatal("notification setup failed", err)
	}

	shipping := carrier.NewClient(cfg.Carrier, redis, log)

	var syncer *sheets.Syncer
	if cfg.Sheets.Enabled {
		syncer, err = sheets.NewSyncer(ctx, cfg.Sheets, stores.Orders, log)
		if err != nil {
			fatal("sheets setup failed", err)
		}
	}

	// --- Camunda (optional) ---
	var (
		camClient *camunda.Client
		registry  *camunda.Registry
		escalator autoreply.Escalator = autoreply.DirectEscalator{Notifier: notifier}
	)
	if cfg.Camunda.Enabled {
		err = retry.WithBackoff(ctx, connectPolicy(10), log, "Zeebe client initialization", func(context.Context) error {
			var err error
			camClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout), log)
			return err
		})
		if err != nil {
			fatal("zeebe client failed after retries", err)
		}
		defer camClient.Close()
		ready["camunda"] = camClient.HealthCheck
		log.Info("Zeebe client connected successfully", nil)

		escalator = autoreply.ProcessEscalator{Publisher: camClient, Fallback: escalator}

		registry = camunda.NewRegistry(camClient.GetClient(), log).WithObserver(obs)
		startWorkers(registry, cfg, workerDeps{
			pipeline: pipeline,
			gen:      gen,
			stores:   stores,
			msgr:     msgr,
			notifier: notifier,
			shipping: shipping,
			syncer:   syncer,
		}, log)
	}

	// --- Auto-reply service ---
	deps := autoreply.Deps{
		Pipeline:      pipeline,
		Settings:      stores.Settings,
		Training:      stores.Training,
		Products:      stores.Products,
		Conversations: stores.Conversations,
		Sender:        msgr,
		Escalator:     escalator,
		Dedup:         autoreply.RedisDeduper{Redis: redis},
		Recorder:      obs,
		Logger:        log,
	}
	if convArchive != nil {
		deps.Archive = convArchive
	}
	svc, err := autoreply.New(deps)
	if err != nil {
		fatal("auto-reply setup failed", err)
	}

	// --- HTTP server ---
	opts := api.Options{
		Server:    cfg.Server,
		Messenger: cfg.Messenger,
		Settings:  stores.Settings,
		Training:  stores.Training,
		Products:  stores.Products,
		Orders:    stores.Orders,
		AutoReply: svc,
		Ready:     ready,
		Logger:    log,
	}
	if shipping.Configured() {
		opts.Shipper = shipping
	}
	if syncer != nil {
		opts.Sheets = syncer
	}
	if convArchive != nil {
		opts.Archive = convArchive
	}
	server := api.New(opts)
	httpServer := server.HTTPServer(fmt.Sprintf(":%d", cfg.Server.Port))

	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"port": cfg.Server.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("HTTP server failed", err)
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received, draining...", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", map[string]interface{}{"error": err})
	}

	drained := make(chan struct{})
	go func() {
		server.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("inbound messages still in flight at shutdown", nil)
	}

	if registry != nil {
		registry.Close()
	}

	log.Info("shopdesk stopped gracefully", nil)
}

type workerDeps struct {
	pipeline *assistant.Pipeline
	gen      assistant.Generator
	stores   *store.Store
	msgr     *messenger.Client
	notifier *notify.Notifier
	shipping *carrier.Client
	syncer   *sheets.Syncer
}

func startWorkers(registry *camunda.Registry, cfg *config.Config, d workerDeps, log logger.Logger) {
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}
	start := func(taskType string, handler camunda.JobHandler, err error) {
		if err != nil {
			log.Error("worker setup failed", map[string]interface{}{"taskType": taskType, "error": err})
			return
		}
		registry.Start(taskType, config.GetWorkerConfig(cfg, taskType), handler)
	}

	// --- AI workers ---
	garCfg := gar.LoadConfig()
	garCfg.Timeout = timeout(gar.TaskType)
	garCfg.TrainingPairs = cfg.AI.Prompt.TrainingPairs
	garCfg.Products = cfg.AI.Prompt.Products
	garCfg.HistoryTurns = cfg.AI.Prompt.HistoryTurns
	garHandler, err := gar.NewHandler(garCfg, gar.Dependencies{
		Replier:  d.pipeline,
		Training: d.stores.Training,
		Products: d.stores.Products,
		History:  d.stores.Conversations,
	}, log)
	start(gar.TaskType, garHandler, err)

	ctCfg := ct.LoadConfig()
	ctCfg.Timeout = timeout(ct.TaskType)
	ctCfg.AIClassify = cfg.AI.ClassifyTraining
	ctHandler, err := ct.NewHandler(ctCfg, d.msgr, d.stores.Training, d.gen, cfg.AI.Model, log)
	start(ct.TaskType, ctHandler, err)

	// --- Communication ---
	nhCfg := nh.LoadConfig()
	nhCfg.Timeout = timeout(nh.TaskType)
	nhHandler, err := nh.NewHandler(nhCfg, d.notifier, log)
	start(nh.TaskType, nhHandler, err)

	// --- Orders ---
	if d.shipping.Configured() {
		csCfg := cs.LoadConfig()
		csCfg.Timeout = timeout(cs.TaskType)
		csHandler, err := cs.NewHandler(csCfg, d.stores.Orders, d.shipping, log)
		start(cs.TaskType, csHandler, err)
	} else {
		log.Info("carrier not configured, worker skipped", map[string]interface{}{"taskType": cs.TaskType})
	}

	if d.syncer != nil {
		sosCfg := sos.LoadConfig()
		sosCfg.Timeout = timeout(sos.TaskType)
		sosHandler, err := sos.NewHandler(sosCfg, d.syncer, log)
		start(sos.TaskType, sosHandler, err)
	} else {
		log.Info("sheets sync disabled, worker skipped", map[string]interface{}{"taskType": sos.TaskType})
	}

	log.Info("workers registered", map[string]interface{}{"count": registry.Count()})
}
