package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"fiscus/internal/analytics"
	analyticsmetrics "fiscus/internal/analytics/metrics"
	"fiscus/internal/domain"
	jwttoken "fiscus/internal/jwt_token"
	"fiscus/internal/notify"
	notifymetrics "fiscus/internal/notify/metrics"
	"fiscus/internal/pipeline"
	pipelinemetrics "fiscus/internal/pipeline/metrics"
	"fiscus/internal/platform/config"
	"fiscus/internal/platform/httpserver"
	"fiscus/internal/platform/kafka"
	"fiscus/internal/platform/logger"
	"fiscus/internal/platform/middleware"
	platformredis "fiscus/internal/platform/redis"
	"fiscus/internal/ratetable"
	"fiscus/internal/status"
	statusmetrics "fiscus/internal/status/metrics"
	httptransport "fiscus/internal/transport/http"
	"fiscus/internal/validate"
	validatemetrics "fiscus/internal/validate/metrics"
)

// main wires configuration into the pipeline and keeps the process
// lifecycle in one place: every worker runs under one errgroup, and a
// signal cancels them all before the final outbox drain.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := loadRateTable(cfg, log)
	engine := buildEngine(cfg, table, log)

	sm := statusmetrics.New()
	feed := status.NewFeed(
		status.WithBuffer(cfg.Pipeline.FeedBuffer),
		status.WithFeedLogger(log),
		status.WithFeedMetrics(sm),
	)
	defer feed.Close()

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		fatal(log, "kafka producer init failed", err)
	}
	if producer != nil {
		defer producer.Close()
		topics := []string{cfg.Kafka.IngestTopic, cfg.Kafka.StatusTopic, cfg.Kafka.NotificationsTopic}
		if err := kafka.EnsureTopics(ctx, producer, topics...); err != nil {
			fatal(log, "kafka topic setup failed", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	store, relay := buildStore(ctx, cfg, feed, producer, sm, log)
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	pm := pipelinemetrics.New()
	service := pipeline.New(engine, store,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(pm),
	)

	if dispatcher := buildDispatcher(cfg, producer, log); dispatcher != nil {
		sub := feed.Subscribe("notify")
		g.Go(func() error { return dispatcher.Run(gctx, sub) })
	}

	projector, closeSinks := buildProjector(ctx, cfg, log)
	if projector != nil {
		sub := feed.Subscribe("analytics")
		g.Go(func() error { return projector.Run(gctx, sub) })
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumerClient, err := kafka.NewGroupConsumer(cfg.Kafka, cfg.Kafka.IngestTopic)
		if err != nil {
			fatal(log, "kafka consumer init failed", err)
		}
		defer consumerClient.Close()
		consumer := pipeline.NewConsumer(consumerClient, service,
			pipeline.WithConsumerLogger(log),
			pipeline.WithConsumerMetrics(pm),
		)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	var validator middleware.JWTValidator
	if cfg.Server.AuthSigningKey != "" {
		jwtService := jwttoken.NewJWTService(cfg.Server.AuthSigningKey, "fiscus", "fiscus-api")
		validator = jwttoken.NewJWTServiceAdapter(jwtService)
	}

	handler := httptransport.NewInvoiceHandler(service, table, log)
	router := httptransport.NewRouter(handler, validator, log)
	srv := httpserver.New(cfg.Server.Addr, router)

	g.Go(func() error {
		log.Info("fiscus listening",
			"addr", cfg.Server.Addr,
			"store", cfg.Pipeline.Store,
			"kafka", len(cfg.Kafka.Brokers) > 0,
			"jurisdictions", table.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker failed", "error", err)
	}

	// Flush what the relay committed but had not yet republished.
	if relay != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := relay.DrainOnce(drainCtx); err != nil {
			log.Error("final outbox drain failed", "error", err)
		}
	}
	if closeSinks != nil {
		closeSinks()
	}

	log.Info("fiscus stopped")
}

func loadRateTable(cfg config.Config, log *slog.Logger) *ratetable.Table {
	if cfg.Pipeline.RateTablePath == "" {
		log.Warn("no rate table configured, using built-in defaults")
		return ratetable.Default()
	}
	table, err := ratetable.LoadFile(cfg.Pipeline.RateTablePath)
	if err != nil {
		fatal(log, "rate table load failed", err)
	}
	log.Info("rate table loaded",
		"path", cfg.Pipeline.RateTablePath,
		"jurisdictions", table.Len(),
	)
	return table
}

func buildEngine(cfg config.Config, table *ratetable.Table, log *slog.Logger) *validate.Engine {
	tolerance, err := decimal.NewFromString(cfg.Pipeline.MathTolerance)
	if err != nil {
		fatal(log, "invalid FISCUS_MATH_TOLERANCE", err)
	}
	return validate.New(table,
		validate.WithTolerance(tolerance),
		validate.WithLogger(log),
		validate.WithMetrics(validatemetrics.New()),
	)
}

// buildStore picks the status store backend. The postgres store pairs with
// an outbox relay that republishes committed inserts to the feed and, when
// Kafka is configured, to the status topic; memory and redis publish to the
// feed directly.
func buildStore(ctx context.Context, cfg config.Config, feed *status.Feed, producer *kgo.Client, sm *statusmetrics.Metrics, log *slog.Logger) (status.Store, *status.Relay) {
	switch cfg.Pipeline.Store {
	case config.StoreMemory:
		return status.NewInMemoryStore(feed, status.WithMemoryMetrics(sm)), nil

	case config.StorePostgres:
		if cfg.Postgres.URL == "" {
			fatal(log, "FISCUS_STORE=postgres requires FISCUS_POSTGRES_URL", nil)
		}
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			fatal(log, "postgres open failed", err)
		}
		pg := status.NewPostgresStore(db, status.WithPostgresMetrics(sm))
		if err := pg.Ping(ctx); err != nil {
			fatal(log, "postgres unreachable", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			fatal(log, "postgres schema setup failed", err)
		}

		publish := func(ctx context.Context, rec domain.StatusRecord) error {
			if producer != nil {
				payload, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("encode status record: %w", err)
				}
				record := &kgo.Record{
					Topic: cfg.Kafka.StatusTopic,
					Key:   []byte(rec.DocumentID),
					Value: payload,
				}
				if err := producer.ProduceSync(ctx, record).FirstErr(); err != nil {
					return fmt.Errorf("produce status record: %w", err)
				}
			}
			// Feed publish cannot fail, so it goes last: a produce error
			// retries the entry without double-feeding subscribers.
			feed.Publish(rec)
			return nil
		}
		relay := status.NewRelay(pg, publish,
			status.WithRelayLogger(log),
			status.WithRelayMetrics(sm),
		)
		return pg, relay

	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			fatal(log, "redis connect failed", err)
		}
		if client == nil {
			fatal(log, "FISCUS_STORE=redis requires FISCUS_REDIS_URL", nil)
		}
		return status.NewRedisStore(client.Client, feed, status.WithRedisMetrics(sm)), nil

	default:
		fatal(log, "unknown FISCUS_STORE value "+cfg.Pipeline.Store, nil)
		return nil, nil
	}
}

func buildDispatcher(cfg config.Config, producer *kgo.Client, log *slog.Logger) *notify.Dispatcher {
	var routes []notify.Route
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewWebhookSender(cfg.Notify.WebhookURL,
			notify.WithWebhookSecret(cfg.Notify.WebhookSecret))
		routes = append(routes, notify.Route{
			Channel: domain.ChannelOperational,
			Policy:  notify.PolicyAlways,
			Sender:  webhook,
		})
	}

	var kafkaSender *notify.KafkaSender
	if producer != nil {
		kafkaSender = notify.NewKafkaSender(producer, cfg.Kafka.NotificationsTopic)
		routes = append(routes, notify.Route{
			Channel: domain.ChannelOperational,
			Policy:  notify.PolicyAlways,
			Sender:  kafkaSender,
		})
	}

	if cfg.Notify.SMTPAddr != "" {
		email := notify.NewEmailSender(cfg.Notify.SMTPAddr, cfg.Notify.SMTPFrom, cfg.Notify.SMTPTo)
		routes = append(routes, notify.Route{
			Channel: domain.ChannelCritical,
			Policy:  notify.PolicyFailuresOnly,
			Sender:  email,
		})
	}

	if len(routes) == 0 {
		log.Warn("no notification channels configured")
		return nil
	}

	opts := []notify.Option{
		notify.WithLogger(log),
		notify.WithMetrics(notifymetrics.New()),
	}
	if kafkaSender != nil {
		opts = append(opts, notify.WithDeadLetter(kafkaSender))
	}
	return notify.New(routes, opts...)
}

// buildProjector assembles the analytics sinks. The returned cleanup closes
// sink resources and must run only after the projector has stopped.
func buildProjector(ctx context.Context, cfg config.Config, log *slog.Logger) (*analytics.Projector, func()) {
	var (
		sinks   []analytics.Sink
		closers []func()
	)

	if cfg.Analytics.CSVPath != "" {
		csvSink, err := analytics.NewCSVSink(cfg.Analytics.CSVPath)
		if err != nil {
			fatal(log, "analytics csv sink init failed", err)
		}
		sinks = append(sinks, csvSink)
		closers = append(closers, func() {
			if err := csvSink.Close(); err != nil {
				log.Error("analytics csv sink close failed", "error", err)
			}
		})
	}

	if cfg.Analytics.Postgres {
		if cfg.Postgres.URL == "" {
			fatal(log, "FISCUS_ANALYTICS_POSTGRES requires FISCUS_POSTGRES_URL", nil)
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			fatal(log, "analytics postgres pool init failed", err)
		}
		pgSink := analytics.NewPostgresSink(pool)
		if err := pgSink.EnsureSchema(ctx); err != nil {
			fatal(log, "analytics schema setup failed", err)
		}
		sinks = append(sinks, pgSink)
		closers = append(closers, pool.Close)
	}

	if len(sinks) == 0 {
		return nil, nil
	}

	sink := sinks[0]
	if len(sinks) > 1 {
		sink = analytics.MultiSink(sinks)
	}
	projector := analytics.NewProjector(sink,
		analytics.WithProjectorLogger(log),
		analytics.WithProjectorMetrics(analyticsmetrics.New()))
	return projector, func() {
		for _, closeSink := range closers {
			closeSink()
		}
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	if err != nil {
		log.Error(msg, "error", err)
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}
