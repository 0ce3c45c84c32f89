// The worker consumes async dispatch tasks from NSQ, performs delivery
// attempts, and runs the reconciliation sweeper. It also serves the
// /healthz and /metrics endpoints for the process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/db"
	"github.com/tidehook/tidehook/internal/delivery"
	"github.com/tidehook/tidehook/internal/health"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/queue"
	"github.com/tidehook/tidehook/internal/store"
	"github.com/tidehook/tidehook/internal/sweep"
	"github.com/tidehook/tidehook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("tidehook-worker")

	shutdown, err := tracing.Init(ctx, "tidehook-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, cfg.DSN()); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	st := store.NewPostgres(pool)
	dispatcher := delivery.NewDispatcher(st, delivery.Policy{
		Schedule:    cfg.Engine.BackoffSchedule,
		MaxAttempts: cfg.Engine.MaxAttempts,
	})

	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Engine.WorkerConcurrency
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	checker := health.New()
	checker.Add("database", health.Database(pool))
	checker.Add("nsq", health.Consumer(consumer))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		var t queue.Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			return nil // terminal: don't retry malformed payloads
		}

		tctx := tracing.ExtractTraceFromTask(ctx, t.TraceHeaders)
		tctx, span := tracing.StartSpan(tctx, "worker.dispatch_task",
			attribute.String("delivery_id", t.DeliveryID),
			attribute.String("endpoint_id", t.EndpointID),
		)
		defer span.End()

		del, err := st.GetDelivery(tctx, t.DeliveryID)
		if err != nil {
			tracing.SetSpanError(tctx, err)
			logger.WithContext(tctx).WithDelivery(t.DeliveryID).WithError(err).Error("load delivery failed")
			// Unknown delivery is terminal; a store outage is retryable.
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if del.Delivered() {
			// A concurrent trigger already completed this one.
			return nil
		}
		ep, err := st.GetEndpoint(tctx, del.EndpointID)
		if err != nil {
			tracing.SetSpanError(tctx, err)
			logger.WithContext(tctx).WithDelivery(t.DeliveryID).WithEndpoint(del.EndpointID).WithError(err).Error("load endpoint failed")
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		// Follow-up retries belong to the sweeper; the task carries only
		// the first attempt. Validation errors are terminal.
		if _, err := dispatcher.Attempt(tctx, del, ep); err != nil {
			if errors.Is(err, delivery.ErrEndpointInactive) || errors.Is(err, delivery.ErrNotSubscribed) {
				logger.WithContext(tctx).WithDelivery(del.ID).WithError(err).Warn("dispatch task rejected")
				return nil
			}
			if errors.Is(err, store.ErrStaleDelivery) {
				// Another trigger recorded this attempt; nothing to redo.
				return nil
			}
			tracing.SetSpanError(tctx, err)
			return err
		}
		return nil
	}), cfg.Engine.WorkerConcurrency)

	// Connecting directly to nsqd forces channel creation instead of the
	// channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	sweeper := sweep.New(st, dispatcher)
	sweeper.BatchSize = cfg.Engine.SweepBatchSize
	sweeper.Concurrency = cfg.Engine.WorkerConcurrency
	go sweeper.Start(ctx, cfg.Engine.SweepInterval)

	logger.Plain().WithFields(map[string]any{
		"sweep_interval": cfg.Engine.SweepInterval.String(),
		"concurrency":    cfg.Engine.WorkerConcurrency,
	}).Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	cancel()
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
