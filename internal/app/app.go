package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	restsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/rest"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	outboxDrainTimeout     = 3 * time.Second
	// Возраст pending-события, после которого outbox считается degraded.
	outboxStaleAfter = time.Minute
)

// Run поднимает REST API, сервер метрик и outbox worker и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", newOutboxBacklogChecker(deps.outboxRepo, outboxStaleAfter, time.Now))

	publishers, kafkaProducer := initOutboxPublishers(cfg, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	service := fulfillment.NewService(
		deps.repo,
		deps.timelineRepo,
		fulfillment.WithOutbox(deps.outboxRepo),
		fulfillment.WithLogger(logger.WithField("layer", "service")),
	)
	handler := restsvc.NewHandler(service, restsvc.WithLogger(logger.WithField("layer", "rest")))

	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	worker := outbox.NewWorker(
		deps.outboxRepo,
		publishers.events,
		outbox.WithDLQPublisher(publishers.dlq),
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		shutdownOutboxWorker(cancelWorker, workerDone, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("REST API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем REST API")
		shutdownHTTP(apiSrv, logger)
		shutdownOutboxWorker(cancelWorker, workerDone, logger)
		drainOutbox(worker, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()

	case err := <-errCh:
		shutdownOutboxWorker(cancelWorker, workerDone, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type outboxPublishers struct {
	events domain.OutboxPublisher
	// dlq принимает события, исчерпавшие попытки; nil без Kafka.
	dlq domain.DeadLetterPublisher
}

// initOutboxPublishers выбирает паблишеры outbox: Kafka, если брокеры заданы и доступны,
// иначе события только логируются.
func initOutboxPublishers(cfg Config, logger *log.Entry) (outboxPublishers, *kafka.Producer) {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		logger.Info("outbox events are logged only, kafka is not configured")
		return outboxPublishers{events: outbox.NewLogPublisher(log.WithField("component", "outbox-log"))}, nil
	}
	return outboxPublishers{
		events: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:    kafka.NewDeadLetterPublisher(producer, cfg.KafkaTopic),
	}, producer
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.WithField("checks", healthHandler.Names()).Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// newOutboxBacklogChecker сообщает degraded, если самое старое pending-событие ждёт дольше staleAfter:
// API продолжает работать, но консоли не получают инвалидации.
func newOutboxBacklogChecker(repo domain.OutboxRepository, staleAfter time.Duration, now func() time.Time) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func() error {
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
			return nil
		}
		if age := now().Sub(stats.OldestPendingAt); age > staleAfter {
			return fmt.Errorf("%d pending events, oldest is %s old", stats.PendingCount, age.Round(time.Second))
		}
		return nil
	})
}

// shutdownOutboxWorker останавливает polling и ждёт выхода worker.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	cancel()
	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// drainOutbox публикует накопленный backlog перед выходом.
func drainOutbox(worker *outbox.Worker, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), outboxDrainTimeout)
	defer cancel()
	worker.Drain(ctx)
	if ctx.Err() != nil {
		logger.Warn("outbox drain interrupted by timeout")
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
