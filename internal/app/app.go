package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/history"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает витрину и блокируется до отмены ctx или падения HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Current().Fields()).Info("starting storefront")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn == nil {
			return
		}
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	if _, err := loadCatalogSeed(ctx, cfg.CatalogSeedFile, deps.products, logger); err != nil {
		return err
	}

	storeMetrics := metrics.NewStoreMetrics()
	workerMetrics := metrics.NewWorkerMetrics()

	payments, err := initPaymentGateway(cfg, logger)
	if err != nil {
		return err
	}
	guards := initWebhookGuards(ctx, cfg, logger)
	defer guards.close(logger)

	ledger := stock.NewLedger(deps.products, storeMetrics, logger.WithField("component", "stock-ledger"))
	recorder := history.NewRecorder(deps.outboxRepo, deps.timelineRepo, storeMetrics, logger.WithField("component", "history"))
	checkoutSvc := checkout.NewService(
		deps.products,
		ledger,
		deps.repo,
		payments.gateway,
		recorder,
		checkout.Config{
			Currency:         cfg.Currency,
			DeliveryFeeMinor: cfg.DeliveryFeeMinor,
			SuccessURL:       cfg.successURL(),
			CancelURL:        cfg.cancelURL(),
			GatewayTimeout:   cfg.GatewayTimeout,
		},
		storeMetrics,
		logger.WithField("component", "checkout"),
	)
	reconciler := reconcile.NewReconciler(deps.repo, deps.timelineRepo, ledger, recorder, storeMetrics, logger.WithField("component", "reconciler"))

	healthHandler := healthcheck.NewHandler(version.Short())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if guards.client != nil {
		healthHandler.RegisterOptional("redis", healthcheck.NewPingChecker("redis", guards.client.Ping))
	}

	kafkaRT := startKafka(ctx, cfg, reconciler, guards.outcomes, healthHandler, logger)
	defer kafkaRT.close()

	relay := startOutboxWorker(ctx, cfg, deps, kafkaRT.producer, workerMetrics, logger)
	defer relay.stop(logger)

	cleanup := startIdempotencyCleanup(ctx, cfg, deps, workerMetrics, logger)
	defer cleanup.stop(logger)

	metricsSrv, err := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	if err != nil {
		return err
	}
	defer shutdownHTTP(metricsSrv, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Checkout:       checkoutSvc,
		Orders:         reconciler,
		Stock:          ledger,
		Webhooks:       payments.webhooks,
		Payments:       payments.verifier,
		Guard:          guards.webhooks,
		Idempotency:    deps.idempotencyRepo,
		RequestTimeout: cfg.RequestTimeout,
	}, logger.WithField("component", "http"))

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	apiSrv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// opsRoutes — служебные маршруты порта метрик: Prometheus, health checks и сведения о сборке.
func opsRoutes(healthHandler *healthcheck.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/version", version.Handler)
	r.Get("/livez", healthcheck.LivenessHandler)
	if healthHandler != nil {
		r.Get("/healthz", healthHandler.ServeHTTP)
		r.Get("/readyz", healthHandler.ReadinessHandler)
	}
	return r
}

// startMetricsServer занимает адрес сразу, чтобы занятый порт был ошибкой старта,
// и останавливает сервер при отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	srv := &http.Server{Handler: opsRoutes(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("служебный HTTP: /metrics /healthz /livez /readyz /version")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv, nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
