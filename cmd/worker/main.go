package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridoc/veridoc/internal/bootstrap"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/observability/logging"
	"github.com/veridoc/veridoc/internal/observability/metrics"
)

const processTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")

	app, err := bootstrap.New(ctx, cfg, workerMetrics)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Documents stranded mid-pipeline by a previous crash are resumed
	// before new events are consumed.
	go recoverUnsettled(ctx, app, logger)

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeDocumentIngested(ctx, func(handlerCtx context.Context, documentID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		workerMetrics.StartDocument()
		start := time.Now()
		processErr := app.ProcessUC.ProcessByID(processCtx, documentID)
		workerMetrics.FinishDocument("worker", time.Since(start), processErr)

		if processErr != nil {
			logger.Error("document processing failed", "document_id", documentID, "error", processErr)
		}
		return processErr
	})
	if err != nil {
		logger.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}
}

func recoverUnsettled(ctx context.Context, app *bootstrap.App, logger *slog.Logger) {
	ids, err := app.Repo.ListUnsettled(ctx, 100)
	if err != nil {
		logger.Error("list unsettled documents failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	logger.Info("resuming unsettled documents", "count", len(ids))
	for _, res := range app.BatchUC.ProcessAll(ctx, ids) {
		if res.Err != nil {
			logger.Error("resume failed", "document_id", res.DocumentID, "error", res.Err)
		}
	}
}
