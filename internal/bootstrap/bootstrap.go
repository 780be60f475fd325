package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/ports"
	"github.com/veridoc/veridoc/internal/core/schema"
	"github.com/veridoc/veridoc/internal/core/scoring"
	"github.com/veridoc/veridoc/internal/core/usecase"
	"github.com/veridoc/veridoc/internal/core/validation"
	"github.com/veridoc/veridoc/internal/infrastructure/llm/ollama"
	"github.com/veridoc/veridoc/internal/infrastructure/ocr"
	"github.com/veridoc/veridoc/internal/infrastructure/queue/nats"
	"github.com/veridoc/veridoc/internal/infrastructure/repository/postgres"
	"github.com/veridoc/veridoc/internal/infrastructure/resilience"
	"github.com/veridoc/veridoc/internal/infrastructure/storage/localfs"
	"github.com/veridoc/veridoc/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	BatchUC   *usecase.ProcessBatchUseCase

	closeFn func()
}

// New wires the full application graph. workerMetrics is optional; when
// present the processing path is instrumented with stage and verdict
// metrics.
func New(ctx context.Context, cfg config.Config, workerMetrics *metrics.WorkerMetrics) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load document schemas: %w", err)
	}

	exec := resilience.NewExecutor(resilience.DefaultConfig())

	ocrBackend := ocr.New(cfg.OCRURL, time.Duration(cfg.OCRTimeoutSeconds)*time.Second, exec)
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
		Timeout:           time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
		MaxConcurrent:     cfg.LLMMaxConcurrent,
	}, exec)
	classifier := ollama.NewClassifier(ollamaClient)
	extractor := ollama.NewExtractor(ollamaClient, registry)

	scorer := scoring.New(domain.Weights{
		Clarity:     cfg.WeightTextClarity,
		Context:     cfg.WeightContextStrength,
		Pattern:     cfg.WeightPatternMatch,
		Consistency: cfg.WeightConsistency,
	})
	engine := validation.NewEngine(registry, cfg.ValidationAbsTolerance, cfg.ValidationRelTolerance)

	processRepo := ports.DocumentRepository(repo)
	if workerMetrics != nil {
		processRepo = metrics.InstrumentRepository(repo, workerMetrics, "worker")
	}

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(processRepo, storage, ocrBackend, classifier, extractor, registry, scorer, engine)
	batchUC := usecase.NewProcessBatchUseCase(processUC, cfg.WorkerPoolSize)

	return &App{
		Config: cfg,
		Queue:  queue,
		Repo:   repo,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		BatchUC:   batchUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
