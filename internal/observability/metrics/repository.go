package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/ports"
)

// InstrumentedRepository decorates a DocumentRepository with pipeline
// metrics. Every state commit flows through the repository, so stage
// durations are measured between consecutive commits of the same
// document without touching the pipeline itself.
type InstrumentedRepository struct {
	ports.DocumentRepository

	metrics *WorkerMetrics
	service string

	mu    sync.Mutex
	marks map[string]time.Time
}

func InstrumentRepository(repo ports.DocumentRepository, m *WorkerMetrics, service string) *InstrumentedRepository {
	return &InstrumentedRepository{
		DocumentRepository: repo,
		metrics:            m,
		service:            service,
		marks:              make(map[string]time.Time),
	}
}

func (r *InstrumentedRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := r.DocumentRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State == domain.StateUploaded {
		r.metrics.ObserveQueueLag(r.service, time.Since(doc.CreatedAt))
		r.sinceMark(doc.ID, false)
	}
	return doc, nil
}

func (r *InstrumentedRepository) UpdateState(ctx context.Context, id string, state domain.DocumentState) error {
	if err := r.DocumentRepository.UpdateState(ctx, id, state); err != nil {
		return err
	}
	r.metrics.ObserveStage(r.service, string(state), r.sinceMark(id, state.Terminal()), nil)
	return nil
}

func (r *InstrumentedRepository) MarkFailed(ctx context.Context, id string, reason domain.FailureReason, errMessage string) error {
	if err := r.DocumentRepository.MarkFailed(ctx, id, reason, errMessage); err != nil {
		return err
	}
	r.metrics.ObserveStage(r.service, string(reason), r.sinceMark(id, true), errors.New(errMessage))
	return nil
}

func (r *InstrumentedRepository) SaveResult(ctx context.Context, result *domain.DocumentResult) error {
	if err := r.DocumentRepository.SaveResult(ctx, result); err != nil {
		return err
	}
	r.metrics.RecordVerdict(r.service, string(result.Type), string(result.Verdict), result.OverallConfidence)
	return nil
}

// sinceMark returns the time elapsed since the document's previous mark
// and advances the mark. Terminal commits drop the entry.
func (r *InstrumentedRepository) sinceMark(id string, terminal bool) time.Duration {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var elapsed time.Duration
	if prev, ok := r.marks[id]; ok {
		elapsed = now.Sub(prev)
	}
	if terminal {
		delete(r.marks, id)
		return elapsed
	}
	r.marks[id] = now
	return elapsed
}
