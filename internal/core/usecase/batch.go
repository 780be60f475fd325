package usecase

import (
	"context"
	"sync"

	"github.com/veridoc/veridoc/internal/core/ports"
)

// BatchResult is the outcome of one document in a batch run. Documents
// never share state, so per-document errors are isolated here instead of
// aborting the batch.
type BatchResult struct {
	DocumentID string
	Err        error
}

// ProcessBatchUseCase fans a set of independent documents across a fixed
// worker pool. Cancellation stops dispatching new documents; in-flight
// ones settle through the processor's own terminal-state handling.
type ProcessBatchUseCase struct {
	processor ports.DocumentProcessor
	workers   int
}

func NewProcessBatchUseCase(processor ports.DocumentProcessor, workers int) *ProcessBatchUseCase {
	if workers < 1 {
		workers = 1
	}
	return &ProcessBatchUseCase{processor: processor, workers: workers}
}

func (uc *ProcessBatchUseCase) ProcessAll(ctx context.Context, documentIDs []string) []BatchResult {
	results := make([]BatchResult, len(documentIDs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < uc.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = BatchResult{
					DocumentID: documentIDs[i],
					Err:        uc.processor.ProcessByID(ctx, documentIDs[i]),
				}
			}
		}()
	}

dispatch:
	for i := range documentIDs {
		if ctx.Err() != nil {
			for j := i; j < len(documentIDs); j++ {
				results[j] = BatchResult{DocumentID: documentIDs[j], Err: ctx.Err()}
			}
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(documentIDs); j++ {
				results[j] = BatchResult{DocumentID: documentIDs[j], Err: ctx.Err()}
			}
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
