package ingest

import (
	"context"
	"fmt"
	"sync"

	"litsearch/internal/models"
)

// QueueReport summarizes one drain pass over the embedding queue.
type QueueReport struct {
	Fetched       int   `json:"fetched"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	ChunksWritten int   `json:"chunks_written"`
	Remaining     int64 `json:"remaining"`
}

// ProcessQueue pulls one batch of queue entries and processes them on the
// worker pool. Each entry is re-embedded with overwrite semantics; success
// removes the entry, failure bumps its attempt count with the cause. A
// cancelled context stops new work but waits for in-flight documents.
func (s *Service) ProcessQueue(ctx context.Context, batchSize int) (QueueReport, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	entries, err := s.queue.NextBatch(ctx, batchSize, s.queueMaxAttempts)
	if err != nil {
		return QueueReport{}, fmt.Errorf("fetch queue batch: %w", err)
	}
	report := QueueReport{Fetched: len(entries)}
	if len(entries) == 0 {
		return report, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entry
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			s.processEntry(ctx, entry, &mu, &report)
		}); err != nil {
			wg.Done()
			s.logger.Error("failed to submit queue entry to pool", "document_id", entry.DocumentID, "err", err)
			mu.Lock()
			report.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	if depth, err := s.queue.Depth(ctx, s.queueMaxAttempts); err == nil {
		report.Remaining = depth
	}
	s.logger.Info("queue batch processed",
		"fetched", report.Fetched, "succeeded", report.Succeeded, "failed", report.Failed,
		"chunks", report.ChunksWritten, "remaining", report.Remaining)
	return report, nil
}

func (s *Service) processEntry(ctx context.Context, entry models.QueueEntry, mu *sync.Mutex, report *QueueReport) {
	written, err := s.ChunkAndEmbed(ctx, entry.DocumentID, Params{}, true)
	if err != nil {
		s.logger.Warn("queue entry failed", "document_id", entry.DocumentID, "attempts", entry.Attempts+1, "err", err)
		if markErr := s.queue.MarkFailed(ctx, entry.DocumentID, err.Error()); markErr != nil {
			s.logger.Error("failed to record queue failure", "document_id", entry.DocumentID, "err", markErr)
		}
		mu.Lock()
		report.Failed++
		mu.Unlock()
		return
	}
	if markErr := s.queue.MarkDone(ctx, entry.DocumentID); markErr != nil {
		s.logger.Error("failed to dequeue completed document", "document_id", entry.DocumentID, "err", markErr)
	}
	mu.Lock()
	report.Succeeded++
	report.ChunksWritten += written
	mu.Unlock()
}

// StuckEntries lists queue entries that have exhausted their attempts.
func (s *Service) StuckEntries(ctx context.Context) ([]models.QueueEntry, error) {
	return s.queue.ListStuck(ctx, s.queueMaxAttempts)
}
