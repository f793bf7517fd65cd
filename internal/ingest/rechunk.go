package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"litsearch/internal/util"

	"github.com/google/uuid"
)

// Mode selects which documents a rechunk run touches.
type Mode string

const (
	// ModeRechunkExisting wipes the chunk store and rebuilds every document
	// that previously had chunks.
	ModeRechunkExisting Mode = "rechunk-existing"
	// ModeChunkMissing only chunks documents that have no chunks yet.
	ModeChunkMissing Mode = "chunk-missing"
)

// RechunkReport is the persisted record of one rechunk run.
type RechunkReport struct {
	RunID         string    `json:"run_id"`
	Mode          Mode      `json:"mode"`
	Params        Params    `json:"params"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	Planned       int       `json:"planned"`
	Processed     int       `json:"processed"`
	ChunksWritten int       `json:"chunks_written"`
	ChunksCleared int64     `json:"chunks_cleared,omitempty"`
	FailedIDs     []int64   `json:"failed_ids,omitempty"`
	ArtifactPath  string    `json:"-"`
}

// RechunkAll rebuilds the chunk store with the given parameters. The mode is
// explicit: callers state whether they want existing documents rebuilt or
// only missing ones filled in. One failing document does not stop the run;
// its id lands in the report. A cancelled context stops between documents.
func (s *Service) RechunkAll(ctx context.Context, mode Mode, p Params) (RechunkReport, error) {
	p = s.fillParams(p)
	report := RechunkReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Params:    p,
		StartedAt: time.Now().UTC(),
		FailedIDs: []int64{},
	}

	var (
		ids []int64
		err error
	)
	switch mode {
	case ModeRechunkExisting:
		// Capture the target set before wiping, the chunk table is the only
		// record of which documents were chunked.
		ids, err = s.chunks.ChunkedDocumentIDs(ctx)
		if err != nil {
			return report, fmt.Errorf("list chunked documents: %w", err)
		}
		cleared, err := s.chunks.ClearAll(ctx)
		if err != nil {
			return report, fmt.Errorf("clear chunk store: %w", err)
		}
		report.ChunksCleared = cleared
		s.logger.Info("chunk store cleared", "run_id", report.RunID, "rows", cleared, "documents", len(ids))
	case ModeChunkMissing:
		ids, err = s.docs.IDsWithoutChunks(ctx)
		if err != nil {
			return report, fmt.Errorf("list unchunked documents: %w", err)
		}
	default:
		return report, fmt.Errorf("unknown rechunk mode: %q", mode)
	}
	report.Planned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			s.logger.Warn("rechunk interrupted", "run_id", report.RunID, "processed", report.Processed, "planned", report.Planned)
			break
		}
		written, err := s.ChunkAndEmbed(ctx, id, p, true)
		if err != nil {
			s.logger.Warn("rechunk failed for document", "run_id", report.RunID, "document_id", id, "err", err)
			report.FailedIDs = append(report.FailedIDs, id)
			continue
		}
		report.Processed++
		report.ChunksWritten += written
	}
	report.DurationMS = time.Since(report.StartedAt).Milliseconds()

	if err := s.writeRechunkArtifact(&report); err != nil {
		s.logger.Warn("failed to write rechunk artifact", "run_id", report.RunID, "err", err)
	}
	s.logger.Info("rechunk run finished",
		"run_id", report.RunID, "mode", mode, "processed", report.Processed,
		"failed", len(report.FailedIDs), "chunks", report.ChunksWritten)
	return report, nil
}

func (s *Service) writeRechunkArtifact(report *RechunkReport) error {
	if s.dataOutRoot == "" {
		return nil
	}
	path := filepath.Join(s.dataOutRoot, "rechunk", fmt.Sprintf("rechunk_%s.json", report.RunID))
	if err := util.WriteJSONAtomic(path, report); err != nil {
		return err
	}
	report.ArtifactPath = path
	return nil
}
