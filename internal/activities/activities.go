package activities

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"litsearch/internal/config"
	"litsearch/internal/ingest"
	"litsearch/internal/models"
	"litsearch/internal/providers"
	"litsearch/internal/search"
	"litsearch/internal/storage"
	"litsearch/internal/util"

	"github.com/ledongthuc/pdf"
)

type Activities struct {
	cfg     config.Config
	docRepo *storage.DocumentRepo
	ingest  *ingest.Service
	hybrid  *search.Hybrid
	logger  *slog.Logger
}

func New(cfg config.Config, db *storage.DB, logger *slog.Logger) (*Activities, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	embedder := providers.NewEmbedder(pm.First(), providers.RetryPolicy{
		MaxAttempts: cfg.EmbedMaxRetries,
		BaseDelay:   time.Duration(cfg.EmbedBaseDelay) * time.Millisecond,
	}, logger)

	docRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	queueRepo := storage.NewQueueRepo(db)
	modelRepo := storage.NewModelRepo(db, logger)

	svc, err := ingest.NewService(cfg, docRepo, chunkRepo, modelRepo, queueRepo, embedder, logger)
	if err != nil {
		return nil, err
	}
	hybrid := search.NewHybrid(search.NewStrategies(db.Pool), embedder, logger)

	return &Activities{
		cfg:     cfg,
		docRepo: docRepo,
		ingest:  svc,
		hybrid:  hybrid,
		logger:  logger,
	}, nil
}

func (a *Activities) Close() {
	if a.ingest != nil {
		a.ingest.Close()
	}
}

func (a *Activities) ExtractTextActivity(ctx context.Context, in ExtractTextInput) (ExtractTextOutput, error) {
	_ = ctx
	f, r, err := pdf.Open(in.PDFPath)
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return ExtractTextOutput{}, fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return ExtractTextOutput{}, util.ErrNoExtractableText
	}
	return ExtractTextOutput{Text: text}, nil
}

func (a *Activities) UpsertDocumentActivity(ctx context.Context, in UpsertDocumentInput) (UpsertDocumentOutput, error) {
	if in.DocumentID > 0 {
		if err := a.docRepo.UpdateText(ctx, in.DocumentID, in.Text); err != nil {
			return UpsertDocumentOutput{}, err
		}
		return UpsertDocumentOutput{DocumentID: in.DocumentID}, nil
	}
	id, err := a.docRepo.Insert(ctx, in.Title, in.Text)
	if err != nil {
		return UpsertDocumentOutput{}, err
	}
	// Extracted text is kept on disk alongside run reports for inspection.
	txtPath := filepath.Join(a.cfg.DataOutRoot, "documents", fmt.Sprintf("%d.txt", id))
	if err := util.WriteTextAtomic(txtPath, in.Text); err != nil {
		a.logger.Warn("failed to write document text artifact", "document_id", id, "err", err)
	}
	return UpsertDocumentOutput{DocumentID: id}, nil
}

func (a *Activities) ChunkAndEmbedActivity(ctx context.Context, in ChunkAndEmbedInput) (ChunkAndEmbedOutput, error) {
	n, err := a.ingest.ChunkAndEmbed(ctx, in.DocumentID, in.Params, in.Overwrite)
	if err != nil {
		return ChunkAndEmbedOutput{}, err
	}
	return ChunkAndEmbedOutput{ChunksWritten: n}, nil
}

func (a *Activities) EnqueueDocumentActivity(ctx context.Context, in EnqueueDocumentInput) error {
	return a.ingest.Enqueue(ctx, in.DocumentID, in.Priority)
}

func (a *Activities) ProcessQueueBatchActivity(ctx context.Context, in ProcessQueueBatchInput) (ProcessQueueBatchOutput, error) {
	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = a.cfg.QueueBatchSize
	}
	report, err := a.ingest.ProcessQueue(ctx, batchSize)
	if err != nil {
		return ProcessQueueBatchOutput{}, err
	}
	return ProcessQueueBatchOutput{Report: report}, nil
}

func (a *Activities) RechunkAllActivity(ctx context.Context, in RechunkAllInput) (RechunkAllOutput, error) {
	report, err := a.ingest.RechunkAll(ctx, in.Mode, in.Params)
	if err != nil {
		return RechunkAllOutput{}, err
	}
	return RechunkAllOutput{Report: report}, nil
}

func (a *Activities) HybridSearchActivity(ctx context.Context, in HybridSearchInput) (HybridSearchOutput, error) {
	topK := in.TopK
	if topK <= 0 {
		topK = a.cfg.SearchTopK
	}
	resp, err := a.hybrid.Search(ctx, in.Question, search.Options{
		Strategies:      in.Strategies,
		TopK:            topK,
		VectorThreshold: a.cfg.VectorThreshold,
		Fusion: models.FusionConfig{
			Method: a.cfg.FusionMethod,
			RRFK:   a.cfg.RRFK,
		},
	})
	if err != nil {
		return HybridSearchOutput{}, err
	}
	return HybridSearchOutput{Response: resp}, nil
}

func (a *Activities) QueueDepthActivity(ctx context.Context) (QueueDepthOutput, error) {
	depth, err := a.ingest.QueueDepth(ctx)
	if err != nil {
		return QueueDepthOutput{}, err
	}
	stuck, err := a.ingest.StuckEntries(ctx)
	if err != nil {
		return QueueDepthOutput{}, err
	}
	return QueueDepthOutput{Depth: depth, Stuck: len(stuck)}, nil
}

func (a *Activities) WriteRunReportActivity(ctx context.Context, in WriteRunReportInput) (WriteRunReportOutput, error) {
	_ = ctx
	path := filepath.Join(a.cfg.DataOutRoot, "runs", in.Kind, in.RunID+".json")
	if err := util.WriteJSONAtomic(path, in.Report); err != nil {
		return WriteRunReportOutput{}, err
	}
	return WriteRunReportOutput{Path: path}, nil
}
