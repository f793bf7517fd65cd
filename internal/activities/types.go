package activities

import (
	"litsearch/internal/ingest"
	"litsearch/internal/search"
)

type ExtractTextInput struct {
	PDFPath string `json:"pdf_path"`
}

type ExtractTextOutput struct {
	Text string `json:"text"`
}

type UpsertDocumentInput struct {
	DocumentID int64  `json:"document_id,omitempty"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

type UpsertDocumentOutput struct {
	DocumentID int64 `json:"document_id"`
}

type ChunkAndEmbedInput struct {
	DocumentID int64         `json:"document_id"`
	Params     ingest.Params `json:"params"`
	Overwrite  bool          `json:"overwrite"`
}

type ChunkAndEmbedOutput struct {
	ChunksWritten int `json:"chunks_written"`
}

type EnqueueDocumentInput struct {
	DocumentID int64 `json:"document_id"`
	Priority   int   `json:"priority"`
}

type ProcessQueueBatchInput struct {
	BatchSize int `json:"batch_size"`
}

type ProcessQueueBatchOutput struct {
	Report ingest.QueueReport `json:"report"`
}

type RechunkAllInput struct {
	Mode   ingest.Mode   `json:"mode"`
	Params ingest.Params `json:"params"`
}

type RechunkAllOutput struct {
	Report ingest.RechunkReport `json:"report"`
}

type HybridSearchInput struct {
	Question   string   `json:"question"`
	Strategies []string `json:"strategies,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

type HybridSearchOutput struct {
	Response search.Response `json:"response"`
}

type QueueDepthOutput struct {
	Depth int64 `json:"depth"`
	Stuck int   `json:"stuck"`
}

type WriteRunReportInput struct {
	RunID  string         `json:"run_id"`
	Kind   string         `json:"kind"`
	Report map[string]any `json:"report"`
}

type WriteRunReportOutput struct {
	Path string `json:"path"`
}
