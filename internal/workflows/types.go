package workflows

import "litsearch/internal/ingest"

type DocumentIngestInput struct {
	PDFPath    string        `json:"pdf_path,omitempty"`
	Title      string        `json:"title"`
	Text       string        `json:"text,omitempty"`
	DocumentID int64         `json:"document_id,omitempty"`
	Params     ingest.Params `json:"params"`
	// Deferred enqueues the document for the queue drain instead of
	// embedding inline.
	Deferred bool `json:"deferred,omitempty"`
	Priority int  `json:"priority,omitempty"`
}

type DocumentIngestOutput struct {
	DocumentID    int64  `json:"document_id"`
	ChunksWritten int    `json:"chunks_written"`
	Status        string `json:"status"`
	FailReason    string `json:"fail_reason,omitempty"`
}

type DocumentIngestStatus struct {
	DocumentID  int64             `json:"document_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	Steps       map[string]string `json:"steps"`
	FailReason  string            `json:"fail_reason,omitempty"`
}

type QueueDrainInput struct {
	BatchSize  int `json:"batch_size,omitempty"`
	MaxBatches int `json:"max_batches,omitempty"`
	// PauseSeconds is the wait between batches, for backends with rate limits.
	PauseSeconds int `json:"pause_seconds,omitempty"`
}

type QueueDrainProgress struct {
	Batches       int   `json:"batches"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	ChunksWritten int   `json:"chunks_written"`
	Remaining     int64 `json:"remaining"`
	Done          bool  `json:"done"`
}

type RechunkAllWorkflowInput struct {
	Mode   ingest.Mode   `json:"mode"`
	Params ingest.Params `json:"params"`
}

type RechunkAllWorkflowOutput struct {
	Report     ingest.RechunkReport `json:"report"`
	ReportPath string               `json:"report_path,omitempty"`
}
