package workflows

import (
	"strings"
	"time"

	"litsearch/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetIngestStatus   = "GetIngestStatus"
	QueryGetDrainProgress  = "GetDrainProgress"
	QueryGetRechunkRunning = "GetRechunkRunning"
)

func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (DocumentIngestOutput, error) {
	status := DocumentIngestStatus{
		DocumentID:  input.DocumentID,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (DocumentIngestStatus, error) {
		return status, nil
	}); err != nil {
		return DocumentIngestOutput{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	text := input.Text
	if strings.TrimSpace(text) == "" && input.PDFPath != "" {
		status.CurrentStep = "extract_text"
		status.Steps[status.CurrentStep] = "processing"
		var extractOut activities.ExtractTextOutput
		if err := workflow.ExecuteActivity(ctx, "ExtractTextActivity", activities.ExtractTextInput{PDFPath: input.PDFPath}).Get(ctx, &extractOut); err != nil {
			if isNoTextError(err) {
				status.Status = "failed"
				status.FailReason = "no extractable text found"
				status.Steps[status.CurrentStep] = "failed"
				return DocumentIngestOutput{Status: status.Status, FailReason: status.FailReason}, nil
			}
			return DocumentIngestOutput{}, err
		}
		text = extractOut.Text
		status.Steps[status.CurrentStep] = "done"
	}

	status.CurrentStep = "upsert_document"
	status.Steps[status.CurrentStep] = "processing"
	var docOut activities.UpsertDocumentOutput
	if err := workflow.ExecuteActivity(ctx, "UpsertDocumentActivity", activities.UpsertDocumentInput{
		DocumentID: input.DocumentID,
		Title:      input.Title,
		Text:       text,
	}).Get(ctx, &docOut); err != nil {
		return DocumentIngestOutput{}, err
	}
	status.DocumentID = docOut.DocumentID
	status.Steps[status.CurrentStep] = "done"

	if input.Deferred {
		status.CurrentStep = "enqueue"
		status.Steps[status.CurrentStep] = "processing"
		if err := workflow.ExecuteActivity(ctx, "EnqueueDocumentActivity", activities.EnqueueDocumentInput{
			DocumentID: docOut.DocumentID,
			Priority:   input.Priority,
		}).Get(ctx, nil); err != nil {
			return DocumentIngestOutput{}, err
		}
		status.Steps[status.CurrentStep] = "done"
		status.CurrentStep = "done"
		status.Status = "queued"
		return DocumentIngestOutput{DocumentID: docOut.DocumentID, Status: status.Status}, nil
	}

	status.CurrentStep = "chunk_and_embed"
	status.Steps[status.CurrentStep] = "processing"
	var embedOut activities.ChunkAndEmbedOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkAndEmbedActivity", activities.ChunkAndEmbedInput{
		DocumentID: docOut.DocumentID,
		Params:     input.Params,
		Overwrite:  true,
	}).Get(ctx, &embedOut); err != nil {
		return DocumentIngestOutput{}, err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "processed"
	return DocumentIngestOutput{
		DocumentID:    docOut.DocumentID,
		ChunksWritten: embedOut.ChunksWritten,
		Status:        status.Status,
	}, nil
}

// QueueDrainWorkflow processes queue batches until the queue is empty or the
// batch limit is reached. Between batches it optionally sleeps so rate-limited
// embedding backends get room to recover.
func QueueDrainWorkflow(ctx workflow.Context, input QueueDrainInput) (QueueDrainProgress, error) {
	progress := QueueDrainProgress{}
	if err := workflow.SetQueryHandler(ctx, QueryGetDrainProgress, func() (QueueDrainProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	maxBatches := input.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 100
	}

	for progress.Batches < maxBatches {
		var out activities.ProcessQueueBatchOutput
		if err := workflow.ExecuteActivity(ctx, "ProcessQueueBatchActivity", activities.ProcessQueueBatchInput{
			BatchSize: input.BatchSize,
		}).Get(ctx, &out); err != nil {
			return progress, err
		}
		progress.Batches++
		progress.Succeeded += out.Report.Succeeded
		progress.Failed += out.Report.Failed
		progress.ChunksWritten += out.Report.ChunksWritten
		progress.Remaining = out.Report.Remaining

		if out.Report.Fetched == 0 || out.Report.Remaining == 0 {
			progress.Done = true
			break
		}
		if input.PauseSeconds > 0 {
			if err := workflow.Sleep(ctx, time.Duration(input.PauseSeconds)*time.Second); err != nil {
				return progress, err
			}
		}
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.RunID
	_ = workflow.ExecuteActivity(ctx, "WriteRunReportActivity", activities.WriteRunReportInput{
		RunID: runID,
		Kind:  "queue-drain",
		Report: map[string]any{
			"run_id":         runID,
			"batches":        progress.Batches,
			"succeeded":      progress.Succeeded,
			"failed":         progress.Failed,
			"chunks_written": progress.ChunksWritten,
			"remaining":      progress.Remaining,
			"drained":        progress.Done,
			"generated_at":   workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return progress, nil
}

// RechunkAllWorkflow rebuilds the chunk store in a single long activity. The
// activity is not retried: a wipe-and-rebuild that failed halfway needs an
// operator decision, not an automatic second wipe.
func RechunkAllWorkflow(ctx workflow.Context, input RechunkAllWorkflowInput) (RechunkAllWorkflowOutput, error) {
	running := true
	if err := workflow.SetQueryHandler(ctx, QueryGetRechunkRunning, func() (bool, error) {
		return running, nil
	}); err != nil {
		return RechunkAllWorkflowOutput{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out activities.RechunkAllOutput
	if err := workflow.ExecuteActivity(ctx, "RechunkAllActivity", activities.RechunkAllInput{
		Mode:   input.Mode,
		Params: input.Params,
	}).Get(ctx, &out); err != nil {
		running = false
		return RechunkAllWorkflowOutput{}, err
	}
	running = false

	var reportOut activities.WriteRunReportOutput
	_ = workflow.ExecuteActivity(ctx, "WriteRunReportActivity", activities.WriteRunReportInput{
		RunID: out.Report.RunID,
		Kind:  "rechunk",
		Report: map[string]any{
			"run_id":         out.Report.RunID,
			"mode":           out.Report.Mode,
			"params":         out.Report.Params,
			"planned":        out.Report.Planned,
			"processed":      out.Report.Processed,
			"failed_ids":     out.Report.FailedIDs,
			"chunks_written": out.Report.ChunksWritten,
			"generated_at":   workflow.Now(ctx),
		},
	}).Get(ctx, &reportOut)

	return RechunkAllWorkflowOutput{Report: out.Report, ReportPath: reportOut.Path}, nil
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}
