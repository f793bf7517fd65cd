package workflows

import (
	"context"
	"errors"
	"testing"

	"litsearch/internal/activities"
	"litsearch/internal/ingest"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newIngestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerActivityName(env, "ExtractTextActivity", func(context.Context, activities.ExtractTextInput) (activities.ExtractTextOutput, error) {
		return activities.ExtractTextOutput{}, nil
	})
	registerActivityName(env, "UpsertDocumentActivity", func(context.Context, activities.UpsertDocumentInput) (activities.UpsertDocumentOutput, error) {
		return activities.UpsertDocumentOutput{}, nil
	})
	registerActivityName(env, "ChunkAndEmbedActivity", func(context.Context, activities.ChunkAndEmbedInput) (activities.ChunkAndEmbedOutput, error) {
		return activities.ChunkAndEmbedOutput{}, nil
	})
	registerActivityName(env, "EnqueueDocumentActivity", func(context.Context, activities.EnqueueDocumentInput) error { return nil })
	return env
}

func TestDocumentIngestWorkflowSuccess(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, activities.ExtractTextInput{PDFPath: "/tmp/p.pdf"}).
		Return(activities.ExtractTextOutput{Text: "body text"}, nil)
	env.OnActivity("UpsertDocumentActivity", mock.Anything, activities.UpsertDocumentInput{Title: "p", Text: "body text"}).
		Return(activities.UpsertDocumentOutput{DocumentID: 42}, nil)
	env.OnActivity("ChunkAndEmbedActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkAndEmbedOutput{ChunksWritten: 5}, nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{PDFPath: "/tmp/p.pdf", Title: "p"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out DocumentIngestOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "processed", out.Status)
	require.Equal(t, int64(42), out.DocumentID)
	require.Equal(t, 5, out.ChunksWritten)
}

func TestDocumentIngestWorkflowNoTextFailsGracefully(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{}, errors.New("no extractable text found in PDF"))

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{PDFPath: "/tmp/p.pdf", Title: "p"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out DocumentIngestOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out.Status)
	require.NotEmpty(t, out.FailReason)
}

func TestDocumentIngestWorkflowDeferredEnqueues(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("UpsertDocumentActivity", mock.Anything, mock.Anything).
		Return(activities.UpsertDocumentOutput{DocumentID: 7}, nil)
	env.OnActivity("EnqueueDocumentActivity", mock.Anything, activities.EnqueueDocumentInput{DocumentID: 7, Priority: 2}).
		Return(nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{Title: "p", Text: "body", Deferred: true, Priority: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out DocumentIngestOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "queued", out.Status)
	env.AssertNotCalled(t, "ChunkAndEmbedActivity", mock.Anything, mock.Anything)
}

func TestQueueDrainWorkflowStopsWhenEmpty(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(QueueDrainWorkflow)
	registerActivityName(env, "ProcessQueueBatchActivity", func(context.Context, activities.ProcessQueueBatchInput) (activities.ProcessQueueBatchOutput, error) {
		return activities.ProcessQueueBatchOutput{}, nil
	})
	registerActivityName(env, "WriteRunReportActivity", func(context.Context, activities.WriteRunReportInput) (activities.WriteRunReportOutput, error) {
		return activities.WriteRunReportOutput{}, nil
	})

	calls := 0
	env.OnActivity("ProcessQueueBatchActivity", mock.Anything, mock.Anything).
		Return(func(context.Context, activities.ProcessQueueBatchInput) (activities.ProcessQueueBatchOutput, error) {
			calls++
			if calls < 3 {
				return activities.ProcessQueueBatchOutput{Report: ingest.QueueReport{Fetched: 5, Succeeded: 5, ChunksWritten: 10, Remaining: int64(10 - 5*calls)}}, nil
			}
			return activities.ProcessQueueBatchOutput{Report: ingest.QueueReport{Fetched: 0, Remaining: 0}}, nil
		})
	env.OnActivity("WriteRunReportActivity", mock.Anything, mock.Anything).
		Return(activities.WriteRunReportOutput{Path: "/tmp/report.json"}, nil)

	env.ExecuteWorkflow(QueueDrainWorkflow, QueueDrainInput{BatchSize: 5})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out QueueDrainProgress
	require.NoError(t, env.GetWorkflowResult(&out))
	require.True(t, out.Done)
	require.Equal(t, 10, out.Succeeded)
	require.Equal(t, 20, out.ChunksWritten)
}

func TestRechunkAllWorkflowWritesReport(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(RechunkAllWorkflow)
	registerActivityName(env, "RechunkAllActivity", func(context.Context, activities.RechunkAllInput) (activities.RechunkAllOutput, error) {
		return activities.RechunkAllOutput{}, nil
	})
	registerActivityName(env, "WriteRunReportActivity", func(context.Context, activities.WriteRunReportInput) (activities.WriteRunReportOutput, error) {
		return activities.WriteRunReportOutput{}, nil
	})

	env.OnActivity("RechunkAllActivity", mock.Anything, mock.Anything).
		Return(activities.RechunkAllOutput{Report: ingest.RechunkReport{RunID: "r1", Mode: ingest.ModeRechunkExisting, Processed: 3, ChunksWritten: 12}}, nil)
	env.OnActivity("WriteRunReportActivity", mock.Anything, mock.Anything).
		Return(activities.WriteRunReportOutput{Path: "/tmp/rechunk.json"}, nil)

	env.ExecuteWorkflow(RechunkAllWorkflow, RechunkAllWorkflowInput{Mode: ingest.ModeRechunkExisting})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RechunkAllWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "r1", out.Report.RunID)
	require.Equal(t, 3, out.Report.Processed)
	require.Equal(t, "/tmp/rechunk.json", out.ReportPath)
}
