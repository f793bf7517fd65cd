package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ExtractTextActivity)
	w.RegisterActivity(a.UpsertDocumentActivity)
	w.RegisterActivity(a.ChunkAndEmbedActivity)
	w.RegisterActivity(a.EnqueueDocumentActivity)
	w.RegisterActivity(a.ProcessQueueBatchActivity)
	w.RegisterActivity(a.RechunkAllActivity)
	w.RegisterActivity(a.HybridSearchActivity)
	w.RegisterActivity(a.QueueDepthActivity)
	w.RegisterActivity(a.WriteRunReportActivity)
}
