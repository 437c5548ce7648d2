package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{
		// passes drive a single host sequentially
		MaxConcurrentActivityExecutionSize: 1,
	})
	Register(w)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// Register adds the batch workflow and its activities to r.
func Register(r worker.Registry) {
	r.RegisterWorkflow(AuditBatchWorkflow)
	r.RegisterActivity(AnalyzeWorkbookActivity)
	r.RegisterActivity(StoreGraphActivity)
}
