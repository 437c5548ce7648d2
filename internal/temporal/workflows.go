package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const maxAttempts = 3

// BatchInput holds the workflow parameters.
type BatchInput struct {
	Paths []string

	Draws        int
	Seed         uint64
	Budget       time.Duration
	Significance float64
	AllOutputs   bool
	MaxEvidence  int

	// ReportDir receives one JSON run report per workbook (optional).
	ReportDir string
	// StoreGraphs persists each graph and ranking to the graph store.
	StoreGraphs bool
}

// BatchOutput holds the workflow result.
type BatchOutput struct {
	Workbooks []WorkbookResult
	Failed    int
	Flaggable int
}

// AuditBatchWorkflow analyzes each workbook in turn. A workbook that fails
// is recorded and the batch continues.
func AuditBatchWorkflow(ctx workflow.Context, input BatchInput) (*BatchOutput, error) {
	budget := input.Budget
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	ao := workflow.ActivityOptions{
		// the pass stops drawing at its budget, leave room for restore
		StartToCloseTimeout: 2*budget + time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: maxAttempts,
			NonRetryableErrorTypes: []string{
				ErrTypeNoApplicableInputs,
				ErrTypeGraphBuild,
				ErrTypeResourceExhausted,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	out := &BatchOutput{}
	for _, path := range input.Paths {
		var res WorkbookResult
		err := workflow.ExecuteActivity(ctx, AnalyzeWorkbookActivity, input, path).Get(ctx, &res)
		if err != nil {
			logger.Warn("workbook analysis failed", "path", path, "error", err)
			out.Workbooks = append(out.Workbooks, WorkbookResult{Path: path, Error: err.Error()})
			out.Failed++
			continue
		}

		if input.StoreGraphs {
			if err := workflow.ExecuteActivity(ctx, StoreGraphActivity, path, res.Ranked).Get(ctx, nil); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("store graph: %v", err))
			}
		}
		out.Flaggable += len(res.Flaggable)
		out.Workbooks = append(out.Workbooks, res)
	}

	if out.Failed == len(input.Paths) && len(input.Paths) > 0 {
		return out, fmt.Errorf("all %d workbooks failed", out.Failed)
	}
	return out, nil
}
