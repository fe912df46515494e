package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createStartJobTool returns the start_job tool definition
func createStartJobTool() mcp.Tool {
	return mcp.NewTool("start_job",
		mcp.WithDescription("Create pending submissions of a product to directories"),
		mcp.WithString("product_id",
			mcp.Required(),
			mcp.Description("Product ID (format: prd_{uuid})"),
		),
		mcp.WithArray("directory_ids",
			mcp.WithStringItems(),
			mcp.Description("Directories to submit to (default: all directories)"),
		),
	)
}

// createJobStatusTool returns the job_status tool definition
func createJobStatusTool() mcp.Tool {
	return mcp.NewTool("job_status",
		mcp.WithDescription("Show submission counts per status for a product"),
		mcp.WithString("product_id",
			mcp.Required(),
			mcp.Description("Product ID"),
		),
	)
}

// createProcessSubmissionTool returns the process_submission tool definition
func createProcessSubmissionTool() mcp.Tool {
	return mcp.NewTool("process_submission",
		mcp.WithDescription("Run one submission now, outside the polling cycle"),
		mcp.WithString("submission_id",
			mcp.Required(),
			mcp.Description("Submission ID (format: sub_{uuid})"),
		),
	)
}

// createWorkflowStatusTool returns the workflow_status tool definition
func createWorkflowStatusTool() mcp.Tool {
	return mcp.NewTool("workflow_status",
		mcp.WithDescription("Show the workflow manager state, active tasks and browser workers"),
	)
}

// createProcessPendingTool returns the process_pending tool definition
func createProcessPendingTool() mcp.Tool {
	return mcp.NewTool("process_pending",
		mcp.WithDescription("Run one processing cycle immediately"),
	)
}

// createProcessAllTool returns the process_all tool definition
func createProcessAllTool() mcp.Tool {
	return mcp.NewTool("process_all",
		mcp.WithDescription("Start pending submissions up to a limit, bounded by free capacity"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum submissions to start (default: configured batch size)"),
		),
	)
}

// createRetryFailedTool returns the retry_failed tool definition
func createRetryFailedTool() mcp.Tool {
	return mcp.NewTool("retry_failed",
		mcp.WithDescription("Requeue recent failed submissions that still have retries left"),
		mcp.WithNumber("max_age_hours",
			mcp.Description("Only failures updated within this many hours (default: 24)"),
		),
	)
}

// createGetProgressTool returns the get_progress tool definition
func createGetProgressTool() mcp.Tool {
	return mcp.NewTool("get_progress",
		mcp.WithDescription("List live progress of running and recently finished submissions"),
	)
}

// createStopAutoRetryTool returns the stop_auto_retry tool definition
func createStopAutoRetryTool() mcp.Tool {
	return mcp.NewTool("stop_auto_retry",
		mcp.WithDescription("Exclude a failed submission from automatic retries"),
		mcp.WithString("submission_id",
			mcp.Required(),
			mcp.Description("Submission ID"),
		),
	)
}

// createListProductsTool returns the list_products tool definition
func createListProductsTool() mcp.Tool {
	return mcp.NewTool("list_products",
		mcp.WithDescription("List catalog products"),
	)
}

// createListSubmissionsTool returns the list_submissions tool definition
func createListSubmissionsTool() mcp.Tool {
	return mcp.NewTool("list_submissions",
		mcp.WithDescription("List submissions, optionally filtered by status or product"),
		mcp.WithString("status",
			mcp.Description("Filter: pending, submitted, approved, rejected, failed"),
		),
		mcp.WithString("product_id",
			mcp.Description("Filter by product ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 50)"),
		),
	)
}

// createSubmissionLogsTool returns the submission_logs tool definition
func createSubmissionLogsTool() mcp.Tool {
	return mcp.NewTool("submission_logs",
		mcp.WithDescription("Show the log lines recorded while processing a submission"),
		mcp.WithString("submission_id",
			mcp.Required(),
			mcp.Description("Submission ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max log lines (default: 200)"),
		),
	)
}
