package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// requireID reads a required string parameter. The second result is non-nil
// when the parameter is missing.
func requireID(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	value, err := request.RequireString(name)
	if err != nil || value == "" {
		return "", errorResult("Error: %s parameter is required", name)
	}
	return value, nil
}

// handleStartJob implements the start_job tool
func handleStartJob(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, missing := requireID(request, "product_id")
		if missing != nil {
			return missing, nil
		}

		result, err := client.StartJob(ctx, productID, request.GetStringSlice("directory_ids", nil))
		if err != nil {
			logger.Error().Err(err).Str("product_id", productID).Msg("Start job failed")
			return errorResult("Start job error: %v", err), nil
		}
		return textResult(formatJobStart(result)), nil
	}
}

// handleJobStatus implements the job_status tool
func handleJobStatus(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, missing := requireID(request, "product_id")
		if missing != nil {
			return missing, nil
		}

		breakdown, err := client.JobStatus(ctx, productID)
		if err != nil {
			logger.Error().Err(err).Str("product_id", productID).Msg("Job status failed")
			return errorResult("Job status error: %v", err), nil
		}
		return textResult(formatBreakdown(breakdown)), nil
	}
}

// handleProcessSubmission implements the process_submission tool
func handleProcessSubmission(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, missing := requireID(request, "submission_id")
		if missing != nil {
			return missing, nil
		}

		if err := client.ProcessSubmission(ctx, submissionID); err != nil {
			logger.Error().Err(err).Str("submission_id", submissionID).Msg("Process submission failed")
			return errorResult("Process error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Submission %s accepted for processing. Use get_progress to follow it.", submissionID)), nil
	}
}

// handleWorkflowStatus implements the workflow_status tool
func handleWorkflowStatus(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := client.WorkflowStatus(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Workflow status failed")
			return errorResult("Workflow status error: %v", err), nil
		}
		return textResult(formatWorkflowStatus(status)), nil
	}
}

// handleProcessPending implements the process_pending tool
func handleProcessPending(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started, err := client.ProcessPending(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Process pending failed")
			return errorResult("Process pending error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Processing cycle ran, %d submissions started.", started)), nil
	}
}

// handleProcessAll implements the process_all tool
func handleProcessAll(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started, err := client.ProcessAll(ctx, request.GetInt("limit", 0))
		if err != nil {
			logger.Error().Err(err).Msg("Process all failed")
			return errorResult("Process all error: %v", err), nil
		}
		return textResult(fmt.Sprintf("%d submissions started.", started)), nil
	}
}

// handleRetryFailed implements the retry_failed tool
func handleRetryFailed(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		maxAge := request.GetInt("max_age_hours", 24)
		requeued, err := client.RetryFailed(ctx, maxAge)
		if err != nil {
			logger.Error().Err(err).Msg("Retry failed submissions failed")
			return errorResult("Retry error: %v", err), nil
		}
		return textResult(fmt.Sprintf("%d failed submissions from the last %d hours requeued.", requeued, maxAge)), nil
	}
}

// handleGetProgress implements the get_progress tool
func handleGetProgress(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := client.Progress(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Get progress failed")
			return errorResult("Progress error: %v", err), nil
		}
		return textResult(formatProgress(entries)), nil
	}
}

// handleStopAutoRetry implements the stop_auto_retry tool
func handleStopAutoRetry(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, missing := requireID(request, "submission_id")
		if missing != nil {
			return missing, nil
		}

		submission, err := client.StopAutoRetry(ctx, submissionID)
		if err != nil {
			logger.Error().Err(err).Str("submission_id", submissionID).Msg("Stop auto retry failed")
			return errorResult("Stop auto retry error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Submission %s is now %s.", submission.ID, submission.Status)), nil
	}
}

// handleListProducts implements the list_products tool
func handleListProducts(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		products, err := client.ListProducts(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("List products failed")
			return errorResult("List products error: %v", err), nil
		}
		return textResult(formatProducts(products)), nil
	}
}

// handleListSubmissions implements the list_submissions tool
func handleListSubmissions(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissions, err := client.ListSubmissions(ctx,
			request.GetString("status", ""),
			request.GetString("product_id", ""),
			request.GetInt("limit", 50),
		)
		if err != nil {
			logger.Error().Err(err).Msg("List submissions failed")
			return errorResult("List submissions error: %v", err), nil
		}
		return textResult(formatSubmissions(submissions)), nil
	}
}

// handleSubmissionLogs implements the submission_logs tool
func handleSubmissionLogs(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, missing := requireID(request, "submission_id")
		if missing != nil {
			return missing, nil
		}

		logs, err := client.SubmissionLogs(ctx, submissionID, request.GetInt("limit", 200))
		if err != nil {
			logger.Error().Err(err).Str("submission_id", submissionID).Msg("Submission logs failed")
			return errorResult("Logs error: %v", err), nil
		}
		return textResult(formatLogs(submissionID, logs)), nil
	}
}
