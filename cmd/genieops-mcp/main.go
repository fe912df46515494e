package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/genieops/internal/common"
)

const defaultAPIURL = "http://localhost:8085"

func main() {
	apiURL := os.Getenv("GENIEOPS_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	client := newAPIClient(apiURL)

	mcpServer := server.NewMCPServer(
		"genieops",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Jobs
	mcpServer.AddTool(createStartJobTool(), handleStartJob(client, logger))
	mcpServer.AddTool(createJobStatusTool(), handleJobStatus(client, logger))
	mcpServer.AddTool(createProcessSubmissionTool(), handleProcessSubmission(client, logger))

	// Workflow
	mcpServer.AddTool(createWorkflowStatusTool(), handleWorkflowStatus(client, logger))
	mcpServer.AddTool(createProcessPendingTool(), handleProcessPending(client, logger))
	mcpServer.AddTool(createProcessAllTool(), handleProcessAll(client, logger))
	mcpServer.AddTool(createRetryFailedTool(), handleRetryFailed(client, logger))
	mcpServer.AddTool(createGetProgressTool(), handleGetProgress(client, logger))
	mcpServer.AddTool(createStopAutoRetryTool(), handleStopAutoRetry(client, logger))

	// Catalog and submissions
	mcpServer.AddTool(createListProductsTool(), handleListProducts(client, logger))
	mcpServer.AddTool(createListSubmissionsTool(), handleListSubmissions(client, logger))
	mcpServer.AddTool(createSubmissionLogsTool(), handleSubmissionLogs(client, logger))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Str("api_url", apiURL).Msg("MCP server failed")
	}
}
