package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/genieops/internal/models"
)

// formatJobStart formats a start_job result as markdown
func formatJobStart(result *models.JobStartResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s\n\n", result.JobID))
	sb.WriteString(fmt.Sprintf("**Product:** %s\n", result.ProductID))
	sb.WriteString(fmt.Sprintf("**Created:** %d submissions\n", result.Created))
	sb.WriteString(fmt.Sprintf("**Skipped:** %d existing\n", result.Skipped))
	if len(result.Submissions) > 0 {
		sb.WriteString("\n#### Submissions\n")
		for _, id := range result.Submissions {
			sb.WriteString(fmt.Sprintf("- %s\n", id))
		}
	}
	return sb.String()
}

// formatBreakdown formats the per-status counts of a product as markdown
func formatBreakdown(breakdown *models.StatusBreakdown) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Status for %s (%d submissions)\n\n", breakdown.ProductID, breakdown.Total))

	sb.WriteString("| Status | Count |\n|---|---|\n")
	for _, status := range models.AllSubmissionStatuses {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", status, breakdown.ByStatus[status]))
	}

	if len(breakdown.Submissions) > 0 {
		sb.WriteString("\n")
		sb.WriteString(formatSubmissions(breakdown.Submissions))
	}
	return sb.String()
}

// formatSubmissions formats a submission list as markdown
func formatSubmissions(submissions []*models.Submission) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Submissions (%d)\n\n", len(submissions)))

	if len(submissions) == 0 {
		sb.WriteString("No submissions found.\n")
		return sb.String()
	}

	for i, sub := range submissions {
		sb.WriteString(fmt.Sprintf("%d. **%s** %s -> %s [%s]\n", i+1, sub.ID, sub.ProductID, sub.DirectoryID, sub.Status))
		sb.WriteString(fmt.Sprintf("   Retries: %d, Updated: %s\n", sub.RetryCount, sub.UpdatedAt.Format(time.RFC3339)))
		if sub.ErrorMessage != "" {
			sb.WriteString(fmt.Sprintf("   Error (%s): %s\n", sub.ErrorKind, sub.ErrorMessage))
		}
	}
	return sb.String()
}

// formatWorkflowStatus formats the workflow manager snapshot as markdown
func formatWorkflowStatus(status *models.WorkflowStatus) string {
	var sb strings.Builder
	state := "stopped"
	if status.IsRunning {
		state = "running"
	}
	sb.WriteString(fmt.Sprintf("## Workflow (%s)\n\n", state))
	sb.WriteString(fmt.Sprintf("**Active tasks:** %d of %d\n", status.ActiveTasks, status.MaxConcurrent))
	sb.WriteString(fmt.Sprintf("**Batch size:** %d, **Interval:** %s\n", status.BatchSize, status.ProcessingInterval))
	sb.WriteString(fmt.Sprintf("**Max retries:** %d, **Cooldown:** %s\n", status.MaxRetries, status.RetryCooldown))
	if status.LastCycleAt != nil {
		sb.WriteString(fmt.Sprintf("**Last cycle:** %s (started %d)\n", status.LastCycleAt.Format(time.RFC3339), status.LastCycleStarted))
	}
	if len(status.ActiveSubmissionIDs) > 0 {
		sb.WriteString(fmt.Sprintf("**Running:** %s\n", strings.Join(status.ActiveSubmissionIDs, ", ")))
	}

	if status.Pool != nil {
		sb.WriteString(fmt.Sprintf("\n### Browser pool (%s, %d/%d alive)\n\n", status.Pool.Isolation, status.Pool.Alive, status.Pool.Size))
		sb.WriteString("| Worker | Alive | In flight | Restarts | Completed |\n|---|---|---|---|---|\n")
		for _, w := range status.Pool.Workers {
			sb.WriteString(fmt.Sprintf("| %d | %t | %d | %d | %d |\n", w.Index, w.Alive, w.InFlight, w.Restarts, w.Completed))
		}
	}
	return sb.String()
}

// formatProgress formats progress entries as markdown
func formatProgress(entries []*models.ProgressEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Progress (%d)\n\n", len(entries)))

	if len(entries) == 0 {
		sb.WriteString("Nothing in flight.\n")
		return sb.String()
	}

	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("- **%s** attempt %d: %s %d%%", entry.SubmissionID, entry.Attempt, entry.Stage, entry.Percent))
		if entry.Message != "" {
			sb.WriteString(" - " + entry.Message)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatProducts formats the product catalog as markdown
func formatProducts(products []*models.Product) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Products (%d)\n\n", len(products)))

	if len(products) == 0 {
		sb.WriteString("No products found.\n")
		return sb.String()
	}

	for i, p := range products {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, p.Name, p.ID))
		sb.WriteString(fmt.Sprintf("   URL: %s\n", p.URL))
		if p.Category != "" {
			sb.WriteString(fmt.Sprintf("   Category: %s\n", p.Category))
		}
	}
	return sb.String()
}

// formatLogs formats submission log lines as a code block
func formatLogs(submissionID string, logs []models.SubmissionLogEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Logs for %s (%d lines)\n\n", submissionID, len(logs)))

	if len(logs) == 0 {
		sb.WriteString("No logs recorded.\n")
		return sb.String()
	}

	sb.WriteString("```\n")
	for _, entry := range logs {
		sb.WriteString(fmt.Sprintf("%s %s %s\n", entry.Timestamp, entry.Level, entry.Message))
	}
	sb.WriteString("```\n")
	return sb.String()
}
