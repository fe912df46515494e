package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/httpclient"
	"github.com/ternarybob/genieops/internal/models"
)

// apiClient calls the GenieOps HTTP API
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewClient(30*time.Second, "genieops-mcp/"+common.GetVersion()),
	}
}

// apiError carries the error body of a non-2xx response
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Jobs and workflow
// -----------------------------------------------------------------------

func (c *apiClient) StartJob(ctx context.Context, productID string, directoryIDs []string) (*models.JobStartResult, error) {
	body := map[string]interface{}{"product_id": productID}
	if len(directoryIDs) > 0 {
		body["directory_ids"] = directoryIDs
	}
	var result models.JobStartResult
	if err := c.do(ctx, http.MethodPost, "/api/jobs/start", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) JobStatus(ctx context.Context, productID string) (*models.StatusBreakdown, error) {
	var breakdown models.StatusBreakdown
	if err := c.do(ctx, http.MethodGet, "/api/jobs/status/"+url.PathEscape(productID), nil, nil, &breakdown); err != nil {
		return nil, err
	}
	return &breakdown, nil
}

func (c *apiClient) ProcessSubmission(ctx context.Context, submissionID string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/process/"+url.PathEscape(submissionID), nil, nil, nil)
}

func (c *apiClient) WorkflowStatus(ctx context.Context) (*models.WorkflowStatus, error) {
	var status models.WorkflowStatus
	if err := c.do(ctx, http.MethodGet, "/api/workflow/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) ProcessPending(ctx context.Context) (int, error) {
	var result struct {
		Started int `json:"started"`
	}
	err := c.do(ctx, http.MethodPost, "/api/workflow/process-pending", nil, nil, &result)
	return result.Started, err
}

func (c *apiClient) ProcessAll(ctx context.Context, limit int) (int, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var result struct {
		Started int `json:"started"`
	}
	err := c.do(ctx, http.MethodPost, "/api/workflow/process-all", query, nil, &result)
	return result.Started, err
}

func (c *apiClient) RetryFailed(ctx context.Context, maxAgeHours int) (int, error) {
	query := url.Values{}
	query.Set("max_age_hours", fmt.Sprint(maxAgeHours))
	var result struct {
		Requeued int `json:"requeued"`
	}
	err := c.do(ctx, http.MethodPost, "/api/workflow/retry-failed", query, nil, &result)
	return result.Requeued, err
}

func (c *apiClient) Progress(ctx context.Context) ([]*models.ProgressEntry, error) {
	var result struct {
		Progress []*models.ProgressEntry `json:"progress"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workflow/progress", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Progress, nil
}

func (c *apiClient) StopAutoRetry(ctx context.Context, submissionID string) (*models.Submission, error) {
	var submission models.Submission
	if err := c.do(ctx, http.MethodPost, "/api/workflow/stop-auto-retry/"+url.PathEscape(submissionID), nil, nil, &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// -----------------------------------------------------------------------
// Catalog and submissions
// -----------------------------------------------------------------------

func (c *apiClient) ListProducts(ctx context.Context) ([]*models.Product, error) {
	var result struct {
		Products []*models.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Products, nil
}

func (c *apiClient) ListSubmissions(ctx context.Context, status, productID string, limit int) ([]*models.Submission, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if productID != "" {
		query.Set("product_id", productID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var result struct {
		Submissions []*models.Submission `json:"submissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/submissions", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Submissions, nil
}

func (c *apiClient) SubmissionLogs(ctx context.Context, submissionID string, limit int) ([]models.SubmissionLogEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var result struct {
		Logs []models.SubmissionLogEntry `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/submissions/"+url.PathEscape(submissionID)+"/logs", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}
