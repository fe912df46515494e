// -----------------------------------------------------------------------
// Submission - one (product, directory) pair and its processing state
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// SubmissionStatus is the persisted lifecycle state of a submission
type SubmissionStatus string

const (
	SubmissionPending             SubmissionStatus = "pending"
	SubmissionSubmitted           SubmissionStatus = "submitted"
	SubmissionApproved            SubmissionStatus = "approved"
	SubmissionFailed              SubmissionStatus = "failed"
	SubmissionAutoRetrySuppressed SubmissionStatus = "auto_retry_suppressed"
)

// AllSubmissionStatuses lists every status in display order
var AllSubmissionStatuses = []SubmissionStatus{
	SubmissionPending,
	SubmissionSubmitted,
	SubmissionApproved,
	SubmissionFailed,
	SubmissionAutoRetrySuppressed,
}

// IsValid reports whether s is one of the known statuses
func (s SubmissionStatus) IsValid() bool {
	for _, known := range AllSubmissionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Submission is the persisted record for a product submitted to a directory.
// RetryCount counts automatic requeues, SuppressionCount counts operator
// stop-auto-retry actions. The two are never shared.
type Submission struct {
	ID               string           `json:"id" badgerhold:"key"`
	JobID            string           `json:"job_id,omitempty"`
	ProductID        string           `json:"product_id" badgerhold:"index"`
	DirectoryID      string           `json:"directory_id"`
	Status           SubmissionStatus `json:"status" badgerhold:"index"`
	RetryCount       int              `json:"retry_count"`
	SuppressionCount int              `json:"suppression_count"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ErrorKind        ErrorKind        `json:"error_kind,omitempty"`
	FormResult       *FormResult      `json:"form_result,omitempty"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsPermanentlyFailed reports whether the submission has exhausted its
// automatic retries or ended on a terminal error kind.
func (s *Submission) IsPermanentlyFailed(maxRetries int) bool {
	if s.Status != SubmissionFailed {
		return false
	}
	return s.RetryCount >= maxRetries || s.ErrorKind.IsTerminal()
}

// SubmissionUpdate is a partial update. Nil fields are left unchanged.
type SubmissionUpdate struct {
	Status           *SubmissionStatus
	RetryCount       *int
	SuppressionCount *int
	ErrorMessage     *string
	ErrorKind        *ErrorKind
	FormResult       *FormResult
	SubmittedAt      *time.Time
}

// Apply copies the set fields of u onto s and bumps UpdatedAt
func (u SubmissionUpdate) Apply(s *Submission, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
	if u.SuppressionCount != nil {
		s.SuppressionCount = *u.SuppressionCount
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorKind != nil {
		s.ErrorKind = *u.ErrorKind
	}
	if u.FormResult != nil {
		s.FormResult = u.FormResult
	}
	if u.SubmittedAt != nil {
		t := *u.SubmittedAt
		s.SubmittedAt = &t
	}
	s.UpdatedAt = now
}

// FormResult is the audit payload stored after each pipeline run
type FormResult struct {
	FormStructure  *FormStructure `json:"form_structure,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	FieldsFilled   int            `json:"fields_filled"`
	TotalFields    int            `json:"total_fields"`
	FillErrors     []FillError    `json:"fill_errors,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	Verdict        *Verdict       `json:"verdict,omitempty"`
	PageExcerpt    string         `json:"page_excerpt,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
}

// SubmissionLogEntry is a log line captured for a single submission
type SubmissionLogEntry struct {
	SubmissionID  string `json:"submission_id" badgerhold:"index"`
	Timestamp     string `json:"timestamp"`
	FullTimestamp string `json:"full_timestamp"`
	Level         string `json:"level"`
	Message       string `json:"message"`
	Stage         string `json:"stage,omitempty"`
}

// StatusBreakdown counts submissions per status for one product
type StatusBreakdown struct {
	ProductID   string                   `json:"product_id"`
	Total       int                      `json:"total"`
	ByStatus    map[SubmissionStatus]int `json:"by_status"`
	Submissions []*Submission            `json:"submissions"`
}

// JobStartResult is returned when a submission job is started for a product
type JobStartResult struct {
	JobID       string   `json:"job_id"`
	ProductID   string   `json:"product_id"`
	Created     int      `json:"created"`
	Skipped     int      `json:"skipped"`
	Submissions []string `json:"submission_ids"`
}
