package models

import "time"

// Stage is the operator-visible progress stage of one submission attempt
type Stage string

const (
	StageQueued          Stage = "queued"
	StageAnalyzingForm   Stage = "analyzing_form"
	StageFillingForm     Stage = "filling_form"
	StageSubmitting      Stage = "submitting"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageCaptchaRequired Stage = "captcha_required"
	StageError           Stage = "error"
)

// IsFinal reports whether no further progress updates are expected
func (s Stage) IsFinal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCaptchaRequired, StageError:
		return true
	}
	return false
}

// ProgressEntry is the live progress of one in-flight submission. Percent
// never decreases within one attempt.
type ProgressEntry struct {
	SubmissionID string     `json:"submission_id"`
	Attempt      int        `json:"attempt"`
	Stage        Stage      `json:"stage"`
	Percent      int        `json:"percent"`
	Message      string     `json:"message"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// WorkflowStatus is the scheduler snapshot returned to operators
type WorkflowStatus struct {
	IsRunning           bool        `json:"is_running"`
	MaxConcurrent       int         `json:"max_concurrent"`
	BatchSize           int         `json:"batch_size"`
	ProcessingInterval  string      `json:"processing_interval"`
	MaxRetries          int         `json:"max_retries"`
	RetryCooldown       string      `json:"retry_cooldown"`
	ActiveTasks         int         `json:"active_tasks"`
	ActiveSubmissionIDs []string    `json:"active_submission_ids"`
	TotalTrackedTasks   int         `json:"total_tracked_tasks"`
	Pool                *PoolStatus `json:"pool,omitempty"`
	LastCycleAt         *time.Time  `json:"last_cycle_at,omitempty"`
	LastCycleStarted    int         `json:"last_cycle_started"`
}

// PoolStatus describes the browser worker pool
type PoolStatus struct {
	Size      int            `json:"size"`
	Alive     int            `json:"alive"`
	Isolation string         `json:"isolation"`
	Sessions  int            `json:"sessions"`
	Workers   []WorkerStatus `json:"workers"`
}

// WorkerStatus describes one worker slot
type WorkerStatus struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Alive     bool   `json:"alive"`
	InFlight  int    `json:"in_flight"`
	Orphans   int    `json:"orphans"`
	Restarts  int    `json:"restarts"`
	Completed int64  `json:"completed"`
}
