package interfaces

import "time"

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerService manages cron-based maintenance jobs
type SchedulerService interface {
	// Start begins running registered jobs
	Start() error

	// Stop halts the cron runner and waits for running jobs
	Stop() error

	// RegisterJob registers a named job with a six-field cron schedule
	RegisterJob(name, schedule, description string, handler func() error) error

	// TriggerJob runs a registered job immediately
	TriggerJob(name string) error

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
