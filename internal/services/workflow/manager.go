// -----------------------------------------------------------------------
// Workflow manager - polls pending submissions and runs them in slots
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// ManagerOptions tunes the scheduler
type ManagerOptions struct {
	MaxConcurrent      int
	BatchSize          int
	ProcessingInterval time.Duration
	MaxRetries         int
	RetryCooldown      time.Duration
	SuppressionCeiling int
	ScreenshotsDir     string
}

// ManagerOptionsFromConfig builds options from config
func ManagerOptionsFromConfig(cfg *common.WorkflowConfig, storage *common.StorageConfig) ManagerOptions {
	return ManagerOptions{
		MaxConcurrent:      cfg.MaxConcurrent,
		BatchSize:          cfg.BatchSize,
		ProcessingInterval: common.ParseDuration(cfg.ProcessingInterval, 30*time.Second),
		MaxRetries:         cfg.MaxRetries,
		RetryCooldown:      common.ParseDuration(cfg.RetryCooldown, 30*time.Second),
		SuppressionCeiling: cfg.SuppressionCeiling,
		ScreenshotsDir:     storage.ScreenshotsDir,
	}
}

// Manager schedules submission runs. At most one task per submission id is
// live at any time and at most MaxConcurrent tasks are started by polling.
type Manager struct {
	submissions interfaces.SubmissionStorage
	products    interfaces.ProductStorage
	directories interfaces.DirectoryStorage
	submitter   interfaces.Submitter
	executor    interfaces.CommandExecutor
	events      interfaces.EventService
	progress    *ProgressTracker
	opts        ManagerOptions
	logger      arbor.ILogger
	now         func() time.Time

	mu               sync.Mutex
	tasks            map[string]struct{}
	running          bool
	closed           bool
	stopCh           chan struct{}
	loopDone         chan struct{}
	group            *common.TaskGroup
	lastCycleAt      *time.Time
	lastCycleStarted int
}

var _ interfaces.WorkflowManager = (*Manager)(nil)

// NewManager creates a manager. executor and events may be nil; executor
// is only used for pool status.
func NewManager(
	storage interfaces.StorageManager,
	submitter interfaces.Submitter,
	executor interfaces.CommandExecutor,
	events interfaces.EventService,
	progress *ProgressTracker,
	opts ManagerOptions,
	logger arbor.ILogger,
) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.ProcessingInterval <= 0 {
		opts.ProcessingInterval = 30 * time.Second
	}
	if opts.SuppressionCeiling <= 0 {
		opts.SuppressionCeiling = 5
	}

	m := &Manager{
		submissions: storage.SubmissionStorage(),
		products:    storage.ProductStorage(),
		directories: storage.DirectoryStorage(),
		submitter:   submitter,
		executor:    executor,
		events:      events,
		progress:    progress,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		tasks:       make(map[string]struct{}),
		group:       common.NewTaskGroup(logger),
	}

	if events != nil {
		progress.OnChange(m.publishProgress)
	}

	logger.Info().
		Int("max_concurrent", opts.MaxConcurrent).
		Int("batch_size", opts.BatchSize).
		Dur("interval", opts.ProcessingInterval).
		Int("max_retries", opts.MaxRetries).
		Dur("retry_cooldown", opts.RetryCooldown).
		Msg("Workflow manager initialized")
	return m
}

// Start begins periodic processing
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn().Msg("Workflow manager is already running")
		return nil
	}
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("workflow manager cannot be restarted after stop")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})
	stopCh, loopDone := m.stopCh, m.loopDone
	m.mu.Unlock()

	common.SafeGo(m.logger, "workflow-scheduler", func() {
		defer close(loopDone)
		m.loop(context.WithoutCancel(ctx), stopCh)
	})

	m.logger.Info().Msg("Workflow manager started")
	return nil
}

// Stop ends polling and waits for every in-flight submission to finish
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var loopDone chan struct{}
	if m.running {
		m.running = false
		close(m.stopCh)
		loopDone = m.loopDone
	}
	active := len(m.tasks)
	m.mu.Unlock()

	// Manual runs may be in flight even when polling never started
	if loopDone != nil {
		<-loopDone
	}
	if active > 0 {
		m.logger.Info().Int("active_tasks", active).Msg("Waiting for active submissions to complete")
	}
	m.group.Wait()

	m.logger.Info().Msg("Workflow manager stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.opts.ProcessingInterval)
	defer ticker.Stop()

	for {
		if _, err := m.TriggerProcessing(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Processing cycle failed")
		}
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// TriggerProcessing runs one poll cycle: requeue cooled-down failures, then
// start pending submissions in the free slots. Returns how many started.
func (m *Manager) TriggerProcessing(ctx context.Context) (int, error) {
	if n := m.progress.Prune(); n > 0 {
		m.logger.Debug().Int("removed", n).Msg("Pruned finished progress entries")
	}

	if _, err := m.requeue(ctx, m.now().Add(-m.opts.RetryCooldown), "cooldown"); err != nil {
		m.logger.Warn().Err(err).Msg("Cooldown requeue failed")
	}

	started, err := m.startPending(ctx, m.opts.BatchSize)

	now := m.now()
	m.mu.Lock()
	m.lastCycleAt = &now
	m.lastCycleStarted = started
	m.mu.Unlock()
	return started, err
}

// ProcessAllPending starts up to limit pending submissions now, bounded by
// free slots. limit <= 0 uses the batch size.
func (m *Manager) ProcessAllPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = m.opts.BatchSize
	}
	return m.startPending(ctx, limit)
}

func (m *Manager) startPending(ctx context.Context, limit int) (int, error) {
	if m.activeCount() >= m.opts.MaxConcurrent {
		m.logger.Debug().Int("max_concurrent", m.opts.MaxConcurrent).Msg("All slots are busy, skipping this cycle")
		return 0, nil
	}

	pending, err := m.submissions.GetPendingSubmissions(ctx, limit)
	if err != nil {
		return 0, models.NewWorkflowError(models.ErrorPersistence, "", "failed to load pending submissions", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	// Slots are claimed inside startTask, so concurrent cycles cannot
	// exceed MaxConcurrent between them
	started := 0
	for _, sub := range pending {
		outcome := m.startTask(ctx, sub, false)
		if outcome == taskStarted {
			started++
			continue
		}
		if outcome == taskSlotsFull || outcome == taskClosed {
			break
		}
	}

	if started > 0 {
		m.logger.Info().
			Int("pending", len(pending)).
			Int("started", started).
			Int("active", m.activeCount()).
			Msg("Started pending submissions")
	}
	return started, nil
}

// ProcessSubmission resumes one submission now, outside the poll cycle.
// Allowed for pending, failed and auto_retry_suppressed submissions.
func (m *Manager) ProcessSubmission(ctx context.Context, submissionID string) error {
	sub, err := m.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return models.NewWorkflowError(models.ErrorPersistence, "", "failed to load submission", err)
	}
	if sub == nil {
		return fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrNotFound)
	}

	switch sub.Status {
	case models.SubmissionPending, models.SubmissionFailed, models.SubmissionAutoRetrySuppressed:
	default:
		return fmt.Errorf("cannot process submission with status %s: %w", sub.Status, interfaces.ErrInvalidState)
	}
	if m.isActive(submissionID) {
		return fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrTaskRunning)
	}

	if sub.Status != models.SubmissionPending {
		status := models.SubmissionPending
		empty := ""
		sub, err = m.submissions.UpdateSubmission(ctx, submissionID, models.SubmissionUpdate{Status: &status, ErrorMessage: &empty})
		if err != nil {
			return models.NewWorkflowError(models.ErrorPersistence, "", "failed to reset submission", err)
		}
		if sub == nil {
			return fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrNotFound)
		}
	}

	switch m.startTask(ctx, sub, true) {
	case taskStarted:
	case taskClosed:
		return interfaces.ErrNotRunning
	default:
		return fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrTaskRunning)
	}
	m.logger.Info().Str("submission_id", submissionID).Msg("Submission scheduled manually")
	return nil
}

// RetryFailed requeues failed submissions last updated more than
// maxAgeHours ago that still have retries left
func (m *Manager) RetryFailed(ctx context.Context, maxAgeHours int) (int, error) {
	if maxAgeHours < 0 {
		maxAgeHours = 0
	}
	cutoff := m.now().Add(-time.Duration(maxAgeHours) * time.Hour)
	return m.requeue(ctx, cutoff, "retry_sweep")
}

// requeue moves eligible failed submissions back to pending and counts the retry
func (m *Manager) requeue(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	failed, err := m.submissions.ListFailedBefore(ctx, cutoff)
	if err != nil {
		return 0, models.NewWorkflowError(models.ErrorPersistence, "", "failed to list failed submissions", err)
	}

	requeued := 0
	for _, sub := range failed {
		if !m.retryable(sub) || m.isActive(sub.ID) {
			continue
		}
		status := models.SubmissionPending
		retries := sub.RetryCount + 1
		message := fmt.Sprintf("Retry %d/%d: %s", retries, m.opts.MaxRetries, sub.ErrorMessage)
		if _, err := m.submissions.UpdateSubmission(ctx, sub.ID, models.SubmissionUpdate{
			Status:       &status,
			RetryCount:   &retries,
			ErrorMessage: &message,
		}); err != nil {
			m.logger.Error().Err(err).Str("submission_id", sub.ID).Msg("Failed to requeue submission")
			continue
		}
		requeued++
		m.logger.Info().
			Str("submission_id", sub.ID).
			Int("retry_count", retries).
			Str("reason", reason).
			Msg("Submission requeued for retry")
	}
	return requeued, nil
}

// retryable reports whether a failed submission may be requeued automatically
func (m *Manager) retryable(sub *models.Submission) bool {
	if sub.Status != models.SubmissionFailed {
		return false
	}
	if sub.ErrorKind.IsTerminal() {
		return false
	}
	if sub.SuppressionCount >= m.opts.SuppressionCeiling {
		return false
	}
	return sub.RetryCount < m.opts.MaxRetries
}

// StopAutoRetry suppresses automatic retries for a submission. Reaching the
// suppression ceiling converges the submission to permanently failed.
func (m *Manager) StopAutoRetry(ctx context.Context, submissionID string) (*models.Submission, error) {
	sub, err := m.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to load submission", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrNotFound)
	}

	switch sub.Status {
	case models.SubmissionPending, models.SubmissionFailed, models.SubmissionAutoRetrySuppressed:
	default:
		return nil, fmt.Errorf("cannot suppress submission with status %s: %w", sub.Status, interfaces.ErrInvalidState)
	}
	if m.isActive(submissionID) {
		return nil, fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrTaskRunning)
	}

	count := sub.SuppressionCount + 1
	status := models.SubmissionAutoRetrySuppressed
	message := fmt.Sprintf("Auto-retry stopped by operator (%d/%d)", count, m.opts.SuppressionCeiling)
	if count >= m.opts.SuppressionCeiling {
		status = models.SubmissionFailed
		message = fmt.Sprintf("Auto-retry suppressed %d times, marked permanently failed", count)
	}

	updated, err := m.submissions.UpdateSubmission(ctx, submissionID, models.SubmissionUpdate{
		Status:           &status,
		SuppressionCount: &count,
		ErrorMessage:     &message,
	})
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrorPersistence, "", "failed to suppress submission", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, interfaces.ErrNotFound)
	}

	m.logger.Info().
		Str("submission_id", submissionID).
		Int("suppression_count", count).
		Str("status", string(status)).
		Msg("Auto-retry suppressed")
	return updated, nil
}

// -----------------------------------------------------------------------
// Tasks
// -----------------------------------------------------------------------

// startOutcome reports what startTask did
type startOutcome int

const (
	taskStarted startOutcome = iota
	taskAlreadyLive
	taskSlotsFull
	taskClosed
)

// startTask registers and launches a run unless one is already live for
// the id. Polled starts also claim a slot under the same lock; manual
// starts are not bounded by MaxConcurrent. Runs are detached from ctx
// cancellation so they always reach a terminal state.
func (m *Manager) startTask(ctx context.Context, sub *models.Submission, manual bool) startOutcome {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskClosed
	}
	if _, live := m.tasks[sub.ID]; live {
		return taskAlreadyLive
	}
	if !manual && len(m.tasks) >= m.opts.MaxConcurrent {
		return taskSlotsFull
	}
	m.tasks[sub.ID] = struct{}{}
	m.progress.Begin(sub.ID, sub.RetryCount+1)

	// Registered under the lock so Stop cannot miss it
	id := sub.ID
	m.group.Go("submission:"+id, func() {
		defer m.endTask(id)
		m.process(ctx, id, manual)
	})
	return taskStarted
}

func (m *Manager) endTask(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

func (m *Manager) isActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok
}

func (m *Manager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// process runs one attempt and persists its outcome. Manual runs skip the
// retry budget check.
func (m *Manager) process(ctx context.Context, id string, manual bool) {
	logger := m.logger.WithCorrelationId(id)

	sub, err := m.submissions.GetSubmission(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("submission_id", id).Msg("Failed to load submission")
		m.progress.Finish(id, models.StageError, "Failed to load submission")
		return
	}
	if sub == nil {
		logger.Warn().Str("submission_id", id).Msg("Submission not found")
		m.progress.Finish(id, models.StageError, "Submission not found")
		return
	}
	if sub.Status != models.SubmissionPending {
		logger.Debug().Str("submission_id", id).Str("status", string(sub.Status)).Msg("Submission is no longer pending")
		m.progress.Finish(id, models.StageError, "Submission is no longer pending")
		return
	}

	if !manual && sub.RetryCount >= m.opts.MaxRetries {
		logger.Warn().
			Str("submission_id", id).
			Int("retry_count", sub.RetryCount).
			Int("max_retries", m.opts.MaxRetries).
			Msg("Submission exceeded max retries, marking as failed")
		m.fail(ctx, sub, fmt.Sprintf("Exceeded maximum retry count (%d)", m.opts.MaxRetries))
		m.progress.Finish(id, models.StageFailed, "Exceeded maximum retry count")
		m.publishFinished(ctx, id, models.SubmissionFailed)
		return
	}

	product, err := m.products.GetProduct(ctx, sub.ProductID)
	if err != nil || product == nil {
		logger.Error().Err(err).Str("product_id", sub.ProductID).Msg("Product not found for submission")
		m.fail(ctx, sub, "Product not found")
		m.progress.Finish(id, models.StageFailed, "Product not found")
		m.publishFinished(ctx, id, models.SubmissionFailed)
		return
	}
	directory, err := m.directories.GetDirectory(ctx, sub.DirectoryID)
	if err != nil || directory == nil {
		logger.Error().Err(err).Str("directory_id", sub.DirectoryID).Msg("Directory not found for submission")
		m.fail(ctx, sub, "Directory not found")
		m.progress.Finish(id, models.StageFailed, "Directory not found")
		m.publishFinished(ctx, id, models.SubmissionFailed)
		return
	}

	logger.Info().
		Str("submission_id", id).
		Int("attempt", sub.RetryCount+1).
		Str("directory", directory.Name).
		Msg("Processing submission")

	result := m.submitter.Submit(ctx, directory, product, interfaces.SubmitOptions{
		SubmissionID:   id,
		ScreenshotPath: m.screenshotPath(id),
		Report: func(stage models.Stage, percent int, message string) {
			m.progress.Update(id, stage, percent, message)
		},
	})

	status, stage := m.persistResult(ctx, logger, sub, result)
	m.progress.Finish(id, stage, result.Message)
	m.publishFinished(ctx, id, status)
}

// persistResult maps a pipeline result onto the submission record
func (m *Manager) persistResult(ctx context.Context, logger arbor.ILogger, sub *models.Submission, result *models.WorkflowResult) (models.SubmissionStatus, models.Stage) {
	update := models.SubmissionUpdate{FormResult: result.FormResult()}
	var status models.SubmissionStatus
	var stage models.Stage
	message := ""
	kind := models.ErrorKind("")

	switch result.Status {
	case models.WorkflowSuccess, models.WorkflowPending:
		status = models.SubmissionSubmitted
		stage = models.StageCompleted
		now := m.now()
		update.SubmittedAt = &now
		if result.Status == models.WorkflowPending {
			message = result.Message
		}
		logger.Info().Str("submission_id", sub.ID).Msg("Submission completed")
	case models.WorkflowCaptchaRequired:
		status = models.SubmissionFailed
		stage = models.StageCaptchaRequired
		kind = models.ErrorCaptchaRequired
		message = "CAPTCHA detected - manual intervention required"
		logger.Warn().Str("submission_id", sub.ID).Msg("Submission requires CAPTCHA")
	default:
		status = models.SubmissionFailed
		stage = models.StageError
		kind = result.ErrorKind
		if kind == "" {
			kind = models.ErrorInternal
		}
		message = result.Message
		if sub.RetryCount+1 >= m.opts.MaxRetries {
			stage = models.StageFailed
		}
		logger.Warn().
			Str("submission_id", sub.ID).
			Str("error_kind", string(kind)).
			Int("attempt", sub.RetryCount+1).
			Str("error", message).
			Msg("Submission attempt failed")
	}

	update.Status = &status
	update.ErrorMessage = &message
	update.ErrorKind = &kind

	if _, err := m.submissions.UpdateSubmission(ctx, sub.ID, update); err != nil {
		logger.Error().
			Err(err).
			Str("submission_id", sub.ID).
			Str("error_kind", string(models.ErrorPersistence)).
			Msg("Failed to persist submission result")
		return status, models.StageError
	}
	return status, stage
}

// fail marks a submission permanently failed without running it
func (m *Manager) fail(ctx context.Context, sub *models.Submission, message string) {
	status := models.SubmissionFailed
	if _, err := m.submissions.UpdateSubmission(ctx, sub.ID, models.SubmissionUpdate{
		Status:       &status,
		ErrorMessage: &message,
	}); err != nil {
		m.logger.Error().Err(err).Str("submission_id", sub.ID).Msg("Failed to mark submission failed")
	}
}

// screenshotPath returns {dir}/submission_{id}_{unix}.png, or "" when
// screenshots are disabled or the directory cannot be created
func (m *Manager) screenshotPath(id string) string {
	if m.opts.ScreenshotsDir == "" {
		return ""
	}
	if err := os.MkdirAll(m.opts.ScreenshotsDir, 0755); err != nil {
		m.logger.Warn().Err(err).Str("dir", m.opts.ScreenshotsDir).Msg("Cannot create screenshots directory")
		return ""
	}
	return filepath.Join(m.opts.ScreenshotsDir, fmt.Sprintf("submission_%s_%d.png", id, m.now().Unix()))
}

// -----------------------------------------------------------------------
// Status and progress
// -----------------------------------------------------------------------

// Status returns a scheduler snapshot
func (m *Manager) Status() *models.WorkflowStatus {
	tracked := len(m.progress.All())

	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	status := &models.WorkflowStatus{
		IsRunning:          m.running,
		MaxConcurrent:      m.opts.MaxConcurrent,
		BatchSize:          m.opts.BatchSize,
		ProcessingInterval: m.opts.ProcessingInterval.String(),
		MaxRetries:         m.opts.MaxRetries,
		RetryCooldown:      m.opts.RetryCooldown.String(),
		ActiveTasks:        len(ids),
		TotalTrackedTasks:  tracked,
		LastCycleAt:        m.lastCycleAt,
		LastCycleStarted:   m.lastCycleStarted,
	}
	m.mu.Unlock()

	sort.Strings(ids)
	status.ActiveSubmissionIDs = ids
	if m.executor != nil {
		status.Pool = m.executor.Status()
	}
	return status
}

// Progress returns the live progress of one submission
func (m *Manager) Progress(submissionID string) (*models.ProgressEntry, bool) {
	return m.progress.Get(submissionID)
}

// AllProgress returns every tracked progress entry
func (m *Manager) AllProgress() []*models.ProgressEntry {
	return m.progress.All()
}

func (m *Manager) publishProgress(entry models.ProgressEntry) {
	if err := m.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventSubmissionProgress,
		Payload: entry,
	}); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to publish progress event")
	}
}

func (m *Manager) publishFinished(ctx context.Context, id string, status models.SubmissionStatus) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventSubmissionFinished,
		Payload: map[string]interface{}{
			"submission_id": id,
			"status":        string(status),
		},
	}); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to publish finished event")
	}
}
