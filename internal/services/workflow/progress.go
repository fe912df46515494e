package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/genieops/internal/models"
)

// ProgressTracker keeps the live progress of submissions being processed.
// It is operator feedback only; the submission record stays authoritative.
type ProgressTracker struct {
	mu        sync.RWMutex
	entries   map[string]*models.ProgressEntry
	retention time.Duration
	now       func() time.Time
	onChange  func(models.ProgressEntry)
}

// NewProgressTracker creates a tracker that keeps finished entries for retention
func NewProgressTracker(retention time.Duration) *ProgressTracker {
	return &ProgressTracker{
		entries:   make(map[string]*models.ProgressEntry),
		retention: retention,
		now:       time.Now,
	}
}

// OnChange registers a callback invoked with a copy of every changed entry.
// The callback runs outside the tracker lock.
func (t *ProgressTracker) OnChange(fn func(models.ProgressEntry)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Begin starts a new attempt, replacing any entry from a previous attempt
func (t *ProgressTracker) Begin(submissionID string, attempt int) models.ProgressEntry {
	now := t.now()
	entry := &models.ProgressEntry{
		SubmissionID: submissionID,
		Attempt:      attempt,
		Stage:        models.StageQueued,
		Percent:      0,
		Message:      "Queued for processing",
		StartedAt:    now,
		UpdatedAt:    now,
	}

	t.mu.Lock()
	t.entries[submissionID] = entry
	snapshot, notify := *entry, t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return snapshot
}

// Update advances the entry. Percent never decreases and a finished entry
// is not changed. Returns false when there is no open entry.
func (t *ProgressTracker) Update(submissionID string, stage models.Stage, percent int, message string) bool {
	t.mu.Lock()
	entry, ok := t.entries[submissionID]
	if !ok || entry.FinishedAt != nil {
		t.mu.Unlock()
		return false
	}
	if percent > entry.Percent {
		entry.Percent = clampPercent(percent)
	}
	entry.Stage = stage
	entry.Message = message
	entry.UpdatedAt = t.now()
	snapshot, notify := *entry, t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return true
}

// Finish closes the entry with a final stage. Completed entries jump to 100,
// failed ones keep the percent they reached.
func (t *ProgressTracker) Finish(submissionID string, stage models.Stage, message string) bool {
	t.mu.Lock()
	entry, ok := t.entries[submissionID]
	if !ok || entry.FinishedAt != nil {
		t.mu.Unlock()
		return false
	}
	now := t.now()
	if stage == models.StageCompleted {
		entry.Percent = 100
	}
	entry.Stage = stage
	entry.Message = message
	entry.UpdatedAt = now
	entry.FinishedAt = &now
	snapshot, notify := *entry, t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return true
}

// Get returns a copy of the entry for submissionID
func (t *ProgressTracker) Get(submissionID string) (*models.ProgressEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[submissionID]
	if !ok {
		return nil, false
	}
	out := *entry
	return &out, true
}

// All returns copies of every entry, oldest first
func (t *ProgressTracker) All() []*models.ProgressEntry {
	t.mu.RLock()
	out := make([]*models.ProgressEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		e := *entry
		out = append(out, &e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SubmissionID < out[j].SubmissionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Prune drops finished entries older than the retention window
func (t *ProgressTracker) Prune() int {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, entry := range t.entries {
		if entry.FinishedAt != nil && entry.FinishedAt.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
