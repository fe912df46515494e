package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/genieops/internal/models"
)

func TestProgressTracker_PercentNeverDecreases(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	tracker.Begin("sub_1", 1)

	require.True(t, tracker.Update("sub_1", models.StageAnalyzingForm, 30, "Analyzing"))
	require.True(t, tracker.Update("sub_1", models.StageFillingForm, 20, "Filling"))

	entry, ok := tracker.Get("sub_1")
	require.True(t, ok)
	assert.Equal(t, 30, entry.Percent)
	assert.Equal(t, models.StageFillingForm, entry.Stage)
	assert.Equal(t, "Filling", entry.Message)
}

func TestProgressTracker_FinishIsFinal(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	tracker.Begin("sub_1", 1)
	tracker.Update("sub_1", models.StageSubmitting, 80, "Submitting")

	require.True(t, tracker.Finish("sub_1", models.StageCompleted, "done"))
	assert.False(t, tracker.Update("sub_1", models.StageFillingForm, 90, "late"))
	assert.False(t, tracker.Finish("sub_1", models.StageError, "again"))

	entry, _ := tracker.Get("sub_1")
	assert.Equal(t, 100, entry.Percent)
	assert.Equal(t, models.StageCompleted, entry.Stage)
	assert.NotNil(t, entry.FinishedAt)
	assert.True(t, entry.Stage.IsFinal())
}

func TestProgressTracker_FailureKeepsPercent(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	tracker.Begin("sub_1", 1)
	tracker.Update("sub_1", models.StageFillingForm, 60, "Filling")
	tracker.Finish("sub_1", models.StageError, "boom")

	entry, _ := tracker.Get("sub_1")
	assert.Equal(t, 60, entry.Percent)
}

func TestProgressTracker_BeginResetsAttempt(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	tracker.Begin("sub_1", 1)
	tracker.Update("sub_1", models.StageSubmitting, 80, "")
	tracker.Finish("sub_1", models.StageError, "")

	entry := tracker.Begin("sub_1", 2)
	assert.Equal(t, 2, entry.Attempt)
	assert.Equal(t, 0, entry.Percent)
	assert.Equal(t, models.StageQueued, entry.Stage)
	assert.Nil(t, entry.FinishedAt)
}

func TestProgressTracker_UnknownSubmission(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	assert.False(t, tracker.Update("missing", models.StageFillingForm, 10, ""))
	_, ok := tracker.Get("missing")
	assert.False(t, ok)
}

func TestProgressTracker_Prune(t *testing.T) {
	tracker := NewProgressTracker(time.Minute)
	start := time.Now()
	tracker.now = func() time.Time { return start }

	tracker.Begin("sub_done", 1)
	tracker.Finish("sub_done", models.StageCompleted, "")
	tracker.Begin("sub_running", 1)

	tracker.now = func() time.Time { return start.Add(2 * time.Minute) }
	assert.Equal(t, 1, tracker.Prune())

	_, ok := tracker.Get("sub_done")
	assert.False(t, ok)
	_, ok = tracker.Get("sub_running")
	assert.True(t, ok)
}

func TestProgressTracker_AllSortedByStart(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)
	start := time.Now()
	for i, id := range []string{"sub_b", "sub_a", "sub_c"} {
		at := start.Add(time.Duration(i) * time.Second)
		tracker.now = func() time.Time { return at }
		tracker.Begin(id, 1)
	}

	all := tracker.All()
	require.Len(t, all, 3)
	assert.Equal(t, "sub_b", all[0].SubmissionID)
	assert.Equal(t, "sub_a", all[1].SubmissionID)
	assert.Equal(t, "sub_c", all[2].SubmissionID)
}

func TestProgressTracker_OnChange(t *testing.T) {
	tracker := NewProgressTracker(time.Hour)

	var mu sync.Mutex
	var seen []int
	tracker.OnChange(func(e models.ProgressEntry) {
		mu.Lock()
		seen = append(seen, e.Percent)
		mu.Unlock()
	})

	tracker.Begin("sub_1", 1)
	tracker.Update("sub_1", models.StageAnalyzingForm, 40, "")
	tracker.Finish("sub_1", models.StageCompleted, "")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 40, 100}, seen)
}
