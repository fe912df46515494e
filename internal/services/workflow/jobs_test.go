package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

func seedCatalog(t *testing.T, store interfaces.StorageManager, directoryIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ProductStorage().SaveProduct(ctx, acme()))
	for _, id := range directoryIDs {
		require.NoError(t, store.DirectoryStorage().SaveDirectory(ctx, &models.Directory{
			ID:   id,
			Name: id,
			URL:  "https://" + id + ".example.com",
		}))
	}
}

func TestJobService_StartJobAllDirectories(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedCatalog(t, store, "dir_a", "dir_b", "dir_c")
	jobs := NewJobService(store, arbor.NewLogger())

	result, err := jobs.StartJob(ctx, "prd_acme", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Zero(t, result.Skipped)
	assert.Len(t, result.Submissions, 3)
	assert.NotEmpty(t, result.JobID)

	pending, err := store.SubmissionStorage().GetPendingSubmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, sub := range pending {
		assert.Equal(t, result.JobID, sub.JobID)
		assert.Equal(t, "prd_acme", sub.ProductID)
		assert.Zero(t, sub.RetryCount)
	}
}

func TestJobService_StartJobSkipsExistingPairs(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedCatalog(t, store, "dir_a", "dir_b")
	jobs := NewJobService(store, arbor.NewLogger())

	_, err := jobs.StartJob(ctx, "prd_acme", []string{"dir_a"})
	require.NoError(t, err)

	result, err := jobs.StartJob(ctx, "prd_acme", []string{"dir_a", "dir_b", "dir_a"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)

	all, err := store.SubmissionStorage().ListSubmissions(ctx, interfaces.SubmissionListOptions{ProductID: "prd_acme"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJobService_StartJobErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	jobs := NewJobService(store, arbor.NewLogger())

	_, err := jobs.StartJob(ctx, "prd_missing", nil)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	seedCatalog(t, store)
	_, err = jobs.StartJob(ctx, "prd_acme", nil)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidState))

	_, err = jobs.StartJob(ctx, "prd_acme", []string{"dir_missing"})
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestJobService_JobStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedCatalog(t, store, "dir_a", "dir_b")
	jobs := NewJobService(store, arbor.NewLogger())

	result, err := jobs.StartJob(ctx, "prd_acme", nil)
	require.NoError(t, err)

	status := models.SubmissionFailed
	_, err = store.SubmissionStorage().UpdateSubmission(ctx, result.Submissions[0], models.SubmissionUpdate{Status: &status})
	require.NoError(t, err)

	breakdown, err := jobs.JobStatus(ctx, "prd_acme")
	require.NoError(t, err)
	assert.Equal(t, 2, breakdown.Total)
	assert.Equal(t, 1, breakdown.ByStatus[models.SubmissionPending])
	assert.Equal(t, 1, breakdown.ByStatus[models.SubmissionFailed])
	assert.Len(t, breakdown.ByStatus, len(models.AllSubmissionStatuses))

	_, err = jobs.JobStatus(ctx, "prd_missing")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}
