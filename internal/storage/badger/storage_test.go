package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	dir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := arbor.NewLogger()
	return newManager(newBadgerDBFromStore(store, logger), logger)
}

func TestSubmissionStorage_PendingOrderAndLimit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.SubmissionStorage()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"sub_c", "sub_a", "sub_b"} {
		require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
			ID:          id,
			ProductID:   "prd_1",
			DirectoryID: "dir_" + id,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
		ID:          "sub_done",
		ProductID:   "prd_1",
		DirectoryID: "dir_done",
		Status:      models.SubmissionSubmitted,
	}))

	pending, err := store.GetPendingSubmissions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "sub_c", pending[0].ID)
	assert.Equal(t, "sub_a", pending[1].ID)
}

func TestSubmissionStorage_PartialUpdate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.SubmissionStorage()

	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{ID: "sub_1", ProductID: "prd_1", DirectoryID: "dir_1"}))

	failed := models.SubmissionFailed
	msg := "navigation: timeout"
	kind := models.ErrorNavigation
	updated, err := store.UpdateSubmission(ctx, "sub_1", models.SubmissionUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
		ErrorKind:    &kind,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.SubmissionFailed, updated.Status)
	assert.Equal(t, 0, updated.RetryCount)

	retries := 1
	pending := models.SubmissionPending
	updated, err = store.UpdateSubmission(ctx, "sub_1", models.SubmissionUpdate{Status: &pending, RetryCount: &retries})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPending, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, msg, updated.ErrorMessage, "unset fields are preserved")

	missing, err := store.UpdateSubmission(ctx, "sub_missing", models.SubmissionUpdate{Status: &pending})
	require.NoError(t, err)
	assert.Nil(t, missing)

	bogus := models.SubmissionStatus("bogus")
	_, err = store.UpdateSubmission(ctx, "sub_1", models.SubmissionUpdate{Status: &bogus})
	assert.Error(t, err)
}

func TestSubmissionStorage_FindByPairAndCounts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.SubmissionStorage()

	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{ID: "sub_1", ProductID: "prd_1", DirectoryID: "dir_1"}))
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{ID: "sub_2", ProductID: "prd_1", DirectoryID: "dir_2", Status: models.SubmissionFailed}))
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{ID: "sub_3", ProductID: "prd_2", DirectoryID: "dir_1"}))

	found, err := store.FindByPair(ctx, "prd_1", "dir_2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "sub_2", found.ID)

	none, err := store.FindByPair(ctx, "prd_2", "dir_2")
	require.NoError(t, err)
	assert.Nil(t, none)

	counts, err := store.CountByStatus(ctx, "prd_1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SubmissionPending])
	assert.Equal(t, 1, counts[models.SubmissionFailed])
	assert.Equal(t, 0, counts[models.SubmissionApproved])

	listed, err := store.ListSubmissions(ctx, interfaces.SubmissionListOptions{ProductID: "prd_1", Status: models.SubmissionFailed})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "sub_2", listed[0].ID)

	require.NoError(t, store.DeleteSubmission(ctx, "sub_3"))
	gone, err := store.GetSubmission(ctx, "sub_3")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSubmissionLogStorage_ChronologicalTail(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	logs := m.SubmissionLogStorage()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var entries []models.SubmissionLogEntry
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		entries = append(entries, models.SubmissionLogEntry{
			FullTimestamp: ts.Format(time.RFC3339Nano),
			Timestamp:     ts.Format("15:04:05"),
			Level:         "info",
			Message:       fmt.Sprintf("msg-%02d", i),
		})
	}
	require.NoError(t, logs.AppendLogs(ctx, "sub_1", entries))
	require.NoError(t, logs.AppendLogs(ctx, "sub_2", entries[:1]))

	tail, err := logs.GetLogs(ctx, "sub_1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, "msg-02", tail[0].Message)
	assert.Equal(t, "msg-04", tail[2].Message)

	require.NoError(t, logs.DeleteLogs(ctx, "sub_1"))
	tail, err = logs.GetLogs(ctx, "sub_1", 0)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestLoadCatalogFile_UpsertsByURL(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `products:
  - name: Acme Analytics
    url: https://acme.io
    contact_email: founders@acme.io
    description: Privacy friendly analytics
  - name: Broken
    url: not-a-url
    contact_email: nope
directories:
  - name: SaaSHub
    url: https://www.saashub.com/submit
  - name: BetaList
    url: https://betalist.com/submit
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, m.LoadCatalogFile(ctx, path))
	require.NoError(t, m.LoadCatalogFile(ctx, path))

	products, err := m.ProductStorage().ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Acme Analytics", products[0].Name)

	directories, err := m.DirectoryStorage().ListDirectories(ctx)
	require.NoError(t, err)
	require.Len(t, directories, 2)
	assert.Equal(t, "BetaList", directories[0].Name)
}

func TestLoadCatalogFile_MissingFileIsSkipped(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.LoadCatalogFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")))
}
