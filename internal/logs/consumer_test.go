package logs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/events"
	"github.com/ternarybob/genieops/internal/storage/badger"
)

func TestTransformEvent(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 15, 30, 0, time.UTC)
	entry := transformEvent(arbormodels.LogEvent{
		Level:         log.WarnLevel,
		Timestamp:     at,
		CorrelationID: "sub_1",
		Message:       "Form not found on first pass",
		Fields: map[string]interface{}{
			"stage":         "analyzing",
			"submission_id": "sub_1",
			"attempt":       2,
			"url":           "https://launch.example.com",
		},
	})

	assert.Equal(t, "sub_1", entry.SubmissionID)
	assert.Equal(t, "09:15:30", entry.Timestamp)
	assert.Equal(t, at.Format(time.RFC3339Nano), entry.FullTimestamp)
	assert.Equal(t, "WRN", entry.Level)
	assert.Equal(t, "analyzing", entry.Stage)
	assert.Equal(t, "Form not found on first pass attempt=2 url=https://launch.example.com", entry.Message)
}

func TestShortLevel(t *testing.T) {
	assert.Equal(t, "DBG", shortLevel("debug"))
	assert.Equal(t, "INF", shortLevel("info"))
	assert.Equal(t, "WRN", shortLevel("warning"))
	assert.Equal(t, "ERR", shortLevel("error"))
	assert.Equal(t, "FTL", shortLevel("panic"))
	assert.Equal(t, "INF", shortLevel(""))
}

func TestConsumer_StoresAndPublishes(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewService(logger)
	t.Cleanup(func() { bus.Close() })

	var mu sync.Mutex
	var published []models.SubmissionLogEntry
	require.NoError(t, bus.Subscribe(interfaces.EventSubmissionLog, func(_ context.Context, e interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, e.Payload.(models.SubmissionLogEntry))
		return nil
	}))

	consumer := NewConsumer(store.SubmissionLogStorage(), bus, logger, "info")
	require.NoError(t, consumer.Start())

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Level: log.DebugLevel, Timestamp: now, CorrelationID: "sub_1", Message: "extract fields"},
		{Level: log.InfoLevel, Timestamp: now, CorrelationID: "sub_1", Message: "Navigated"},
		{Level: log.InfoLevel, Timestamp: now, CorrelationID: "req_abc", Message: "HTTP request"},
		{Level: log.ErrorLevel, Timestamp: now, CorrelationID: "sub_2", Message: "Submit failed"},
		{Level: log.InfoLevel, Timestamp: now, Message: "uncorrelated"},
	}

	require.Eventually(t, func() bool {
		logs, err := store.SubmissionLogStorage().GetLogs(ctx, "sub_1", 10)
		return err == nil && len(logs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	other, err := store.SubmissionLogStorage().GetLogs(ctx, "sub_2", 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "ERR", other[0].Level)

	stray, err := store.SubmissionLogStorage().GetLogs(ctx, "req_abc", 10)
	require.NoError(t, err)
	assert.Empty(t, stray)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop())
}
