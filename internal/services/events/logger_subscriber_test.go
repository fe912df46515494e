package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	assert.NoError(t, subscriber(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionProgress,
		Payload: models.ProgressEntry{SubmissionID: "sub_1", Stage: models.StageFillingForm, Percent: 50},
	}))
	assert.NoError(t, subscriber(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionFinished,
		Payload: map[string]interface{}{"submission_id": "sub_1", "status": "submitted"},
	}))
	assert.NoError(t, subscriber(ctx, interfaces.Event{Type: interfaces.EventSubmissionLog}))
}

func TestLoggerSubscriberDoesNotInterfere(t *testing.T) {
	logger := arbor.NewLogger()
	service := NewService(logger)
	defer service.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(service, logger))

	calls := 0
	require.NoError(t, service.Subscribe(interfaces.EventSubmissionFinished, func(ctx context.Context, event interfaces.Event) error {
		calls++
		return nil
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventSubmissionFinished,
		Payload: map[string]interface{}{"submission_id": "sub_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
