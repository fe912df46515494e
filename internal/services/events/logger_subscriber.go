package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs submission events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Trace().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.ProgressEntry:
			logEvent = logEvent.
				Str("submission_id", payload.SubmissionID).
				Str("stage", string(payload.Stage)).
				Int("percent", payload.Percent)
		case map[string]interface{}:
			if id, ok := payload["submission_id"].(string); ok {
				logEvent = logEvent.Str("submission_id", id)
			}
			if status, ok := payload["status"].(string); ok {
				logEvent = logEvent.Str("status", status)
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to the lifecycle events.
// Submission log lines are not echoed back into the log.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventSubmissionProgress,
		interfaces.EventSubmissionFinished,
	}
	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().Int("event_type_count", len(eventTypes)).Msg("Logger subscribed to submission events")
	return nil
}
