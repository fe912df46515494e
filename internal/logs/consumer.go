package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// submissionPrefix marks correlation ids that belong to submissions.
// HTTP request ids and other correlated logs are not stored.
const submissionPrefix = "sub_"

// Consumer receives log batches from arbor's context channel, stores the
// lines of each submission and publishes them as submission_log events
type Consumer struct {
	storage       interfaces.SubmissionLogStorage
	eventService  interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel
}

// NewConsumer creates a new log consumer. eventService may be nil.
func NewConsumer(storage interfaces.SubmissionLogStorage, eventService interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:       storage,
		eventService:  eventService,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
}

func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "trace", "debug":
		return arbor.DebugLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// shortLevel converts level names to the 3-letter display codes
func shortLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return "TRC"
	case "DEBUG":
		return "DBG"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "FATAL", "PANIC":
		return "FTL"
	default:
		return "INF"
	}
}

// GetChannel returns the channel for arbor to send log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop cancels the consumer and waits for it to exit
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()
	defer func() {
		// Uncorrelated logger so the panic report is not fed back in
		if r := recover(); r != nil {
			c.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.handleBatch(batch)
		case <-c.ctx.Done():
			return
		}
	}
}

// handleBatch groups a batch by submission, stores each group, then
// publishes the entries at or above the event level
func (c *Consumer) handleBatch(batch []arbormodels.LogEvent) {
	bySubmission := make(map[string][]models.SubmissionLogEntry)
	var publish []models.SubmissionLogEntry

	for _, event := range batch {
		if !strings.HasPrefix(event.CorrelationID, submissionPrefix) {
			continue
		}
		entry := transformEvent(event)
		bySubmission[entry.SubmissionID] = append(bySubmission[entry.SubmissionID], entry)
		if c.eventService != nil && c.shouldPublish(event.Level) {
			publish = append(publish, entry)
		}
	}

	ids := make([]string, 0, len(bySubmission))
	for id := range bySubmission {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := c.storage.AppendLogs(c.ctx, id, bySubmission[id]); err != nil {
			c.logger.Warn().
				Err(err).
				Str("submission_id", id).
				Int("log_count", len(bySubmission[id])).
				Msg("Failed to store submission logs")
		}
	}

	for _, entry := range publish {
		if err := c.eventService.Publish(c.ctx, interfaces.Event{
			Type:    interfaces.EventSubmissionLog,
			Payload: entry,
		}); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to publish submission log event")
		}
	}
}

func (c *Consumer) shouldPublish(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

// transformEvent converts an arbor event into a stored log line. Fields
// other than stage are appended to the message as key=value pairs.
func transformEvent(event arbormodels.LogEvent) models.SubmissionLogEntry {
	entry := models.SubmissionLogEntry{
		SubmissionID:  event.CorrelationID,
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339Nano),
		Level:         shortLevel(event.Level.String()),
		Message:       event.Message,
	}

	keys := make([]string, 0, len(event.Fields))
	for key := range event.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := event.Fields[key]
		switch key {
		case "stage":
			entry.Stage = fmt.Sprintf("%v", value)
		case "submission_id":
		default:
			entry.Message += fmt.Sprintf(" %s=%v", key, value)
		}
	}
	return entry
}
