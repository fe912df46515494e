package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/events"
)

type staticProgress []*models.ProgressEntry

func (s staticProgress) AllProgress() []*models.ProgressEntry { return s }

func dialWS(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_HelloCarriesProgressSnapshot(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	handler.SetProgressSource(staticProgress{{SubmissionID: "sub_1", Stage: models.StageFillingForm, Percent: 60}})

	conn := dialWS(t, handler)
	msg := readMessage(t, conn)

	assert.Equal(t, MessageHello, msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.NotEmpty(t, payload["server_instance_id"])
	progress := payload["progress"].([]interface{})
	require.Len(t, progress, 1)
	assert.Equal(t, "sub_1", progress[0].(map[string]interface{})["submission_id"])
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	t.Cleanup(func() { bus.Close() })

	handler := NewWebSocketHandler(bus, logger, &common.WebSocketConfig{ThrottleInterval: "50ms", MinLevel: "info"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler.Start(ctx)

	conn := dialWS(t, handler)
	assert.Equal(t, MessageHello, readMessage(t, conn).Type)

	require.NoError(t, bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionProgress,
		Payload: models.ProgressEntry{SubmissionID: "sub_1", Stage: models.StageAnalyzingForm, Percent: 20},
	}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageProgress, msg.Type)
	assert.Equal(t, float64(20), msg.Payload.(map[string]interface{})["percent"])

	// Below the minimum level, dropped
	require.NoError(t, bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionLog,
		Payload: models.SubmissionLogEntry{SubmissionID: "sub_1", Level: "DBG", Message: "noise"},
	}))
	require.NoError(t, bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionLog,
		Payload: models.SubmissionLogEntry{SubmissionID: "sub_1", Level: "WRN", Message: "Form not found on first pass"},
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageSubmissionLog, msg.Type)
	assert.Equal(t, "Form not found on first pass", msg.Payload.(map[string]interface{})["message"])

	require.NoError(t, bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSubmissionFinished,
		Payload: map[string]interface{}{"submission_id": "sub_1", "status": "submitted"},
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageSubmissionFinished, msg.Type)
}

func TestWebSocket_DisconnectRemovesClient(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), nil)
	conn := dialWS(t, handler)
	readMessage(t, conn)

	conn.Close()
	require.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLevelRank(t *testing.T) {
	assert.Less(t, levelRank("DBG"), levelRank("info"))
	assert.Equal(t, levelRank("INF"), levelRank("info"))
	assert.Equal(t, levelRank("WRN"), levelRank("warn"))
	assert.Greater(t, levelRank("ERR"), levelRank("WRN"))
}
