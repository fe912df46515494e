package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/events"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope of every message pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types pushed over /ws
const (
	MessageHello              = "hello"
	MessageProgress           = "progress"
	MessageSubmissionLog      = "submission_log"
	MessageSubmissionFinished = "submission_finished"
)

// ProgressSource supplies the progress snapshot sent to new clients
type ProgressSource interface {
	AllProgress() []*models.ProgressEntry
}

// WebSocketHandler streams progress and submission logs to live clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	progress         ProgressSource
	throttle         *events.ProgressThrottle
	minLogRank       int
	serverInstanceID string // Clients use this to detect a server restart
}

// NewWebSocketHandler creates the handler and subscribes it to the event
// bus when eventService is non-nil. Call Start to begin periodic flushing.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	interval := time.Duration(0)
	minLevel := "info"
	if config != nil {
		interval = common.ParseDuration(config.ThrottleInterval, 250*time.Millisecond)
		if config.MinLevel != "" {
			minLevel = config.MinLevel
		}
	}

	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		minLogRank:       levelRank(minLevel),
		serverInstanceID: uuid.New().String(),
	}
	h.throttle = events.NewProgressThrottle(interval, h.broadcastProgress, logger)

	if eventService != nil {
		h.subscribe()
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Str("min_level", minLevel).
		Msg("WebSocket handler initialized")
	return h
}

// SetProgressSource sets where the initial progress snapshot comes from
func (h *WebSocketHandler) SetProgressSource(source ProgressSource) {
	h.progress = source
}

// Start runs the progress throttle flush loop until ctx is done
func (h *WebSocketHandler) Start(ctx context.Context) {
	h.throttle.Start(ctx)
}

func (h *WebSocketHandler) subscribe() {
	h.eventService.Subscribe(interfaces.EventSubmissionProgress, func(ctx context.Context, event interfaces.Event) error {
		switch entry := event.Payload.(type) {
		case models.ProgressEntry:
			h.throttle.Record(ctx, entry)
		case *models.ProgressEntry:
			h.throttle.Record(ctx, *entry)
		}
		return nil
	})

	h.eventService.Subscribe(interfaces.EventSubmissionLog, func(ctx context.Context, event interfaces.Event) error {
		entry, ok := event.Payload.(models.SubmissionLogEntry)
		if !ok || levelRank(entry.Level) < h.minLogRank {
			return nil
		}
		h.broadcast(MessageSubmissionLog, entry)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventSubmissionFinished, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(MessageSubmissionFinished, event.Payload)
		return nil
	})
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")
	h.sendHello(conn, mutex)

	defer func() {
		h.removeClient(conn)
		conn.Close()
	}()

	// Clients do not send commands; reading detects disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) sendHello(conn *websocket.Conn, mutex *sync.Mutex) {
	progress := []*models.ProgressEntry{}
	if h.progress != nil {
		if entries := h.progress.AllProgress(); entries != nil {
			progress = entries
		}
	}

	data, err := json.Marshal(WSMessage{
		Type: MessageHello,
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
			"progress":           progress,
		},
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}
	h.write(conn, mutex, data)
}

// broadcastProgress is the throttle's flush callback. It must not log on
// success; the log stream feeds back into the socket.
func (h *WebSocketHandler) broadcastProgress(ctx context.Context, entries []models.ProgressEntry) {
	for _, entry := range entries {
		h.broadcast(MessageProgress, entry)
	}
}

// broadcast sends one message to every client. Clients whose write fails
// are dropped.
func (h *WebSocketHandler) broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if !h.write(conn, mutexes[i], data) {
			h.removeClient(conn)
			conn.Close()
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) bool {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, existed := h.clients[conn]
	delete(h.clients, conn)
	remaining := len(h.clients)
	h.mu.Unlock()

	if existed {
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}
}

// levelRank orders both full level names and 3-letter codes
func levelRank(level string) int {
	switch strings.ToUpper(level) {
	case "TRACE", "TRC":
		return 0
	case "DEBUG", "DBG":
		return 1
	case "WARN", "WARNING", "WRN":
		return 3
	case "ERROR", "ERR":
		return 4
	case "FATAL", "PANIC", "FTL":
		return 5
	default:
		return 2
	}
}
