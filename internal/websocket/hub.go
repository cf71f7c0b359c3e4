package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Cadence of the silence-countdown evaluation.
	tickInterval = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients, one per attached session. The
// send channel of a client is never closed: orchestrator goroutines may
// still hold the notifier after release, and a late enqueue must drop the
// message, not crash the process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	registry *usecase.Registry
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(registry *usecase.Registry, logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		registry: registry,
		logger:   logger,
	}
}

// bind registers the client as the session's transport. It refuses a second
// transport for a session that already has one.
func (h *Hub) bind(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.sessionID]; ok {
		return false
	}
	h.clients[client.sessionID] = client
	h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))
	return true
}

// release removes the client. The pointer comparison keeps a stale client's
// teardown from removing a successor bound to the same session.
func (h *Hub) release(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[client.sessionID]; ok && current == client {
		delete(h.clients, client.sessionID)
		h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
	}
}

// attached reports whether the session has a live transport.
func (h *Hub) attached(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

// WriteData is one outbound websocket frame.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Client is the middleman between one websocket connection and one session
// orchestrator. It implements usecase.Notifier; the buffered send channel
// serializes delivery to the peer in production order.
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sessionID string
	orch      *usecase.Orchestrator

	// done stops the tick loop when the connection goes away.
	done     chan struct{}
	doneOnce sync.Once

	logger *zap.Logger
}

// HandleWebSocket attaches a websocket connection to a live session. One
// transport per session; a second connection is rejected rather than
// silently stealing the notifier.
func HandleWebSocket(hub *Hub, c echo.Context, orch *usecase.Orchestrator, logger *zap.Logger) error {
	if hub.attached(orch.ID()) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error":   "session_attached",
			"message": "session already has a live connection",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		sessionID: orch.ID(),
		orch:      orch,
		done:      make(chan struct{}),
		logger:    logger,
	}

	// Re-checked under the hub lock: two handshakes can pass the early
	// rejection concurrently.
	if !hub.bind(client) {
		conn.Close()
		return nil
	}

	go client.writePump()

	// Ready signal and turn replay go out before live events start.
	client.enqueueJSON(ReadyMessage{
		Type:      MessageTypeReady,
		SessionID: client.sessionID,
		Message:   "listening started",
	})
	client.replayTurns()

	if err := orch.Attach(client); err != nil {
		logger.Error("Failed to attach session", zap.String("sessionID", client.sessionID), zap.Error(err))
		client.enqueueJSON(ErrorMessage{Type: MessageTypeError, Message: "session unavailable"})
		client.teardown()
		conn.Close()
		return nil
	}

	go client.tickLoop()
	go client.readPump()

	return nil
}

// replayTurns resends the existing conversation so a client attaching after
// session start (or after an opening bot turn was seeded) sees full history.
func (c *Client) replayTurns() {
	for _, turn := range c.orch.Turns() {
		if turn.Speaker == entities.SpeakerBot {
			c.enqueueJSON(BotResponseMessage{
				Type:      MessageTypeBotResponse,
				Text:      turn.Text,
				Timestamp: formatTimestamp(turn.Timestamp),
			})
			continue
		}
		c.enqueueJSON(TranscriptionMessage{
			Type:           MessageTypeTranscription,
			Text:           turn.Text,
			PhraseComplete: true,
			Timestamp:      formatTimestamp(turn.Timestamp),
		})
	}
}

// readPump pumps messages from the websocket connection into the session.
// A read failure is an implicit session-end request.
func (c *Client) readPump() {
	defer func() {
		c.teardown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := c.orch.IngestAudio(message, time.Now()); err != nil {
				if errors.Is(err, usecase.ErrSessionClosed) {
					return
				}
				c.logger.Error("Failed to ingest audio chunk",
					zap.String("sessionID", c.sessionID),
					zap.Error(err))
			}
		case websocket.TextMessage:
			if c.processControlMessage(message) {
				return
			}
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// processControlMessage handles an inbound text frame. It reports whether
// the connection should close.
func (c *Client) processControlMessage(message []byte) bool {
	msg, err := ParseControlMessage(message)
	if err != nil {
		c.logger.Error("Failed to parse control message", zap.Error(err))
		return false
	}

	switch msg.Type {
	case MessageTypeEndSession:
		c.logger.Info("End session requested", zap.String("sessionID", c.sessionID))
		return true
	default:
		c.logger.Warn("Unknown control message type", zap.String("type", string(msg.Type)))
		return false
	}
}

// teardown ends the session exactly once: the registry cancels in-flight
// generation, flushes the segmenter and archives the transcript.
func (c *Client) teardown() {
	c.doneOnce.Do(func() {
		close(c.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.hub.registry.End(ctx, c.sessionID); err != nil && !errors.Is(err, usecase.ErrSessionNotFound) {
			c.logger.Error("Failed to end session",
				zap.String("sessionID", c.sessionID),
				zap.Error(err))
		}

		c.hub.release(c)
	})
}

// tickLoop drives the silence countdown while the connection is attached.
func (c *Client) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.orch.Tick(time.Now())
		}
	}
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueueJSON marshals a message onto the send channel. A full channel drops
// the message rather than blocking the state machine.
func (c *Client) enqueueJSON(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.String("sessionID", c.sessionID))
	}
}

// Status implements usecase.Notifier.
func (c *Client) Status(status entities.SessionStatus, remaining time.Duration) {
	msg := StatusMessage{Type: MessageTypeStatus, Status: string(status)}
	if status == entities.StatusPausing {
		seconds := remaining.Seconds()
		msg.RemainingSeconds = &seconds
	}
	c.enqueueJSON(msg)
}

// Transcription implements usecase.Notifier.
func (c *Client) Transcription(text string, final bool) {
	c.enqueueJSON(TranscriptionMessage{
		Type:           MessageTypeTranscription,
		Text:           text,
		PhraseComplete: final,
		Timestamp:      formatTimestamp(time.Now()),
	})
}

// ResponseChunk implements usecase.Notifier.
func (c *Client) ResponseChunk(chunk string, timestamp time.Time) {
	c.enqueueJSON(BotResponseChunkMessage{
		Type:      MessageTypeBotResponseChunk,
		Chunk:     chunk,
		Timestamp: formatTimestamp(timestamp),
	})
}

// ResponseComplete implements usecase.Notifier.
func (c *Client) ResponseComplete(text string, timestamp time.Time) {
	c.enqueueJSON(BotResponseCompleteMessage{
		Type:      MessageTypeBotResponseComplete,
		Text:      text,
		Timestamp: formatTimestamp(timestamp),
	})
}

// Response implements usecase.Notifier.
func (c *Client) Response(text string, timestamp time.Time) {
	c.enqueueJSON(BotResponseMessage{
		Type:      MessageTypeBotResponse,
		Text:      text,
		Timestamp: formatTimestamp(timestamp),
	})
}

// Error implements usecase.Notifier.
func (c *Client) Error(message string) {
	c.enqueueJSON(ErrorMessage{Type: MessageTypeError, Message: message})
}
