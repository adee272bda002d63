package mcp

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/agent"
)

// WebSocket Upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware allows any origin, so the handshake does too.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType defines the kind of message being sent.
type MessageType string

const (
	MsgTypeUserPrompt    MessageType = "user_prompt"
	MsgTypeAgentResponse MessageType = "agent_response"
	MsgTypeStatusUpdate  MessageType = "status_update"
	MsgTypeSystemError   MessageType = "system_error"
)

// WSMessage defines the standardized structure for communication over the WebSocket.
type WSMessage struct {
	Type MessageType            `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
	// Timestamp formatted as RFC3339.
	Timestamp string `json:"timestamp"`
	// RequestID correlates a prompt with every message it causes.
	RequestID string `json:"request_id,omitempty"`
}

// Constants for WebSocket timeouts and limits (based on Gorilla WebSocket examples).
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 8192
	// Send buffer size
	sendChannelSize = 256
)

// wsClient represents a single active WebSocket connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	// Buffered channel of outgoing messages. The writePump reads from this.
	send chan WSMessage
	// done is closed when the read pump exits.
	done chan struct{}
}

// handleAgentInteract upgrades the connection and runs the I/O pumps until
// the client goes away.
func (s *Server) handleAgentInteract() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// upgrader.Upgrade automatically sends an HTTP error response if it fails.
			s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		s.logger.Info("WebSocket connection established (/ws/v1/interact).", zap.String("remoteAddr", r.RemoteAddr))

		client := &wsClient{
			server: s,
			conn:   conn,
			send:   make(chan WSMessage, sendChannelSize),
			done:   make(chan struct{}),
		}
		s.register(client)
		defer s.unregister(client)

		go client.writePump()
		client.readPump()
	}
}

// readPump reads prompts until the connection closes or times out.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.server.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var incomingMsg WSMessage
		if err := c.conn.ReadJSON(&incomingMsg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
			} else {
				c.server.logger.Info("WebSocket connection closed.")
			}
			return
		}

		c.server.logger.Debug("Received message from client", zap.String("type", string(incomingMsg.Type)), zap.String("requestID", incomingMsg.RequestID))
		c.processMessage(incomingMsg)
	}
}

// writePump centralizes all writes to the connection and sends pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Error("Error writing JSON message to WebSocket", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.server.logger.Error("Error sending PING message to WebSocket", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// processMessage validates an incoming message and starts its turn.
func (c *wsClient) processMessage(msg WSMessage) {
	switch msg.Type {
	case MsgTypeUserPrompt:
		if msg.RequestID == "" {
			c.sendError(msg.RequestID, "user_prompt message requires a request_id.", "")
			return
		}
		prompt, ok := msg.Data["prompt"].(string)
		if !ok || strings.TrimSpace(prompt) == "" {
			c.sendError(msg.RequestID, "Missing or empty 'prompt' field in user_prompt message.", "")
			return
		}
		if c.server.turnCtx.Err() != nil {
			c.sendError(msg.RequestID, "Server is shutting down.", "")
			return
		}

		// The turn runs off the read pump so pongs and close frames are still handled.
		c.server.turns.Add(1)
		go c.handleAgentInteraction(msg.RequestID, prompt)

	default:
		c.server.logger.Warn("Received unknown message type from client", zap.String("type", string(msg.Type)))
		c.sendError(msg.RequestID, fmt.Sprintf("Unknown or unsupported message type: %s", msg.Type), "")
	}
}

// handleAgentInteraction runs one prompt through the session. Turns from
// all clients queue on the server's turn lock.
func (c *wsClient) handleAgentInteraction(requestID, prompt string) {
	s := c.server
	defer s.turns.Done()

	interactor := s.getInteractor()
	if interactor == nil {
		c.sendError(requestID, "No agent session is attached to this server.", "")
		return
	}

	c.sendStatus(requestID, "Prompt received.")
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	s.setActive(c, requestID)
	defer s.setActive(nil, "")

	s.logger.Info("Processing user prompt", zap.String("requestID", requestID))
	items, err := interactor.Submit(s.turnCtx, prompt)

	for _, item := range items {
		if item.Type == schemas.ItemMessage && item.Role == schemas.RoleAssistant {
			c.sendMessage(MsgTypeAgentResponse, requestID, map[string]interface{}{
				"content": item.Text(),
			})
		}
	}
	if err != nil {
		c.sendError(requestID, err.Error(), agent.ClassifyError(err))
		return
	}
	c.sendStatus(requestID, "Turn complete.")
}

// sendMessage queues a message for the writePump. Messages for a closed
// or unresponsive client are dropped.
func (c *wsClient) sendMessage(msgType MessageType, requestID string, data map[string]interface{}) {
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.server.logger.Error("WebSocket send buffer full, dropping message. Client may be unresponsive.",
			zap.String("requestID", requestID), zap.String("type", string(msgType)))
	}
}

// sendError sends a system_error message. code is omitted when empty.
func (c *wsClient) sendError(requestID, errorMessage string, code agent.ErrorCode) {
	data := map[string]interface{}{"error": errorMessage}
	if code != "" {
		data["code"] = string(code)
	}
	c.sendMessage(MsgTypeSystemError, requestID, data)
}

// sendStatus sends a status_update message.
func (c *wsClient) sendStatus(requestID, statusMessage string) {
	c.sendMessage(MsgTypeStatusUpdate, requestID, map[string]interface{}{
		"status": statusMessage,
	})
}
