package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"parley/chat"
	"parley/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// Client-side event names.
const (
	MessageTypeLogin       = "login"
	MessageTypeSendMessage = "send-message"
	MessageTypeGetMessages = "get-messages"
	MessageTypePing        = "ping"
)

// Events produced by the socket layer itself rather than the chat service.
const (
	eventPong        chat.EventType = "pong"
	eventError       chat.EventType = "error"
	eventMessageSent chat.EventType = "message-sent"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType string, payload any) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Message{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().Unix(),
	}, nil
}

type LoginPayload struct {
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

type SendMessagePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type GetMessagesPayload struct {
	ChatWith string `json:"chatWith"`
	Type     string `json:"type"`
}

type ErrorPayload struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

// Client is one WebSocket connection. It satisfies chat.Conn.
type Client struct {
	conn   *websocket.Conn
	server *Server
	outbox *chat.Outbox
	logger *logrus.Entry
	remote string
}

var _ chat.Conn = (*Client)(nil)

func newClient(conn *websocket.Conn, server *Server) *Client {
	remote := conn.RemoteAddr().String()
	return &Client{
		conn:   conn,
		server: server,
		outbox: chat.NewOutbox(server.opts.OutboxSize),
		logger: server.logger.WithFields(logrus.Fields{
			"component": "ws",
			"remote":    remote,
		}),
		remote: remote,
	}
}

func (c *Client) Send(ev chat.Event) bool {
	return c.outbox.Push(ev)
}

// Close stops the outbox; writePump flushes what is queued and then closes
// the socket.
func (c *Client) Close() error {
	c.outbox.Close()
	return nil
}

func (c *Client) RemoteAddr() string {
	return c.remote
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("component", "ws").Warn("WebSocket upgrade failed")
		return
	}

	client := newClient(conn, s)
	s.addClient(client)
	client.logger.Debug("WebSocket client connected")

	go client.writePump()
	go client.readPump()
}

// readPump reads client frames until the connection fails, then releases
// the session.
func (c *Client) readPump() {
	defer func() {
		c.server.svc.Logout(c)
		c.Close()
		c.server.removeClient(c)
		c.logger.Debug("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Debug("Failed to parse incoming message")
			c.fail("", "Malformed message")
			continue
		}

		c.handleIncomingMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.outbox.Events():
			if err := c.write(ev); err != nil {
				c.logger.WithError(err).Debug("Failed to write message")
				c.outbox.Close()
				return
			}

		case <-c.outbox.Done():
			for _, ev := range c.outbox.Drain() {
				if err := c.write(ev); err != nil {
					return
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.outbox.Close()
				return
			}
		}
	}
}

func (c *Client) write(ev chat.Event) error {
	msg, err := NewMessage(string(ev.Type), wirePayload(ev))
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wirePayload shapes a service event for browser clients, which expect a
// history batch as a bare list of messages.
func wirePayload(ev chat.Event) any {
	switch p := ev.Payload.(type) {
	case chat.History:
		if p.Messages == nil {
			return []*models.Message{}
		}
		return p.Messages
	case []models.MessageRequest:
		if p == nil {
			return []models.MessageRequest{}
		}
		return p
	}
	return ev.Payload
}

func (c *Client) handleIncomingMessage(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		c.Send(chat.Event{Type: eventPong})

	case MessageTypeLogin:
		var p LoginPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.fail(msg.Type, "Malformed payload")
			return
		}
		c.handleLogin(p)

	case MessageTypeSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.fail(msg.Type, "Malformed payload")
			return
		}
		c.handleSendMessage(p)

	case MessageTypeGetMessages:
		var p GetMessagesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.fail(msg.Type, "Malformed payload")
			return
		}
		c.handleGetMessages(p)

	default:
		c.fail(msg.Type, "Unknown message type")
	}
}

func (c *Client) handleLogin(p LoginPayload) {
	name := p.Name

	if c.server.opts.RequireToken {
		if c.server.tokens == nil {
			c.fail(MessageTypeLogin, "Session tokens are not configured")
			return
		}
		claims, err := c.server.tokens.ValidateToken(p.Token)
		if err != nil {
			c.logger.WithError(err).Debug("Rejected session token")
			c.fail(MessageTypeLogin, "Invalid session token")
			return
		}
		if name == "" {
			name = claims.Name
		}
		if claims.Name != name {
			c.fail(MessageTypeLogin, "Invalid session token")
			return
		}
	}

	if _, err := c.server.svc.Login(c, name); err != nil {
		switch {
		case errors.Is(err, chat.ErrValidation):
			c.fail(MessageTypeLogin, "Username is required")
		case errors.Is(err, chat.ErrUnauthenticated):
			c.fail(MessageTypeLogin, "User not found")
		default:
			c.fail(MessageTypeLogin, messageFor(err, "Login failed"))
		}
	}
}

func (c *Client) handleSendMessage(p SendMessagePayload) {
	userID, ok := c.server.svc.BoundUser(c)
	if !ok {
		c.fail(MessageTypeSendMessage, "Not authenticated")
		return
	}

	kind, ok := models.ParseKind(p.Type)
	if !ok {
		c.fail(MessageTypeSendMessage, "Unknown chat type")
		return
	}

	msg, err := c.server.svc.Route(userID, p.To, p.Message, kind)
	if err != nil {
		c.fail(MessageTypeSendMessage, messageFor(err, "Failed to send message"))
		return
	}

	c.Send(chat.Event{Type: eventMessageSent, Payload: msg})
}

func (c *Client) handleGetMessages(p GetMessagesPayload) {
	userID, ok := c.server.svc.BoundUser(c)
	if !ok {
		c.fail(MessageTypeGetMessages, "Not authenticated")
		return
	}

	kind, ok := models.ParseKind(p.Type)
	if !ok {
		c.fail(MessageTypeGetMessages, "Unknown chat type")
		return
	}

	// The batch itself is pushed to this connection by the service.
	if _, err := c.server.svc.FetchHistory(userID, p.ChatWith, kind); err != nil {
		c.fail(MessageTypeGetMessages, messageFor(err, "Failed to load messages"))
	}
}

func (c *Client) fail(op, message string) {
	c.Send(chat.Event{Type: eventError, Payload: ErrorPayload{Op: op, Message: message}})
}
