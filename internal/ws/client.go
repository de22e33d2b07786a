package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/auth"
	"github.com/mosaicboard/backend/internal/metrics"
	"github.com/mosaicboard/backend/internal/protocol"
	"github.com/mosaicboard/backend/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	verifyTimeout     = 5 * time.Second
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. It starts unjoined; the first frame
// must be a join carrying the document id and auth token. Only after the
// handshake succeeds does the connection enter a room.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	roomID      string
	identity    *auth.Identity
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
	closeOnce   sync.Once
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 512),
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		logger:      hub.logger,
	}
	metrics.ActiveConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// closeSend is safe to call from both the hub and the broadcast path.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// enqueue without ever blocking the hub
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// sendError queues an error event for the client. The write pump drains the
// buffer before closing, so a handshake failure still reaches the client.
func (c *Client) sendError(message string) {
	c.trySend(protocol.MustEncode(protocol.NewError(message)))
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if !c.handshake() {
		return
	}

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", zap.String("conn", c.id), zap.Error(err))
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn("rate limit exceeded",
					zap.String("conn", c.id),
					zap.String("document", c.roomID),
					zap.Int("warnings", rateLimitWarnings))
			}
			if rateLimitWarnings > 1000 {
				c.logger.Warn("disconnecting for sustained rate abuse", zap.String("conn", c.id))
				return
			}
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("invalid frame dropped", zap.String("conn", c.id), zap.Error(err))
			metrics.UpdatesDropped.WithLabelValues("frame").Inc()
			continue
		}

		switch env.Type {
		case protocol.TypeUpdate:
			c.hub.broadcast <- &inbound{sender: c, env: env}
		case protocol.TypeJoin:
			c.logger.Warn("duplicate join ignored", zap.String("conn", c.id))
		default:
			// Clients have no business sending server-side event types.
		}
	}
}

// handshake reads the join frame, verifies the token against the session
// store and registers the connection. A failed join terminates the
// connection immediately; there is no pending state to resume.
func (c *Client) handshake() bool {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	env, err := protocol.Decode(data)
	if err != nil || env.Type != protocol.TypeJoin {
		c.sendError("expected a join message")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	identity, err := c.hub.verifier.Verify(ctx, env.AuthToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			c.sendError("invalid or expired session token")
		} else {
			c.logger.Error("session store unavailable", zap.Error(err))
			c.sendError("authentication unavailable")
		}
		return false
	}

	// A token scoped to one document cannot open another.
	if identity.DocumentID != "" && identity.DocumentID != env.DocumentID {
		c.logger.Warn("token not valid for document",
			zap.String("user", identity.UserID),
			zap.String("requested", env.DocumentID))
		c.sendError("invalid or expired session token")
		return false
	}

	c.identity = identity
	c.roomID = env.DocumentID
	c.hub.register <- &joinRequest{client: c, documentID: env.DocumentID, identity: identity}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
