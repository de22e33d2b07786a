package ws

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/auth"
	"github.com/mosaicboard/backend/internal/document"
	"github.com/mosaicboard/backend/internal/metrics"
	"github.com/mosaicboard/backend/internal/protocol"
	"github.com/mosaicboard/backend/internal/session"
)

// joinRequest carries an authenticated connection into a room.
type joinRequest struct {
	client     *Client
	documentID string
	identity   *auth.Identity
}

// inbound is one decoded frame from a joined connection.
type inbound struct {
	sender *Client
	env    *protocol.Envelope
}

// Hub owns all live connections. Every state transition (join, update,
// disconnect) flows through Run's single goroutine, so applies against one
// room's document are serialized in arrival order and per-connection
// ordering is preserved end to end.
type Hub struct {
	registry *session.Registry
	verifier auth.Verifier
	logger   *zap.Logger

	register   chan *joinRequest
	unregister chan *Client
	broadcast  chan *inbound

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub(registry *session.Registry, verifier auth.Verifier, logger *zap.Logger) *Hub {
	return &Hub{
		registry:   registry,
		verifier:   verifier,
		logger:     logger,
		register:   make(chan *joinRequest),
		unregister: make(chan *Client),
		broadcast:  make(chan *inbound),
		rooms:      make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case req := <-h.register:
			h.handleJoin(req)

		case client := <-h.unregister:
			h.handleLeave(client)

		case msg := <-h.broadcast:
			h.handleUpdate(msg)
		}
	}
}

func (h *Hub) handleJoin(req *joinRequest) {
	defer h.recoverHandler("join")

	client := req.client
	room := h.registry.Join(req.documentID, session.Participant{
		ConnID: client.id,
		UserID: req.identity.UserID,
		Name:   req.identity.Name,
	})

	h.mu.Lock()
	if _, ok := h.rooms[req.documentID]; !ok {
		h.rooms[req.documentID] = make(map[*Client]bool)
	}
	h.rooms[req.documentID][client] = true
	clientCount := len(h.rooms[req.documentID])
	h.mu.Unlock()

	roster := make([]protocol.Participant, 0, clientCount)
	for _, p := range room.Participants() {
		roster = append(roster, protocol.Participant{UserID: p.UserID, Name: p.Name})
	}

	// The joiner always gets the full current merged state; any locally
	// buffered unacknowledged state on a reconnecting client is superseded
	// by this payload.
	client.trySend(protocol.MustEncode(
		protocol.NewState(req.documentID, room.Doc.EncodeState(), roster)))

	h.broadcastToRoom(req.documentID,
		protocol.MustEncode(protocol.NewPresence(
			protocol.TypeParticipantJoined, req.identity.UserID, req.identity.Name)),
		client)

	h.logger.Info("client joined",
		zap.String("document", req.documentID),
		zap.String("user", req.identity.UserID),
		zap.Int("room_clients", clientCount))
}

func (h *Hub) handleLeave(client *Client) {
	defer h.recoverHandler("leave")

	client.closeSend()
	if client.roomID == "" {
		// Connection dropped before finishing the join handshake.
		return
	}

	h.mu.Lock()
	removed := false
	if clients, ok := h.rooms[client.roomID]; ok {
		if clients[client] {
			delete(clients, client)
			removed = true
		}
		if len(clients) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}

	h.registry.Leave(client.roomID, client.id)

	// Best-effort presence notification; the document stays resident until
	// the registry sweep evicts it.
	if client.identity != nil {
		h.broadcastToRoom(client.roomID,
			protocol.MustEncode(protocol.NewPresence(
				protocol.TypeParticipantLeft, client.identity.UserID, client.identity.Name)),
			nil)
	}

	h.logger.Info("client left",
		zap.String("document", client.roomID),
		zap.String("conn", client.id))
}

func (h *Hub) handleUpdate(msg *inbound) {
	defer h.recoverHandler("update")

	client := msg.sender
	if msg.env.DocumentID != client.roomID {
		h.logger.Warn("room mismatch, update dropped",
			zap.String("joined", client.roomID),
			zap.String("claimed", msg.env.DocumentID),
			zap.String("conn", client.id))
		metrics.UpdatesDropped.WithLabelValues("room_mismatch").Inc()
		return
	}

	room := h.registry.Get(client.roomID)
	if room == nil {
		h.logger.Warn("update for evicted room dropped", zap.String("document", client.roomID))
		metrics.UpdatesDropped.WithLabelValues("no_room").Inc()
		return
	}

	if err := room.Doc.ApplyUpdate(msg.env.Update); err != nil {
		if errors.Is(err, document.ErrDecode) {
			h.logger.Warn("malformed update dropped",
				zap.String("document", client.roomID),
				zap.String("conn", client.id), zap.Error(err))
			metrics.UpdatesDropped.WithLabelValues("decode").Inc()
			return
		}
		h.logger.Error("update apply failed",
			zap.String("document", client.roomID), zap.Error(err))
		metrics.UpdatesDropped.WithLabelValues("apply").Inc()
		return
	}
	metrics.UpdatesApplied.Inc()

	h.broadcastToRoom(client.roomID, protocol.MustEncode(protocol.NewUpdate(
		client.roomID, msg.env.Update,
		client.identity.UserID, client.identity.Name,
	)), client)
}

// broadcastToRoom fans data out to every client in the room except exclude.
// Clients whose send buffer is full are disconnected rather than allowed to
// stall the room.
func (h *Hub) broadcastToRoom(roomID string, data []byte, exclude *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for client := range clients {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
			metrics.Broadcasts.Inc()
		default:
			h.logger.Warn("slow client dropped",
				zap.String("document", roomID), zap.String("conn", client.id))
			client.closeSend()
			delete(clients, client)
			h.registry.Leave(roomID, client.id)
		}
	}
}

// A panicking handler loses one message, never the server.
func (h *Hub) recoverHandler(op string) {
	if r := recover(); r != nil {
		h.logger.Error("handler panic, message dropped",
			zap.String("op", op), zap.Any("panic", r))
	}
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientCount returns the total number of joined connections.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms returns joined-connection counts per room.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for roomID, clients := range h.rooms {
		active[roomID] = len(clients)
	}
	return active
}
