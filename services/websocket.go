package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB

	sendBuffer = 256
)

// Client represents a connected WebSocket client. Send is closed only by
// the hub, through close.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	Name   string

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, name string) *Client {
	return &Client{Hub: hub, Conn: conn, Send: make(chan []byte, sendBuffer), UserID: userID, Name: name}
}

func (c *Client) actor() events.Actor { return events.Actor{UserID: c.UserID, Name: c.Name} }

// ReadPump handles join-board, leave-board and ping frames from the
// connection until it closes.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	logger := c.Hub.log.WithField("user", c.UserID)
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg events.Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.WithError(err).Warn("Error unmarshalling WebSocket message")
			continue
		}

		switch msg.Type {
		case events.Ping:
			// Reply with a pong directly to this client only
			c.deliver(events.Envelope{Type: events.Pong})
		case events.JoinBoard, events.LeaveBoard:
			var ref events.BoardRef
			if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.BoardID == "" {
				logger.WithField("type", msg.Type).Warn("board frame without boardId")
				continue
			}
			if msg.Type == events.LeaveBoard {
				c.Hub.Leave(c, ref.BoardID)
				continue
			}
			if err := c.Hub.authorize(ref.BoardID, c.UserID); err != nil {
				logger.WithError(err).WithField("board", ref.BoardID).Info("join refused")
				data, _ := json.Marshal(map[string]string{"boardId": ref.BoardID, "message": err.Error()})
				c.deliver(events.Envelope{Type: "error", Data: data})
				continue
			}
			c.Hub.Join(c, ref.BoardID)
		default:
			logger.WithField("type", msg.Type).Debug("ignoring client message")
		}
	}
}

// deliver queues a frame without blocking the caller.
func (c *Client) deliver(env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues message unless the buffer is full or the client is gone.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type roomRequest struct {
	client  *Client
	boardID string
}

// Hub keeps per-board rooms of connected clients and fans board events out
// to the room of the event's board.
type Hub struct {
	clients    map[*Client]map[string]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan events.Event
	register   chan *Client
	unregister chan *Client
	join       chan roomRequest
	leave      chan roomRequest
	outbox     chan events.Event
	stopped    chan struct{}

	// Authorize decides whether a user may join a board's room.
	Authorize func(ctx context.Context, boardID, userID string) error
	// Publish sends presence events on to every instance. Nil delivers them
	// to this hub only.
	Publish func(ctx context.Context, ev events.Event) error

	log log.FieldLogger
}

func NewHub(logger log.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]map[string]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan events.Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomRequest),
		leave:      make(chan roomRequest),
		outbox:     make(chan events.Event, sendBuffer),
		stopped:    make(chan struct{}),
		log:        logger,
	}
}

// Register adds a client. Like every hub request it is dropped once Run has
// returned.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

func (h *Hub) Join(client *Client, boardID string) {
	select {
	case h.join <- roomRequest{client: client, boardID: boardID}:
	case <-h.stopped:
	}
}

func (h *Hub) Leave(client *Client, boardID string) {
	select {
	case h.leave <- roomRequest{client: client, boardID: boardID}:
	case <-h.stopped:
	}
}

// Deliver sends a board event to every client in the board's room,
// including the one whose request produced it.
func (h *Hub) Deliver(ev events.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.stopped:
	}
}

func (h *Hub) authorize(boardID, userID string) error {
	if h.Authorize == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return h.Authorize(ctx, boardID, userID)
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	go h.drainOutbox(ctx)
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			for client := range h.clients {
				client.close()
			}
			return
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			h.log.WithField("user", client.UserID).Info("Client connected")
		case client := <-h.unregister:
			if h.drop(client) {
				h.log.WithField("user", client.UserID).Info("Client disconnected")
			}
		case req := <-h.join:
			h.joinRoom(req.client, req.boardID)
		case req := <-h.leave:
			h.leaveRoom(req.client, req.boardID)
		case ev := <-h.broadcast:
			h.send(ev)
		}
	}
}

// present reports whether userID has another connection in the room.
func (h *Hub) present(boardID, userID string, except *Client) bool {
	for c := range h.rooms[boardID] {
		if c != except && c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) joinRoom(client *Client, boardID string) {
	boards, ok := h.clients[client]
	if !ok || boards[boardID] {
		return
	}
	room := h.rooms[boardID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[boardID] = room
	}
	already := h.present(boardID, client.UserID, client)
	room[client] = true
	boards[boardID] = true

	// the joining client gets the roster; everyone hears about a new user
	roster := []events.Actor{}
	seen := map[string]bool{}
	for c := range room {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			roster = append(roster, c.actor())
		}
	}
	if env, err := events.Wrap(events.Event{Type: events.Presence, BoardID: boardID, Users: roster}); err == nil {
		client.deliver(env)
	}
	if !already {
		h.outbox <- events.Event{Type: events.UserJoined, BoardID: boardID, Actor: client.actor()}
	}
	h.log.WithFields(log.Fields{"user": client.UserID, "board": boardID}).Info("Client joined board")
}

func (h *Hub) leaveRoom(client *Client, boardID string) {
	room := h.rooms[boardID]
	if !room[client] {
		return
	}
	delete(room, client)
	delete(h.clients[client], boardID)
	if len(room) == 0 {
		delete(h.rooms, boardID)
	}
	if !h.present(boardID, client.UserID, nil) {
		h.outbox <- events.Event{Type: events.UserLeft, BoardID: boardID, Actor: client.actor()}
	}
	h.log.WithFields(log.Fields{"user": client.UserID, "board": boardID}).Info("Client left board")
}

func (h *Hub) send(ev events.Event) {
	env, err := events.Wrap(ev)
	if err != nil {
		h.log.WithError(err).Error("Error marshalling board event")
		return
	}
	message, err := json.Marshal(env)
	if err != nil {
		h.log.WithError(err).Error("Error marshalling board event")
		return
	}
	room := h.rooms[ev.BoardID]
	h.log.WithFields(log.Fields{"type": ev.Type, "board": ev.BoardID, "clients": len(room)}).Debug("Broadcasting board event")
	for client := range room {
		if !client.trySend(message) {
			// Client's send buffer is full, assume disconnected
			h.log.WithField("user", client.UserID).Warn("Client send buffer full, removing client")
			h.drop(client)
		}
	}
}

// drop takes client out of every room and closes its send channel. It
// reports false for a client the hub no longer tracks.
func (h *Hub) drop(client *Client) bool {
	boards, ok := h.clients[client]
	if !ok {
		return false
	}
	for boardID := range boards {
		h.leaveRoom(client, boardID)
	}
	delete(h.clients, client)
	client.close()
	return true
}

// drainOutbox forwards presence changes outside the run loop so a slow bus
// never blocks it.
func (h *Hub) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.outbox:
			if h.Publish == nil {
				h.Deliver(ev)
				continue
			}
			if err := h.Publish(ctx, ev); err != nil {
				h.log.WithError(err).WithField("type", ev.Type).Warn("Failed to publish presence")
			}
		}
	}
}
