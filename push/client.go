// Package push keeps a websocket open to the board event channel and hands
// each joined board's events to its subscriber in arrival order.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message or ping from the peer
	pongWait = 60 * time.Second

	// Send application pings with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024 * 1024

	subscriptionBuffer = 256
)

type subscription struct {
	ch   chan events.Event
	done chan struct{}
}

// Client is a reconnecting push channel client.
type Client struct {
	URL    string
	Tokens api.TokenSource
	Dialer *websocket.Dialer
	Log    log.FieldLogger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	subs      map[string]*subscription
	connected chan struct{}
}

func New(url string, tokens api.TokenSource) *Client {
	if tokens == nil {
		tokens = api.StaticToken("")
	}
	return &Client{
		URL:        url,
		Tokens:     tokens,
		Dialer:     websocket.DefaultDialer,
		Log:        log.StandardLogger(),
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		subs:       make(map[string]*subscription),
		connected:  make(chan struct{}),
	}
}

// Join subscribes to a board's events. The subscription survives reconnects:
// the board is joined again on every new connection.
func (c *Client) Join(boardID string) <-chan events.Event {
	c.mu.Lock()
	sub, ok := c.subs[boardID]
	if !ok {
		sub = &subscription{ch: make(chan events.Event, subscriptionBuffer), done: make(chan struct{})}
		c.subs[boardID] = sub
	}
	conn := c.conn
	c.mu.Unlock()

	if !ok && conn != nil {
		if err := c.sendBoardRef(conn, events.JoinBoard, boardID); err != nil {
			c.Log.WithError(err).WithField("board", boardID).Warn("join-board failed, will retry on reconnect")
		}
	}
	return sub.ch
}

// Leave stops delivering a board's events.
func (c *Client) Leave(boardID string) {
	c.mu.Lock()
	sub, ok := c.subs[boardID]
	delete(c.subs, boardID)
	conn := c.conn
	c.mu.Unlock()
	if !ok {
		return
	}
	close(sub.done)
	if conn != nil {
		if err := c.sendBoardRef(conn, events.LeaveBoard, boardID); err != nil {
			c.Log.WithError(err).WithField("board", boardID).Debug("leave-board failed")
		}
	}
}

// Connected returns a channel closed once the current connection is up.
func (c *Client) Connected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run dials, re-joins every subscribed board and reads until the connection
// drops, then reconnects with exponential backoff. It returns when ctx is
// done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.MinBackoff
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.WithError(err).WithField("retry", backoff).Warn("push connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		backoff = c.MinBackoff

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Info("push connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, header)
	return conn, err
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	boards := make([]string, 0, len(c.subs))
	for id := range c.subs {
		boards = append(boards, id)
	}
	close(c.connected)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = make(chan struct{})
		c.mu.Unlock()
		conn.Close()
	}()

	for _, id := range boards {
		if err := c.sendBoardRef(conn, events.JoinBoard, id); err != nil {
			c.Log.WithError(err).WithField("board", id).Warn("re-join failed")
			return
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(conn, stop)
	// unblock ReadMessage when ctx ends
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	c.readPump(ctx, conn)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.Log.WithError(err).Warn("push read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// the server may batch several envelopes into one frame
		for _, frame := range bytes.Split(message, []byte("\n")) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			if !c.dispatch(ctx, frame) {
				return
			}
		}
	}
}

// dispatch routes one envelope. It reports false when ctx ended.
func (c *Client) dispatch(ctx context.Context, frame []byte) bool {
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.Log.WithError(err).Warn("malformed push frame")
		return true
	}
	if !events.IsBoardEvent(env.Type) {
		return true
	}
	var ev events.Event
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.Log.WithError(err).WithField("type", env.Type).Warn("malformed push event")
		return true
	}
	if ev.Type == "" {
		ev.Type = events.Type(env.Type)
	}

	c.mu.Lock()
	sub, ok := c.subs[ev.BoardID]
	c.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case sub.ch <- ev:
	case <-sub.done:
	case <-ctx.Done():
		return false
	}
	return true
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, events.Envelope{Type: events.Ping}); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendBoardRef(conn *websocket.Conn, typ, boardID string) error {
	data, err := json.Marshal(events.BoardRef{BoardID: boardID})
	if err != nil {
		return err
	}
	return c.write(conn, events.Envelope{Type: typ, Data: data})
}

func (c *Client) write(conn *websocket.Conn, env events.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
