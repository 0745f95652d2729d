package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/events"
)

func envelope(t *testing.T, ev events.Event) []byte {
	t.Helper()
	env, err := events.Wrap(ev)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func recv(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestJoinReceiveAndRejoinAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joins := make(chan string, 8)
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		attempt := conns.Add(1)

		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		var ref events.BoardRef
		_ = json.Unmarshal(env.Data, &ref)
		joins <- env.Type + ":" + ref.BoardID

		if attempt == 1 {
			// two envelopes batched in one frame, one for a board nobody joined
			frame := append(envelope(t, events.Event{Type: events.CardDeleted, BoardID: "b1", CardID: "c1"}), '\n')
			frame = append(frame, envelope(t, events.Event{Type: events.CardDeleted, BoardID: "b2", CardID: "c9"})...)
			frame = append(frame, '\n')
			frame = append(frame, envelope(t, events.Event{Type: events.ListDeleted, BoardID: "b1", ListID: "l1"})...)
			_ = conn.WriteMessage(websocket.TextMessage, frame)
			return // drop the connection
		}
		_ = conn.WriteMessage(websocket.TextMessage, envelope(t, events.Event{Type: events.UserJoined, BoardID: "b1", Actor: events.Actor{UserID: "u2", Name: "Bob"}}))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), api.StaticToken("tok"))
	c.MinBackoff = 10 * time.Millisecond
	ch := c.Join("b1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Equal(t, "join-board:b1", <-joins)
	first := recv(t, ch)
	assert.Equal(t, events.CardDeleted, first.Type)
	assert.Equal(t, "c1", first.CardID)
	second := recv(t, ch)
	assert.Equal(t, events.ListDeleted, second.Type)

	assert.Equal(t, "join-board:b1", <-joins, "board is joined again after reconnect")
	third := recv(t, ch)
	assert.Equal(t, events.UserJoined, third.Type)
	assert.Equal(t, "Bob", third.Actor.Name)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan events.Envelope, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env events.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
		}
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case <-c.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	c.Join("b1")
	assert.Equal(t, events.JoinBoard, (<-frames).Type)

	c.Leave("b1")
	env := <-frames
	assert.Equal(t, events.LeaveBoard, env.Type)
	var ref events.BoardRef
	require.NoError(t, json.Unmarshal(env.Data, &ref))
	assert.Equal(t, "b1", ref.BoardID)

	c.mu.Lock()
	assert.Empty(t, c.subs)
	c.mu.Unlock()
}
