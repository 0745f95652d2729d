// Package events defines the push-channel vocabulary shared by the client
// and the reference backend.
package events

import (
	"context"
	"encoding/json"
)

type Type string

const (
	CardCreated  Type = "card-created"
	CardUpdated  Type = "card-updated"
	CardDeleted  Type = "card-deleted"
	CardMoved    Type = "card-moved"
	ListCreated  Type = "list-created"
	ListUpdated  Type = "list-updated"
	ListDeleted  Type = "list-deleted"
	BoardUpdated Type = "board-updated"
	UserJoined   Type = "user-joined"
	UserLeft     Type = "user-left"
	// Presence carries the full roster of a board, sent to a client when it
	// joins.
	Presence Type = "presence"
)

// Control messages sent by a client over the socket.
const (
	JoinBoard  = "join-board"
	LeaveBoard = "leave-board"
	Ping       = "ping"
	Pong       = "pong"
)

// Actor identifies the user whose action produced an event.
type Actor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Event is one board delta. Entity holds the full created entity;
// UpdatedFields holds a partial patch whose shape depends on Type.
type Event struct {
	Type          Type            `json:"type"`
	BoardID       string          `json:"boardId"`
	ListID        string          `json:"listId,omitempty"`
	CardID        string          `json:"cardId,omitempty"`
	Entity        json.RawMessage `json:"entity,omitempty"`
	UpdatedFields json.RawMessage `json:"updatedFields,omitempty"`
	Position      *int            `json:"position,omitempty"`
	Actor         Actor           `json:"actor"`
	OriginID      string          `json:"originId,omitempty"`
	Users         []Actor         `json:"users,omitempty"`
}

// Envelope is the frame written on the socket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	User string          `json:"user,omitempty"`
}

// BoardRef is the data of join-board and leave-board frames.
type BoardRef struct {
	BoardID string `json:"boardId"`
}

// Wrap puts an event into an envelope.
func Wrap(ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: string(ev.Type), Data: data, User: ev.Actor.UserID}, nil
}

// IsBoardEvent reports whether t is one of the board delta types.
func IsBoardEvent(t string) bool {
	switch Type(t) {
	case CardCreated, CardUpdated, CardDeleted, CardMoved,
		ListCreated, ListUpdated, ListDeleted, BoardUpdated,
		UserJoined, UserLeft, Presence:
		return true
	}
	return false
}

// OriginHeader carries the client mutation id on persistence requests; the
// backend echoes it as Event.OriginID so the originating client can
// recognise its own changes.
const OriginHeader = "X-Origin-Id"

type originKey struct{}

func WithOrigin(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, originKey{}, id)
}

func OriginFrom(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}
