// Package planner turns drag gestures into a local board move and the
// smallest payload the server needs to persist it.
package planner

import (
	"errors"
	"fmt"

	"github.com/CrowderSoup/kanban-sync/board"
)

var (
	ErrUnknownContainer = errors.New("unknown container")
	ErrUnknownEntity    = errors.New("unknown entity")
)

// Gesture is a completed drag: the entity left SourceContainerID at
// SourceIndex and was dropped into DestContainerID at DestIndex.
type Gesture struct {
	EntityID          string
	SourceContainerID string
	SourceIndex       int
	DestContainerID   string
	DestIndex         int
}

// NoOp reports a drop at the exact place the drag started.
func (g Gesture) NoOp() bool {
	return g.SourceContainerID == g.DestContainerID && g.SourceIndex == g.DestIndex
}

// CardMovePayload is the wire body for a card move.
type CardMovePayload struct {
	EntityID               string `json:"entityId"`
	DestinationContainerID string `json:"destinationContainerId"`
	Position               int    `json:"position"`
}

type ListPosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// ListReorderPayload carries the full rank of every list, since the server
// assigns positions as absolute ranks rather than relative shifts.
type ListReorderPayload struct {
	Lists []ListPosition `json:"lists"`
}

type CardMove struct {
	NoOp    bool
	Next    board.Board
	Payload CardMovePayload
}

type ListReorder struct {
	NoOp    bool
	Next    board.Board
	Payload ListReorderPayload
}

// PlanCardMove computes the board after moving a card and the payload to send.
//
// The entity id is authoritative over SourceIndex: if a remote insert shifted
// the card since the drag started, it is found by id and the local drop still
// lands at DestIndex. The server round-trip settles the final order.
func PlanCardMove(b board.Board, g Gesture) (CardMove, error) {
	if g.NoOp() {
		return CardMove{NoOp: true, Next: b}, nil
	}
	if _, ok := b.List(g.SourceContainerID); !ok {
		return CardMove{}, fmt.Errorf("source list %s: %w", g.SourceContainerID, ErrUnknownContainer)
	}
	if _, ok := b.List(g.DestContainerID); !ok {
		return CardMove{}, fmt.Errorf("destination list %s: %w", g.DestContainerID, ErrUnknownContainer)
	}
	if _, _, _, ok := b.Card(g.EntityID); !ok {
		return CardMove{}, fmt.Errorf("card %s: %w", g.EntityID, ErrUnknownEntity)
	}
	next, _ := b.MoveCard(g.EntityID, g.DestContainerID, g.DestIndex)
	// the payload carries the index the card landed at, not the raw drop index
	_, _, landed, _ := next.Card(g.EntityID)
	return CardMove{
		Next: next,
		Payload: CardMovePayload{
			EntityID:               g.EntityID,
			DestinationContainerID: g.DestContainerID,
			Position:               landed,
		},
	}, nil
}

// PlanListReorder moves a list within the board and ranks every list.
func PlanListReorder(b board.Board, g Gesture) (ListReorder, error) {
	if g.NoOp() {
		return ListReorder{NoOp: true, Next: b}, nil
	}
	if _, ok := b.List(g.EntityID); !ok {
		return ListReorder{}, fmt.Errorf("list %s: %w", g.EntityID, ErrUnknownEntity)
	}
	next := b.MoveList(g.EntityID, g.DestIndex)
	return ListReorder{Next: next, Payload: Ranks(next)}, nil
}

// Ranks returns the absolute position of every list in board order.
func Ranks(b board.Board) ListReorderPayload {
	p := ListReorderPayload{Lists: make([]ListPosition, len(b.Lists))}
	for i, l := range b.Lists {
		p.Lists[i] = ListPosition{ID: l.ID, Position: i}
	}
	return p
}
