package engine

import (
	"context"
	"math"
	"strings"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/planner"
)

func appendIndex(index int) int {
	if index < 0 {
		return math.MaxInt
	}
	return index
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// AddList creates a list at index; a negative index appends.
func (e *Engine) AddList(title string, index int) *Op {
	if blank(title) {
		return finished("", invalid("list title is empty"))
	}
	tmp := newTempID()
	return e.addList(board.List{ID: tmp, Title: title}, index)
}

func (e *Engine) addList(l board.List, index int) *Op {
	tmp := l.ID
	var boardID string
	return e.submit(&mutation{
		kind:    KindAddList,
		target:  tmp,
		tempID:  tmp,
		failMsg: "Failed to add list",
		apply: func(b board.Board) (board.Board, error) {
			boardID = b.ID
			next := b.AddList(l, appendIndex(index))
			if added, ok := next.List(tmp); ok {
				l.Position = added.Position
			}
			return next, nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			draft := l
			draft.ID = ""
			draft.Cards = nil
			created, err := e.api.CreateList(ctx, boardID, draft)
			if err != nil {
				return nil, err
			}
			e.origins.Alias(tmp, created.ID)
			return func(b board.Board, fields bool) board.Board {
				b = b.RekeyList(tmp, created.ID)
				if fields {
					b = b.MergeList(created.ID, created)
				}
				return b
			}, nil
		},
	})
}

func (e *Engine) UpdateList(id string, p board.ListPatch) *Op {
	if p.IsEmpty() {
		return finished(id, nil)
	}
	if p.Title != nil && blank(*p.Title) {
		return finished(id, invalid("list title is empty"))
	}
	id = e.origins.Canonical(id)
	return e.submit(&mutation{
		kind:    KindUpdateList,
		target:  id,
		failMsg: "Failed to update list",
		apply: func(b board.Board) (board.Board, error) {
			if _, ok := b.List(id); !ok {
				return b, invalid("unknown list %s", id)
			}
			return b.UpdateList(id, p), nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			sid, err := e.resolve(ctx, id)
			if err != nil {
				return nil, err
			}
			updated, err := e.api.UpdateList(ctx, sid, p)
			if err != nil {
				return nil, err
			}
			return func(b board.Board, fields bool) board.Board {
				if !fields {
					return b
				}
				return b.MergeList(sid, updated)
			}, nil
		},
	})
}

// DeleteList removes a list and its cards. The removed list can be recovered
// from Op.Previous for UndoDeleteList.
func (e *Engine) DeleteList(id string) *Op {
	id = e.origins.Canonical(id)
	return e.submit(&mutation{
		kind:    KindDeleteList,
		target:  id,
		failMsg: "Failed to delete list",
		apply: func(b board.Board) (board.Board, error) {
			if _, ok := b.List(id); !ok {
				return b, invalid("unknown list %s", id)
			}
			return b.RemoveList(id), nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			sid, err := e.resolve(ctx, id)
			if err != nil {
				return nil, err
			}
			return nil, e.api.DeleteList(ctx, sid)
		},
	})
}

// ReorderList applies a list drag. A drop at the starting place is a no-op
// that never reaches the server.
func (e *Engine) ReorderList(g planner.Gesture) *Op {
	g.EntityID = e.origins.Canonical(g.EntityID)
	if g.NoOp() {
		return finished(g.EntityID, nil)
	}
	var (
		boardID string
		payload planner.ListReorderPayload
	)
	return e.submit(&mutation{
		kind:    KindReorderLists,
		target:  "lists:" + g.DestContainerID,
		failMsg: "Failed to reorder lists",
		apply: func(b board.Board) (board.Board, error) {
			plan, err := planner.PlanListReorder(b, g)
			if err != nil {
				return b, invalid("%v", err)
			}
			boardID, payload = b.ID, plan.Payload
			return plan.Next, nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			out := planner.ListReorderPayload{Lists: make([]planner.ListPosition, len(payload.Lists))}
			for i, lp := range payload.Lists {
				sid, err := e.resolve(ctx, lp.ID)
				if err != nil {
					return nil, err
				}
				out.Lists[i] = planner.ListPosition{ID: sid, Position: lp.Position}
			}
			return nil, e.api.ReorderLists(ctx, boardID, out)
		},
	})
}

// AddCard creates a card in listID at index; a negative index appends. Only
// the draft's content fields are used.
func (e *Engine) AddCard(listID string, draft board.Card, index int) *Op {
	if blank(draft.Title) {
		return finished("", invalid("card title is empty"))
	}
	listID = e.origins.Canonical(listID)
	tmp := newTempID()
	draft.ID = tmp
	return e.submit(&mutation{
		kind:    KindAddCard,
		target:  tmp,
		tempID:  tmp,
		failMsg: "Failed to add card",
		apply: func(b board.Board) (board.Board, error) {
			next, ok := b.AddCard(listID, draft, appendIndex(index))
			if !ok {
				return b, invalid("unknown list %s", listID)
			}
			c, _, _, _ := next.Card(tmp)
			draft.Position = c.Position
			return next, nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			lid, err := e.resolve(ctx, listID)
			if err != nil {
				return nil, err
			}
			body := draft
			body.ID = ""
			created, err := e.api.CreateCard(ctx, lid, body)
			if err != nil {
				return nil, err
			}
			e.origins.Alias(tmp, created.ID)
			return func(b board.Board, fields bool) board.Board {
				b = b.RekeyCard(tmp, created.ID)
				if fields {
					b = b.MergeCard(created.ID, created)
				}
				return b
			}, nil
		},
	})
}

func (e *Engine) UpdateCard(id string, p board.CardPatch) *Op {
	if p.IsEmpty() {
		return finished(id, nil)
	}
	if p.Title != nil && blank(*p.Title) {
		return finished(id, invalid("card title is empty"))
	}
	id = e.origins.Canonical(id)
	return e.submit(e.updateCard(id, p, "Failed to update card"))
}

func (e *Engine) updateCard(id string, p board.CardPatch, failMsg string) *mutation {
	return &mutation{
		kind:    KindUpdateCard,
		target:  id,
		failMsg: failMsg,
		apply: func(b board.Board) (board.Board, error) {
			if _, _, _, ok := b.Card(id); !ok {
				return b, invalid("unknown card %s", id)
			}
			return b.UpdateCard(id, p), nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			sid, err := e.resolve(ctx, id)
			if err != nil {
				return nil, err
			}
			updated, err := e.api.UpdateCard(ctx, sid, p)
			if err != nil {
				return nil, err
			}
			return func(b board.Board, fields bool) board.Board {
				if !fields {
					return b
				}
				return b.MergeCard(sid, updated)
			}, nil
		},
	}
}

func (e *Engine) DeleteCard(id string) *Op {
	id = e.origins.Canonical(id)
	return e.submit(&mutation{
		kind:    KindDeleteCard,
		target:  id,
		failMsg: "Failed to delete card",
		apply: func(b board.Board) (board.Board, error) {
			if _, _, _, ok := b.Card(id); !ok {
				return b, invalid("unknown card %s", id)
			}
			return b.RemoveCard(id), nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			sid, err := e.resolve(ctx, id)
			if err != nil {
				return nil, err
			}
			return nil, e.api.DeleteCard(ctx, sid)
		},
	})
}

// MoveCard applies a card drag. A drop at the starting place is a no-op that
// never reaches the server.
func (e *Engine) MoveCard(g planner.Gesture) *Op {
	g.EntityID = e.origins.Canonical(g.EntityID)
	g.SourceContainerID = e.origins.Canonical(g.SourceContainerID)
	g.DestContainerID = e.origins.Canonical(g.DestContainerID)
	if g.NoOp() {
		return finished(g.EntityID, nil)
	}
	var payload planner.CardMovePayload
	return e.submit(&mutation{
		kind:    KindMoveCard,
		target:  g.EntityID,
		failMsg: "Failed to move card",
		apply: func(b board.Board) (board.Board, error) {
			plan, err := planner.PlanCardMove(b, g)
			if err != nil {
				return b, invalid("%v", err)
			}
			payload = plan.Payload
			return plan.Next, nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			cid, err := e.resolve(ctx, payload.EntityID)
			if err != nil {
				return nil, err
			}
			lid, err := e.resolve(ctx, payload.DestinationContainerID)
			if err != nil {
				return nil, err
			}
			return nil, e.api.MoveCard(ctx, planner.CardMovePayload{
				EntityID:               cid,
				DestinationContainerID: lid,
				Position:               payload.Position,
			})
		},
	})
}

func (e *Engine) UpdateBoard(p board.BoardPatch) *Op {
	if p.IsEmpty() {
		return finished("", nil)
	}
	if p.Title != nil && blank(*p.Title) {
		return finished("", invalid("board title is empty"))
	}
	boardID := e.store.BoardID()
	return e.submit(&mutation{
		kind:    KindUpdateBoard,
		target:  "board:" + boardID,
		failMsg: "Failed to update board",
		apply: func(b board.Board) (board.Board, error) {
			return b.Update(p), nil
		},
		persist: func(ctx context.Context) (mergeFunc, error) {
			updated, err := e.api.UpdateBoard(ctx, boardID, p)
			if err != nil {
				return nil, err
			}
			return func(b board.Board, fields bool) board.Board {
				if !fields {
					return b
				}
				return b.Update(board.BoardPatch{Title: nonEmpty(updated.Title), Background: nonEmpty(updated.Background)})
			}, nil
		},
	})
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UndoDeleteList recreates a deleted list at index together with its cards,
// in their original order. The returned Op finishes when every create has.
func (e *Engine) UndoDeleteList(deleted board.List, index int) *Op {
	if blank(deleted.Title) {
		return finished("", invalid("list title is empty"))
	}
	restored := board.List{ID: newTempID(), Title: deleted.Title}
	listOp := e.addList(restored, index)
	if listOp.Err() != nil {
		return listOp
	}
	ops := []*Op{listOp}
	for i, c := range deleted.Cards {
		draft := board.Card{
			Title:       c.Title,
			Description: c.Description,
			Labels:      c.Labels,
			DueDate:     c.DueDate,
			Checklists:  c.Checklists,
		}
		ops = append(ops, e.AddCard(restored.ID, draft, i))
	}

	group := newOp(restored.ID)
	group.prev = listOp.prev
	go func() {
		var first error
		for _, op := range ops {
			<-op.Done()
			if err := op.Err(); err != nil && first == nil {
				first = err
			}
		}
		group.finish(first)
	}()
	return group
}
