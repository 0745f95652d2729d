package board

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptyID     = errors.New("entity without id")
	ErrDuplicateID = errors.New("duplicate id")
)

func withListPositions(ls []List) []List {
	out := make([]List, len(ls))
	for i, l := range ls {
		l.Position = i
		out[i] = l
	}
	return out
}

func withCardPositions(cs []Card) []Card {
	out := make([]Card, len(cs))
	for i, c := range cs {
		c.Position = i
		out[i] = c
	}
	return out
}

func normalizeChecklists(cls []Checklist) []Checklist {
	if cls == nil {
		return nil
	}
	out := make([]Checklist, len(cls))
	copy(out, cls)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	for i := range out {
		out[i].Position = i
		out[i].Items = append([]Item(nil), out[i].Items...)
	}
	return out
}

// Normalize orders lists and cards by their server-assigned positions and
// renumbers them to their sequence index. It is applied to every board that
// enters the client wholesale.
func (b Board) Normalize() Board {
	lists := make([]List, len(b.Lists))
	copy(lists, b.Lists)
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	for i := range lists {
		lists[i] = lists[i].normalize()
	}
	b.Lists = withListPositions(lists)
	return b
}

func (l List) normalize() List {
	cards := make([]Card, len(l.Cards))
	copy(cards, l.Cards)
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })
	for i := range cards {
		cards[i].Checklists = normalizeChecklists(cards[i].Checklists)
	}
	l.Cards = withCardPositions(cards)
	return l
}

// List returns the list with the given id.
func (b Board) List(id string) (List, bool) {
	i := IndexOf(b.Lists, id)
	if i < 0 {
		return List{}, false
	}
	return b.Lists[i], true
}

// Card returns the card with the given id along with the id of the list that
// holds it and its index there.
func (b Board) Card(id string) (Card, string, int, bool) {
	for _, l := range b.Lists {
		if i := IndexOf(l.Cards, id); i >= 0 {
			return l.Cards[i], l.ID, i, true
		}
	}
	return Card{}, "", -1, false
}

// Has reports whether a list or card with the given id exists.
func (b Board) Has(id string) bool {
	if IndexOf(b.Lists, id) >= 0 {
		return true
	}
	_, _, _, ok := b.Card(id)
	return ok
}

// CardIDs returns the card ids of a list in order.
func (b Board) CardIDs(listID string) []string {
	l, ok := b.List(listID)
	if !ok {
		return nil
	}
	ids := make([]string, len(l.Cards))
	for i, c := range l.Cards {
		ids[i] = c.ID
	}
	return ids
}

// ListIDs returns the list ids in board order.
func (b Board) ListIDs() []string {
	ids := make([]string, len(b.Lists))
	for i, l := range b.Lists {
		ids[i] = l.ID
	}
	return ids
}

func (b Board) Update(p BoardPatch) Board {
	return p.Apply(b)
}

func (b Board) AddList(l List, index int) Board {
	l = l.normalize()
	b.Lists = withListPositions(InsertAt(b.Lists, l, index))
	return b
}

func (b Board) RemoveList(id string) Board {
	if IndexOf(b.Lists, id) < 0 {
		return b
	}
	b.Lists = withListPositions(RemoveByID(b.Lists, id))
	return b
}

func (b Board) UpdateList(id string, p ListPatch) Board {
	b.Lists = UpdateByID(b.Lists, id, p.Apply)
	return b
}

func (b Board) MoveList(id string, dest int) Board {
	lists, _, ok := MoveByID(b.Lists, id, dest)
	if !ok {
		return b
	}
	b.Lists = withListPositions(lists)
	return b
}

// AddCard inserts c into the list listID at index. It reports false when the
// list does not exist.
func (b Board) AddCard(listID string, c Card, index int) (Board, bool) {
	if IndexOf(b.Lists, listID) < 0 {
		return b, false
	}
	c.Checklists = normalizeChecklists(c.Checklists)
	b.Lists = UpdateByID(b.Lists, listID, func(l List) List {
		l.Cards = withCardPositions(InsertAt(l.Cards, c, index))
		return l
	})
	return b, true
}

func (b Board) RemoveCard(id string) Board {
	_, listID, _, ok := b.Card(id)
	if !ok {
		return b
	}
	b.Lists = UpdateByID(b.Lists, listID, func(l List) List {
		l.Cards = withCardPositions(RemoveByID(l.Cards, id))
		return l
	})
	return b
}

func (b Board) UpdateCard(id string, p CardPatch) Board {
	_, listID, _, ok := b.Card(id)
	if !ok {
		return b
	}
	b.Lists = UpdateByID(b.Lists, listID, func(l List) List {
		l.Cards = UpdateByID(l.Cards, id, p.Apply)
		return l
	})
	return b
}

// MoveCard moves the card to destListID at dest, an index into the
// destination sequence after the card has been taken out of its source. It
// reports false when either the card or the destination list is unknown.
func (b Board) MoveCard(id, destListID string, dest int) (Board, bool) {
	moved, srcListID, _, ok := b.Card(id)
	if !ok || IndexOf(b.Lists, destListID) < 0 {
		return b, false
	}
	if srcListID == destListID {
		b.Lists = UpdateByID(b.Lists, srcListID, func(l List) List {
			cards, _, _ := MoveByID(l.Cards, id, dest)
			l.Cards = withCardPositions(cards)
			return l
		})
		return b, true
	}
	b.Lists = UpdateByID(b.Lists, srcListID, func(l List) List {
		l.Cards = withCardPositions(RemoveByID(l.Cards, id))
		return l
	})
	b.Lists = UpdateByID(b.Lists, destListID, func(l List) List {
		l.Cards = withCardPositions(InsertAt(l.Cards, moved, dest))
		return l
	})
	return b, true
}

// RekeyList renames a list id, typically a client temp id to the server id.
// If the target id is already present the entry under from is dropped
// instead, so the board never holds both.
func (b Board) RekeyList(from, to string) Board {
	if from == to || IndexOf(b.Lists, from) < 0 {
		return b
	}
	if IndexOf(b.Lists, to) >= 0 {
		return b.RemoveList(from)
	}
	b.Lists = UpdateByID(b.Lists, from, func(l List) List {
		l.ID = to
		return l
	})
	return b
}

// RekeyCard is RekeyList for cards.
func (b Board) RekeyCard(from, to string) Board {
	if from == to {
		return b
	}
	_, listID, _, ok := b.Card(from)
	if !ok {
		return b
	}
	if b.Has(to) {
		return b.RemoveCard(from)
	}
	b.Lists = UpdateByID(b.Lists, listID, func(l List) List {
		l.Cards = UpdateByID(l.Cards, from, func(c Card) Card {
			c.ID = to
			return c
		})
		return l
	})
	return b
}

// MergeList folds canonical server fields into the list id. Only fields the
// server actually sent are taken; the list keeps its place and cards.
func (b Board) MergeList(id string, server List) Board {
	b.Lists = UpdateByID(b.Lists, id, func(l List) List {
		if server.Title != "" {
			l.Title = server.Title
		}
		return l
	})
	return b
}

// MergeCard folds canonical server fields into the card id.
func (b Board) MergeCard(id string, server Card) Board {
	_, listID, _, ok := b.Card(id)
	if !ok {
		return b
	}
	b.Lists = UpdateByID(b.Lists, listID, func(l List) List {
		l.Cards = UpdateByID(l.Cards, id, func(c Card) Card {
			if server.Title != "" {
				c.Title = server.Title
			}
			if server.Description != "" {
				c.Description = server.Description
			}
			if server.Labels != nil {
				c.Labels = append([]Label(nil), server.Labels...)
			}
			if !server.DueDate.IsZero() {
				c.DueDate = server.DueDate
			}
			if server.Checklists != nil {
				c.Checklists = normalizeChecklists(server.Checklists)
			}
			return c
		})
		return l
	})
	return b
}

// Validate checks the tree invariants: every list and card has a non-empty id
// unique across the board, so no card can be a member of two lists.
func (b Board) Validate() error {
	seen := make(map[string]struct{})
	for _, l := range b.Lists {
		if l.ID == "" {
			return fmt.Errorf("list %q: %w", l.Title, ErrEmptyID)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("list %s: %w", l.ID, ErrDuplicateID)
		}
		seen[l.ID] = struct{}{}
		for _, c := range l.Cards {
			if c.ID == "" {
				return fmt.Errorf("card %q in list %s: %w", c.Title, l.ID, ErrEmptyID)
			}
			if _, dup := seen[c.ID]; dup {
				return fmt.Errorf("card %s: %w", c.ID, ErrDuplicateID)
			}
			seen[c.ID] = struct{}{}
		}
	}
	return nil
}
