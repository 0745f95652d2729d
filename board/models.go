// Package board holds the client-side board snapshot: a board of ordered
// lists, each holding ordered cards. Every operation is pure and returns a new
// value, so a snapshot taken by reference is never changed behind its holder's
// back.
package board

import "time"

// Board is the top-level container of ordered lists.
type Board struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Background string `json:"background,omitempty"`
	Lists      []List `json:"lists"`
}

// List is an ordered container of cards. Position mirrors the index in
// Board.Lists once the board has been normalized.
type List struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Cards    []Card `json:"cards"`
}

type Card struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Labels      []Label     `json:"labels,omitempty"`
	DueDate     DueWindow   `json:"dueDate"`
	Checklists  []Checklist `json:"checklists,omitempty"`
	Position    int         `json:"position"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DueWindow is an optional start/end pair. Either side may be unset.
type DueWindow struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

func (d DueWindow) IsZero() bool {
	return d.Start == nil && d.End == nil
}

type Checklist struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Items    []Item `json:"items"`
}

type Item struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

func (l List) EntityID() string      { return l.ID }
func (c Card) EntityID() string      { return c.ID }
func (c Checklist) EntityID() string { return c.ID }
func (i Item) EntityID() string      { return i.ID }

// Progress returns the number of checked items and the total across all
// checklists of the card.
func (c Card) Progress() (completed, total int) {
	for _, cl := range c.Checklists {
		for _, it := range cl.Items {
			total++
			if it.Checked {
				completed++
			}
		}
	}
	return completed, total
}

// ListPatch carries the mutable fields of a list. Nil fields are left alone.
type ListPatch struct {
	Title *string `json:"title,omitempty"`
}

func (p ListPatch) IsEmpty() bool { return p.Title == nil }

func (p ListPatch) Apply(l List) List {
	if p.Title != nil {
		l.Title = *p.Title
	}
	return l
}

// CardPatch carries the mutable fields of a card. It is also the shape of
// updatedFields in card-updated push events.
type CardPatch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Labels      *[]Label     `json:"labels,omitempty"`
	DueDate     *DueWindow   `json:"dueDate,omitempty"`
	Checklists  *[]Checklist `json:"checklists,omitempty"`
}

func (p CardPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Labels == nil && p.DueDate == nil && p.Checklists == nil
}

func (p CardPatch) Apply(c Card) Card {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Labels != nil {
		c.Labels = append([]Label(nil), (*p.Labels)...)
	}
	if p.DueDate != nil {
		c.DueDate = *p.DueDate
	}
	if p.Checklists != nil {
		c.Checklists = normalizeChecklists(*p.Checklists)
	}
	return c
}

type BoardPatch struct {
	Title      *string `json:"title,omitempty"`
	Background *string `json:"background,omitempty"`
}

func (p BoardPatch) IsEmpty() bool { return p.Title == nil && p.Background == nil }

func (p BoardPatch) Apply(b Board) Board {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Background != nil {
		b.Background = *p.Background
	}
	return b
}
