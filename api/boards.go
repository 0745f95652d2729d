package api

import (
	"context"
	"net/url"
	"time"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/planner"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthSession is what a redeemed magic link yields.
type AuthSession struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type LoginResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MagicLink string `json:"magicLink,omitempty"`
}

type BoardSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Background string    `json:"background,omitempty"`
	Role       string    `json:"role"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Invitation struct {
	Token      string    `json:"token"`
	BoardID    string    `json:"boardId"`
	BoardTitle string    `json:"boardTitle"`
	Email      string    `json:"email"`
	InvitedBy  string    `json:"invitedBy"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Accepted   bool      `json:"accepted"`
}

// ListInput is the create body for a list.
type ListInput struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// CardInput is the create body for a card.
type CardInput struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Labels      []board.Label     `json:"labels,omitempty"`
	DueDate     *board.DueWindow  `json:"dueDate,omitempty"`
	Checklists  []board.Checklist `json:"checklists,omitempty"`
	Position    int               `json:"position"`
}

// MoveInput is the body of a card move.
type MoveInput struct {
	DestinationListID string `json:"destinationListId"`
	Position          int    `json:"position"`
}

func esc(id string) string { return url.PathEscape(id) }

func (c *Client) Login(ctx context.Context, email, name string) (LoginResponse, error) {
	var out LoginResponse
	err := c.post(ctx, "/api/auth/login", map[string]string{"email": email, "name": name}, &out)
	return out, err
}

// RedeemMagicLink trades a one-time magic link token for a bearer token.
func (c *Client) RedeemMagicLink(ctx context.Context, token string) (AuthSession, error) {
	var out AuthSession
	err := c.get(ctx, "/api/auth/magic-link?token="+url.QueryEscape(token), &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.get(ctx, "/api/auth/me", &out)
	return out, err
}

func (c *Client) Boards(ctx context.Context) ([]BoardSummary, error) {
	var out []BoardSummary
	err := c.get(ctx, "/api/boards", &out)
	return out, err
}

func (c *Client) CreateBoard(ctx context.Context, title string) (board.Board, error) {
	var out board.Board
	if err := c.post(ctx, "/api/boards", map[string]string{"title": title}, &out); err != nil {
		return board.Board{}, err
	}
	return out.Normalize(), nil
}

// Board fetches a board with its lists and cards, ordered by position.
func (c *Client) Board(ctx context.Context, id string) (board.Board, error) {
	var out board.Board
	if err := c.get(ctx, "/api/boards/"+esc(id), &out); err != nil {
		return board.Board{}, err
	}
	return out.Normalize(), nil
}

func (c *Client) UpdateBoard(ctx context.Context, id string, p board.BoardPatch) (board.Board, error) {
	var out board.Board
	if err := c.put(ctx, "/api/boards/"+esc(id), p, &out); err != nil {
		return board.Board{}, err
	}
	return out, nil
}

func (c *Client) DeleteBoard(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/boards/"+esc(id))
}

// JoinBoard adds the signed-in user to the board's members.
func (c *Client) JoinBoard(ctx context.Context, id string) error {
	return c.post(ctx, "/api/boards/"+esc(id)+"/join", nil, nil)
}

func (c *Client) CreateList(ctx context.Context, boardID string, l board.List) (board.List, error) {
	var out board.List
	err := c.post(ctx, "/api/boards/"+esc(boardID)+"/lists", ListInput{Title: l.Title, Position: l.Position}, &out)
	return out, err
}

func (c *Client) UpdateList(ctx context.Context, id string, p board.ListPatch) (board.List, error) {
	var out board.List
	err := c.put(ctx, "/api/lists/"+esc(id), p, &out)
	return out, err
}

func (c *Client) DeleteList(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/lists/"+esc(id))
}

func (c *Client) ReorderLists(ctx context.Context, boardID string, p planner.ListReorderPayload) error {
	return c.put(ctx, "/api/boards/"+esc(boardID)+"/lists/reorder", p, nil)
}

func (c *Client) CreateCard(ctx context.Context, listID string, card board.Card) (board.Card, error) {
	in := CardInput{
		Title:       card.Title,
		Description: card.Description,
		Labels:      card.Labels,
		Checklists:  card.Checklists,
		Position:    card.Position,
	}
	if !card.DueDate.IsZero() {
		in.DueDate = &card.DueDate
	}
	var out board.Card
	err := c.post(ctx, "/api/lists/"+esc(listID)+"/cards", in, &out)
	return out, err
}

func (c *Client) UpdateCard(ctx context.Context, id string, p board.CardPatch) (board.Card, error) {
	var out board.Card
	err := c.put(ctx, "/api/cards/"+esc(id), p, &out)
	return out, err
}

func (c *Client) DeleteCard(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/cards/"+esc(id))
}

func (c *Client) MoveCard(ctx context.Context, p planner.CardMovePayload) error {
	in := MoveInput{DestinationListID: p.DestinationContainerID, Position: p.Position}
	return c.put(ctx, "/api/cards/"+esc(p.EntityID)+"/move", in, nil)
}

func (c *Client) Invite(ctx context.Context, boardID, email string) (Invitation, error) {
	var out Invitation
	err := c.post(ctx, "/api/invite", map[string]string{"boardId": boardID, "email": email}, &out)
	return out, err
}

func (c *Client) Invitation(ctx context.Context, token string) (Invitation, error) {
	var out Invitation
	err := c.get(ctx, "/api/invite/"+esc(token), &out)
	return out, err
}

func (c *Client) AcceptInvite(ctx context.Context, token string) (Invitation, error) {
	var out Invitation
	err := c.post(ctx, "/api/invite/"+esc(token)+"/accept", nil, &out)
	return out, err
}
