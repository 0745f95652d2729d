package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/events"
)

// cardBoard resolves the board of a card and checks the caller belongs to it.
func (h *BoardHandler) cardBoard(w http.ResponseWriter, r *http.Request, cardID string) (boardID, listID string, ok bool) {
	boardID, listID, err := h.dataService.CardBoard(r.Context(), cardID)
	if err != nil {
		h.fail(w, err, "card")
		return "", "", false
	}
	if _, _, ok := h.member(w, r, boardID); !ok {
		return "", "", false
	}
	return boardID, listID, true
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]
	boardID, err := h.dataService.ListBoard(r.Context(), listID)
	if err != nil {
		h.fail(w, err, "list")
		return
	}
	if _, _, ok := h.member(w, r, boardID); !ok {
		return
	}

	var in api.CardInput
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		http.Error(w, "Card title is required", http.StatusBadRequest)
		return
	}
	c := board.Card{
		Title:       in.Title,
		Description: in.Description,
		Labels:      in.Labels,
		Checklists:  in.Checklists,
		Position:    in.Position,
	}
	if in.DueDate != nil {
		c.DueDate = *in.DueDate
	}

	created, err := h.dataService.CreateCard(r.Context(), listID, c)
	if err != nil {
		h.fail(w, err, "card")
		return
	}
	h.emit(r, events.Event{
		Type:     events.CardCreated,
		BoardID:  boardID,
		ListID:   listID,
		CardID:   created.ID,
		Entity:   mustJSON(created),
		Position: &created.Position,
	})
	writeJSON(w, http.StatusCreated, created)
}

func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	boardID, listID, ok := h.cardBoard(w, r, id)
	if !ok {
		return
	}
	var p board.CardPatch
	if !decodeBody(w, r, &p) {
		return
	}
	if p.IsEmpty() {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		http.Error(w, "Card title is required", http.StatusBadRequest)
		return
	}
	c, err := h.dataService.UpdateCard(r.Context(), id, p)
	if err != nil {
		h.fail(w, err, "card")
		return
	}
	h.emit(r, events.Event{Type: events.CardUpdated, BoardID: boardID, ListID: listID, CardID: id, UpdatedFields: mustJSON(p)})
	writeJSON(w, http.StatusOK, c)
}

func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	boardID, listID, ok := h.cardBoard(w, r, id)
	if !ok {
		return
	}
	if err := h.dataService.DeleteCard(r.Context(), id); err != nil {
		h.fail(w, err, "card")
		return
	}
	h.emit(r, events.Event{Type: events.CardDeleted, BoardID: boardID, ListID: listID, CardID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	boardID, _, ok := h.cardBoard(w, r, id)
	if !ok {
		return
	}
	var in api.MoveInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.DestinationListID == "" {
		http.Error(w, "destinationListId is required", http.StatusBadRequest)
		return
	}
	if _, err := h.dataService.MoveCard(r.Context(), id, in.DestinationListID, in.Position); err != nil {
		h.fail(w, err, "list")
		return
	}
	pos := in.Position
	h.emit(r, events.Event{Type: events.CardMoved, BoardID: boardID, ListID: in.DestinationListID, CardID: id, Position: &pos})
	w.WriteHeader(http.StatusNoContent)
}

// Invite records an invitation and mails the accept link. Mail failures are
// logged; the invitation stands either way.
func (h *BoardHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BoardID string `json:"boardId"`
		Email   string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !strings.Contains(req.Email, "@") {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	claims, _, ok := h.member(w, r, req.BoardID)
	if !ok {
		return
	}
	inv, err := h.dataService.CreateInvitation(r.Context(), req.BoardID, req.Email, claims.UserID)
	if err != nil {
		h.fail(w, err, "board")
		return
	}

	acceptURL := fmt.Sprintf("%s/invite/%s", baseURL(r), url.PathEscape(inv.Token))
	if err := h.authService.SendInvitationEmail(inv.Email, inv.InvitedBy, inv.BoardTitle, acceptURL); err != nil {
		h.log.WithError(err).WithField("email", inv.Email).Warn("Failed to send invitation email")
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *BoardHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.dataService.Invitation(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.fail(w, err, "invitation")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *BoardHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	inv, err := h.dataService.AcceptInvitation(r.Context(), mux.Vars(r)["token"], claims.UserID)
	if err != nil {
		h.fail(w, err, "invitation")
		return
	}
	h.log.WithFields(map[string]any{"user": claims.UserID, "board": inv.BoardID}).Info("Invitation accepted")
	writeJSON(w, http.StatusOK, inv)
}
