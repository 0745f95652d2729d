package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/planner"
)

func (h *BoardHandler) Boards(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	boards, err := h.dataService.Boards(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, err, "boards")
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "Board title is required", http.StatusBadRequest)
		return
	}
	b, err := h.dataService.CreateBoard(r.Context(), claims.UserID, strings.TrimSpace(req.Title))
	if err != nil {
		h.fail(w, err, "board")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, ok := h.member(w, r, id); !ok {
		return
	}
	b, err := h.dataService.Board(r.Context(), id)
	if err != nil {
		h.fail(w, err, "board")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BoardHandler) UpdateBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, _, ok := h.member(w, r, id); !ok {
		return
	}
	var p board.BoardPatch
	if !decodeBody(w, r, &p) {
		return
	}
	if p.IsEmpty() || (p.Title != nil && strings.TrimSpace(*p.Title) == "") {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}
	b, err := h.dataService.UpdateBoard(r.Context(), id, p)
	if err != nil {
		h.fail(w, err, "board")
		return
	}
	h.emit(r, events.Event{Type: events.BoardUpdated, BoardID: id, UpdatedFields: mustJSON(p)})
	writeJSON(w, http.StatusOK, b)
}

func (h *BoardHandler) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_, role, ok := h.member(w, r, id)
	if !ok {
		return
	}
	if role != database.RoleOwner {
		http.Error(w, "only the owner can delete a board", http.StatusForbidden)
		return
	}
	if err := h.dataService.DeleteBoard(r.Context(), id); err != nil {
		h.fail(w, err, "board")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinBoard adds the caller to the board's members.
func (h *BoardHandler) JoinBoard(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := h.dataService.Role(r.Context(), id, claims.UserID); err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	} else if !errors.Is(err, database.ErrNotMember) {
		h.fail(w, err, "board")
		return
	}
	if err := h.dataService.AddMember(r.Context(), id, claims.UserID, database.RoleMember); err != nil {
		h.fail(w, err, "board")
		return
	}
	h.log.WithField("user", claims.UserID).WithField("board", id).Info("User joined board")
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	if _, _, ok := h.member(w, r, boardID); !ok {
		return
	}
	var req struct {
		Title    string `json:"title"`
		Position *int   `json:"position"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "List title is required", http.StatusBadRequest)
		return
	}
	// without a position the list goes last
	pos := math.MaxInt32
	if req.Position != nil {
		pos = *req.Position
	}
	l, err := h.dataService.CreateList(r.Context(), boardID, req.Title, pos)
	if err != nil {
		h.fail(w, err, "list")
		return
	}
	h.emit(r, events.Event{Type: events.ListCreated, BoardID: boardID, ListID: l.ID, Entity: mustJSON(l), Position: &l.Position})
	writeJSON(w, http.StatusCreated, l)
}

func (h *BoardHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	boardID, err := h.dataService.ListBoard(r.Context(), id)
	if err != nil {
		h.fail(w, err, "list")
		return
	}
	if _, _, ok := h.member(w, r, boardID); !ok {
		return
	}
	var p board.ListPatch
	if !decodeBody(w, r, &p) {
		return
	}
	if p.IsEmpty() || strings.TrimSpace(*p.Title) == "" {
		http.Error(w, "List title is required", http.StatusBadRequest)
		return
	}
	l, _, err := h.dataService.UpdateList(r.Context(), id, p)
	if err != nil {
		h.fail(w, err, "list")
		return
	}
	h.emit(r, events.Event{Type: events.ListUpdated, BoardID: boardID, ListID: id, UpdatedFields: mustJSON(p)})
	writeJSON(w, http.StatusOK, l)
}

func (h *BoardHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	boardID, err := h.dataService.ListBoard(r.Context(), id)
	if err != nil {
		h.fail(w, err, "list")
		return
	}
	if _, _, ok := h.member(w, r, boardID); !ok {
		return
	}
	if _, err := h.dataService.DeleteList(r.Context(), id); err != nil {
		h.fail(w, err, "list")
		return
	}
	h.emit(r, events.Event{Type: events.ListDeleted, BoardID: boardID, ListID: id})
	w.WriteHeader(http.StatusNoContent)
}

// ReorderLists has no push event; other clients pick up the order on their
// next refresh.
func (h *BoardHandler) ReorderLists(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	if _, _, ok := h.member(w, r, boardID); !ok {
		return
	}
	var p planner.ListReorderPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if err := h.dataService.ReorderLists(r.Context(), boardID, p.Lists); err != nil {
		h.fail(w, err, "board")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
