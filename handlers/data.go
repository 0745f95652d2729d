package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/services"
)

const publishTimeout = 5 * time.Second

// BoardHandler serves boards, lists, cards, invitations and the push socket.
type BoardHandler struct {
	dataService *database.DataService
	authService *services.AuthService
	hub         *services.Hub
	bus         services.Bus
	log         log.FieldLogger
}

func NewBoardHandler(dataService *database.DataService, authService *services.AuthService, hub *services.Hub, bus services.Bus, logger log.FieldLogger) *BoardHandler {
	return &BoardHandler{
		dataService: dataService,
		authService: authService,
		hub:         hub,
		bus:         bus,
		log:         logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps storage errors onto status codes.
func (h *BoardHandler) fail(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, database.ErrNotMember):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, database.ErrExpired):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		h.log.WithError(err).Errorf("Error handling %s", what)
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

// member checks that the caller has joined boardID and returns their role.
func (h *BoardHandler) member(w http.ResponseWriter, r *http.Request, boardID string) (*services.Claims, string, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return nil, "", false
	}
	role, err := h.dataService.Role(r.Context(), boardID, claims.UserID)
	if err != nil {
		h.fail(w, err, "board")
		return nil, "", false
	}
	return claims, role, true
}

// emit publishes a board event on behalf of the caller, tagged with the
// client mutation id the request carried.
func (h *BoardHandler) emit(r *http.Request, ev events.Event) {
	if claims, ok := claimsFrom(r); ok {
		ev.Actor = events.Actor{UserID: claims.UserID, Name: claims.Name}
	}
	ev.OriginID = r.Header.Get(events.OriginHeader)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, ev); err != nil {
		h.log.WithError(err).WithFields(log.Fields{"type": ev.Type, "board": ev.BoardID}).Error("Failed to publish board event")
	}
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// Authorize lets the hub admit only board members to a board's room.
func (h *BoardHandler) Authorize(ctx context.Context, boardID, userID string) error {
	_, err := h.dataService.Role(ctx, boardID, userID)
	return err
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection
func (h *BoardHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins in development
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Error upgrading to WebSocket")
		return
	}

	// A user may hold several connections, one per tab or device
	client := services.NewClient(h.hub, conn, claims.UserID, claims.Name)
	h.hub.Register(client)
	h.log.WithField("user", claims.UserID).Info("WebSocket client registered")

	go client.WritePump()
	go client.ReadPump()
}
