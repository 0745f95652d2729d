package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires every API route. Everything except login, magic-link
// redemption and invitation lookup requires a bearer token.
func NewRouter(authHandler *AuthHandler, boardHandler *BoardHandler, authMiddleware *AuthMiddleware) *mux.Router {
	r := mux.NewRouter()

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/magic-link", authHandler.HandleMagicLink).Methods("GET")
	r.HandleFunc("/api/invite/{token}", boardHandler.GetInvitation).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)

	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")

	api.HandleFunc("/boards", boardHandler.Boards).Methods("GET")
	api.HandleFunc("/boards", boardHandler.CreateBoard).Methods("POST")
	api.HandleFunc("/boards/{id}", boardHandler.GetBoard).Methods("GET")
	api.HandleFunc("/boards/{id}", boardHandler.UpdateBoard).Methods("PUT")
	api.HandleFunc("/boards/{id}", boardHandler.DeleteBoard).Methods("DELETE")
	api.HandleFunc("/boards/{id}/join", boardHandler.JoinBoard).Methods("POST")
	api.HandleFunc("/boards/{id}/lists", boardHandler.CreateList).Methods("POST")
	api.HandleFunc("/boards/{id}/lists/reorder", boardHandler.ReorderLists).Methods("PUT")

	api.HandleFunc("/lists/{id}", boardHandler.UpdateList).Methods("PUT")
	api.HandleFunc("/lists/{id}", boardHandler.DeleteList).Methods("DELETE")
	api.HandleFunc("/lists/{id}/cards", boardHandler.CreateCard).Methods("POST")

	api.HandleFunc("/cards/{id}", boardHandler.UpdateCard).Methods("PUT")
	api.HandleFunc("/cards/{id}", boardHandler.DeleteCard).Methods("DELETE")
	api.HandleFunc("/cards/{id}/move", boardHandler.MoveCard).Methods("PUT")

	api.HandleFunc("/invite", boardHandler.Invite).Methods("POST")
	api.HandleFunc("/invite/{token}/accept", boardHandler.AcceptInvite).Methods("POST")

	// WebSocket route for real-time updates
	api.HandleFunc("/ws", boardHandler.HandleWebSocket)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return r
}
