package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService *services.AuthService
	dataService *database.DataService
	log         log.FieldLogger
}

func NewAuthHandler(authService *services.AuthService, dataService *database.DataService, logger log.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		dataService: dataService,
		log:         logger,
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// Login handles the login request (sending a magic link)
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	magicLink, err := h.authService.GenerateMagicLink(req.Email, strings.TrimSpace(req.Name), baseURL(r))
	if err != nil {
		h.log.WithError(err).Error("Error generating magic link")
		http.Error(w, "Failed to generate login link", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"message":   "Magic link has been sent",
		"magicLink": magicLink, // For development only
	})
}

// HandleMagicLink redeems a magic link. API clients asking for JSON get the
// session token back; browsers are redirected to the frontend with it.
func (h *AuthHandler) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	email, name, err := h.authService.VerifyMagicLinkToken(token)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusBadRequest)
		return
	}

	user, err := h.dataService.UpsertUser(r.Context(), email, name)
	if err != nil {
		h.log.WithError(err).Error("Error saving user")
		http.Error(w, "Authentication error", http.StatusInternalServerError)
		return
	}

	jwtToken, err := h.authService.CreateJWT(user.ID, user.Email, user.Name)
	if err != nil {
		h.log.WithError(err).Error("Error creating JWT")
		http.Error(w, "Authentication error", http.StatusInternalServerError)
		return
	}
	h.log.WithField("user", user.ID).Info("User signed in")

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]any{"token": jwtToken, "user": user})
		return
	}
	redirectURL := fmt.Sprintf("/?token=%s&email=%s", url.QueryEscape(jwtToken), url.QueryEscape(user.Email))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Me returns the signed-in user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	user, err := h.dataService.User(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
