package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/CrowderSoup/kanban-sync/services"
)

type contextKey string

const claimsContextKey contextKey = "claims"

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter for websocket upgrades that cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" && websocketRequest(r) {
			return t, nil
		}
		return "", fmt.Errorf("missing authorization header")
	}

	authParts := strings.Split(authHeader, " ")
	if len(authParts) != 2 || authParts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization format")
	}
	return authParts[1], nil
}

func websocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := m.authService.VerifyJWT(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (*services.Claims, bool) {
	c, ok := r.Context().Value(claimsContextKey).(*services.Claims)
	return c, ok
}
