package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"prebuildd/appctx"
	"prebuildd/core"
	"prebuildd/services"
)

// AuthMiddleware authenticates dashboard API requests. The bearer token is
// the "{userId}|{tokenValue}" form of a dashboard-scoped token stored
// under the user's internal identity.
type AuthMiddleware struct {
	usersService  services.UsersService
	tokensService services.TokensService
}

func NewAuthMiddleware(
	usersService services.UsersService,
	tokensService services.TokensService,
) *AuthMiddleware {
	return &AuthMiddleware{
		usersService:  usersService,
		tokensService: tokensService,
	}
}

// WithAuth wraps an HTTP handler with bearer token authentication
func (m *AuthMiddleware) WithAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Printf("❌ Missing Authorization header")
			m.writeErrorResponse(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Printf("❌ Invalid Authorization header format")
			m.writeErrorResponse(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}
		bearer := strings.TrimPrefix(authHeader, "Bearer ")

		userID, tokenValue, ok := core.SplitWebhookSecretToken(bearer)
		if !ok {
			log.Printf("❌ Malformed bearer token")
			m.writeErrorResponse(w, "invalid token", http.StatusUnauthorized)
			return
		}

		tokens, err := m.tokensService.GetTokensWithScope(
			r.Context(), core.InternalAuthProviderID, userID, core.DashboardTokenScope)
		if err != nil {
			log.Printf("❌ Failed to load dashboard tokens: %v", err)
			m.writeErrorResponse(w, "internal server error", http.StatusInternalServerError)
			return
		}

		matched := false
		for _, token := range tokens {
			if subtle.ConstantTimeCompare([]byte(token.Value), []byte(tokenValue)) == 1 {
				matched = true
				break
			}
		}
		if !matched {
			log.Printf("❌ Invalid dashboard token for user %s", userID)
			m.writeErrorResponse(w, "invalid token", http.StatusUnauthorized)
			return
		}

		userOpt, err := m.usersService.GetUserByID(r.Context(), userID)
		if err != nil {
			log.Printf("❌ Failed to load user %s: %v", userID, err)
			m.writeErrorResponse(w, "internal server error", http.StatusInternalServerError)
			return
		}
		user, found := userOpt.Get()
		if !found {
			m.writeErrorResponse(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if user.Blocked {
			log.Printf("⚠️ Blocked user %s rejected", user.ID)
			m.writeErrorResponse(w, "user is blocked", http.StatusForbidden)
			return
		}

		ctx := appctx.SetUser(r.Context(), user)
		next(w, r.WithContext(ctx))
	}
}

// writeErrorResponse writes a standardized error response
func (m *AuthMiddleware) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("❌ Failed to encode error response: %v", err)
	}
}
