package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the user ID.
type contextKey string

const userIDKey contextKey = "userID"

var errMissingToken = errors.New("auth: access token required")

const (
	missingTokenBody = `{"success":false,"error":"unauthorized","message":"Access token required"}`
	invalidTokenBody = `{"success":false,"error":"forbidden","message":"Invalid or expired token"}`
)

// RequireAuth is a middleware that enforces bearer authentication.
//
// It reads "Authorization: Bearer <jwt>", validates the token and stores the
// user ID in the request context.
//   - no token           → 401 Unauthorized
//   - bad/expired token  → 403 Forbidden
//
// It does not check that the user still exists; handlers get a 404 from the
// service layer when the ID no longer resolves.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				if errors.Is(err, errMissingToken) {
					writeAuthError(w, http.StatusUnauthorized, missingTokenBody)
					return
				}
				writeAuthError(w, http.StatusForbidden, invalidTokenBody)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID returns a copy of ctx carrying userID. RequireAuth uses it; tests
// use it to call handlers directly.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous (no valid token was present).
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID reads the bearer token from the Authorization header and
// validates it. The scheme is matched case-insensitively.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}

	return tokens.Validate(strings.TrimSpace(token))
}

func writeAuthError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
