package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware authenticates every request and stores the user in its context.
// Missing tokens get 401, invalid ones 403.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := v.Verify(TokenFromRequest(r))
			if err != nil {
				if errors.Is(err, ErrMissingToken) {
					writeError(w, http.StatusUnauthorized, map[string]any{"error": "Access token required"})
					return
				}
				slog.Debug("token rejected", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusForbidden, map[string]any{"error": "Invalid or expired token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRoles rejects users whose role is not in roles.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, map[string]any{"error": "Authentication required"})
				return
			}
			if !user.HasRole(roles...) {
				writeError(w, http.StatusForbidden, map[string]any{
					"error":    "Insufficient permissions",
					"required": roles,
					"current":  user.Role,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
