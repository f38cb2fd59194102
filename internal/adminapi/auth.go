package adminapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"garita/internal/models"
	"garita/internal/secrets"
)

// Scopes gating the operator endpoints. "*" grants everything.
const (
	ScopeDevices     = "devices"
	ScopeCredentials = "credentials"
	ScopeCommands    = "commands"
	ScopeEvents      = "events"
)

type ctxKey string

const scopesKey ctxKey = "scopes"

// auth resolves the bearer token against the api_tokens table. Like device
// auth, every failure is one opaque 401.
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "", nil)
			return
		}
		tokens, err := h.tokens.List(r.Context())
		if err != nil {
			models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
			return
		}
		now := time.Now().UTC()
		for i := range tokens {
			t := &tokens[i]
			if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
				continue
			}
			if secrets.VerifySecret(raw, t.TokenHash) {
				ctx := context.WithValue(r.Context(), scopesKey, strings.Fields(t.Scope))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "", nil)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// requireScope answers whether the request token carries the scope (or
// "*"), writing the 403 itself when it does not.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	granted, _ := r.Context().Value(scopesKey).([]string)
	for _, s := range granted {
		if s == "*" || s == scope {
			return true
		}
	}
	models.WriteProblem(w, http.StatusForbidden, "Forbidden", "missing scope "+scope, nil)
	return false
}
