package deviceapi

import (
	"context"
	"net/http"
	"strings"

	"garita/internal/models"
)

// Header names of the device auth contract.
const (
	HeaderDeviceID   = "X-Device-Id"
	HeaderEventNonce = "X-Event-Nonce"
)

type ctxKey string

const deviceKey ctxKey = "device"

// auth authenticates every device-facing call. All failures are one opaque
// 401 so device ids cannot be probed.
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		publicID := r.Header.Get(HeaderDeviceID)
		token := bearerToken(r)
		d, err := h.reg.Authenticate(r.Context(), publicID, token)
		if err != nil {
			models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "", nil)
			return
		}
		ctx := context.WithValue(r.Context(), deviceKey, d)
		next.ServeHTTP(w, r.WithContext(ctx))
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

func deviceFrom(r *http.Request) *models.Device {
	d, _ := r.Context().Value(deviceKey).(*models.Device)
	return d
}
