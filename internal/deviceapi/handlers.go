// Package deviceapi is the HTTP surface devices talk to: pairing, config
// fetch, heartbeat, command polling/ack and event submission.
package deviceapi

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"garita/internal/devcfg"
	"garita/internal/engine"
	"garita/internal/models"
	"garita/internal/queue"
	"garita/internal/registry"
	"garita/internal/store"
)

const (
	nonceMinLen = 16
	nonceMaxLen = 128
)

type Handler struct {
	reg     *registry.Service
	queue   *queue.Service
	engine  *engine.Engine
	limiter *keyedLimiter
}

func New(reg *registry.Service, q *queue.Service, eng *engine.Engine, pairPerMinute int) *Handler {
	return &Handler{
		reg:     reg,
		queue:   q,
		engine:  eng,
		limiter: newKeyedLimiter(pairPerMinute),
	}
}

// Close stops the limiter's background cleanup.
func (h *Handler) Close() {
	h.limiter.Stop()
}

func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/api/v1/pair", h.Pair).Methods(http.MethodPost)

	sub := r.PathPrefix("/api/v1/device").Subrouter()
	sub.Use(h.auth)
	sub.HandleFunc("/config", h.GetConfig).Methods(http.MethodGet)
	sub.HandleFunc("/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	sub.HandleFunc("/commands", h.PollCommands).Methods(http.MethodGet)
	sub.HandleFunc("/commands/{id:[0-9]+}/ack", h.AckCommand).Methods(http.MethodPost)
	sub.HandleFunc("/events", h.SubmitEvent).Methods(http.MethodPost)
}

// POST /api/v1/pair  (public, rate-limited per source IP and device id)
func (h *Handler) Pair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicID    string `json:"public_id"`
		PairingCode string `json:"pairing_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicID == "" || req.PairingCode == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "public_id and pairing_code are required", nil)
		return
	}

	if ok, retry := h.limiter.Allow("ip:"+clientIP(r), "dev:"+req.PublicID); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		models.WriteProblem(w, http.StatusTooManyRequests, "Too Many Requests", "pairing rate limit exceeded", nil)
		return
	}

	token, err := h.reg.Pair(r.Context(), req.PublicID, req.PairingCode)
	if err != nil {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// GET /api/v1/device/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r)
	cfg, err := devcfg.Parse(d.Config)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "device config unreadable", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"public_id":           d.PublicID,
		"location_id":         d.LocationID,
		"allow_manual_unlock": cfg.AllowManualUnlock,
		"unlock_ms":           cfg.UnlockMS,
		"allowed_hours":       cfg.AllowedHours,
		"allowed_event_types": cfg.AllowedEventTypes,
		"dni_requires_pin":    cfg.DNIRequiresPIN,
		"enroll_active":       cfg.Enroll.ActiveAt(time.Now().UTC()),
	})
}

// POST /api/v1/device/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r)
	var status map[string]any
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	// best-effort by contract: the handler never fails on storage errors
	h.reg.Heartbeat(r.Context(), d.ID, status)
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/device/commands?limit=N
func (h *Handler) PollCommands(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cmds, err := h.queue.Poll(r.Context(), d.ID, limit)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

// POST /api/v1/device/commands/{id}/ack
func (h *Handler) AckCommand(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r)
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var req struct {
		Result map[string]any `json:"result"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
			return
		}
	}

	already, err := h.queue.Ack(r.Context(), d.ID, uint(id), req.Result)
	switch {
	case errors.Is(err, store.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown command", nil)
		return
	case errors.Is(err, store.ErrConflict):
		models.WriteProblem(w, http.StatusConflict, "Conflict", "command is not ackable", nil)
		return
	case errors.Is(err, queue.ErrPayloadTooLarge):
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "result too large", nil)
		return
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": models.CommandStatusAcked, "already": already})
}

// POST /api/v1/device/events  (X-Event-Nonce required)
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r)

	nonce := r.Header.Get(HeaderEventNonce)
	if len(nonce) < nonceMinLen || len(nonce) > nonceMaxLen {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request",
			"X-Event-Nonce header is required (16-128 chars)", nil)
		return
	}

	var req struct {
		EventType string            `json:"event_type"`
		Value     string            `json:"value"`
		Meta      map[string]string `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventType == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "event_type is required", nil)
		return
	}

	res, err := h.engine.Evaluate(r.Context(), engine.Input{
		Device: d,
		Type:   req.EventType,
		Value:  req.Value,
		Nonce:  nonce,
		Meta:   req.Meta,
	})
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, res)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
