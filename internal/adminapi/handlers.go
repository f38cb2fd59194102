// Package adminapi is the operator HTTP surface: device administration,
// enrollment control, remote commands, credentials and the audit listing.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"garita/internal/creds"
	"garita/internal/devcfg"
	"garita/internal/logs"
	"garita/internal/models"
	"garita/internal/queue"
	"garita/internal/registry"
	"garita/internal/store"
)

const defaultEnrollTTL = 2 * time.Minute

type Handler struct {
	reg     *registry.Service
	queue   *queue.Service
	creds   *creds.Service
	devices store.DeviceStore
	events  store.EventStore
	tokens  store.APITokenStore
}

func New(reg *registry.Service, q *queue.Service, cr *creds.Service,
	devices store.DeviceStore, events store.EventStore, tokens store.APITokenStore) *Handler {
	return &Handler{reg: reg, queue: q, creds: cr, devices: devices, events: events, tokens: tokens}
}

func RegisterRoutes(r *mux.Router, h *Handler) {
	sub := r.PathPrefix("/api/v1/admin").Subrouter()
	sub.Use(h.auth)

	sub.HandleFunc("/devices", h.CreateDevice).Methods(http.MethodPost)
	sub.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id:[0-9]+}", h.GetDevice).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id:[0-9]+}", h.UpdateDevice).Methods(http.MethodPatch)
	sub.HandleFunc("/devices/{id:[0-9]+}/pairing/rotate", h.RotatePairing).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id:[0-9]+}/token/revoke", h.RevokeToken).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id:[0-9]+}/enroll", h.StartEnroll).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id:[0-9]+}/enroll", h.ClearEnroll).Methods(http.MethodDelete)
	sub.HandleFunc("/devices/{id:[0-9]+}/unlock", h.RemoteUnlock).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id:[0-9]+}/commands", h.ListCommands).Methods(http.MethodGet)
	sub.HandleFunc("/commands/{id:[0-9]+}/cancel", h.CancelCommand).Methods(http.MethodPost)
	sub.HandleFunc("/credentials", h.CreateCredential).Methods(http.MethodPost)
	sub.HandleFunc("/credentials", h.ListCredentials).Methods(http.MethodGet)
	sub.HandleFunc("/credentials/{id:[0-9]+}", h.DeactivateCredential).Methods(http.MethodDelete)
	sub.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet)
}

func pathID(r *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return uint(id)
}

func (h *Handler) device(w http.ResponseWriter, r *http.Request) *models.Device {
	d, err := h.devices.GetByID(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown device", nil)
		return nil
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return nil
	}
	return d
}

// POST /api/v1/admin/devices
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	var req struct {
		Name       string `json:"name"`
		LocationID *uint  `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "name is required", nil)
		return
	}
	d, code, err := h.reg.Create(r.Context(), req.Name, req.LocationID)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	// the pairing code is shown exactly once
	models.WriteJSON(w, http.StatusCreated, map[string]any{"device": d, "pairing_code": code})
}

// GET /api/v1/admin/devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	devices, err := h.devices.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// GET /api/v1/admin/devices/{id}
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	if d := h.device(w, r); d != nil {
		models.WriteJSON(w, http.StatusOK, d)
	}
}

// PATCH /api/v1/admin/devices/{id}
func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	d := h.device(w, r)
	if d == nil {
		return
	}
	var req struct {
		Name       *string         `json:"name"`
		LocationID *uint           `json:"location_id"`
		Enabled    *bool           `json:"enabled"`
		Config     json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.LocationID != nil {
		d.LocationID = req.LocationID
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}
	if len(req.Config) > 0 {
		// reject blobs the boundary parser cannot read
		if _, err := devcfg.Parse([]byte(req.Config)); err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
			return
		}
		d.Config = []byte(req.Config)
	}
	if err := h.devices.Update(r.Context(), d); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, d)
}

// POST /api/v1/admin/devices/{id}/pairing/rotate
func (h *Handler) RotatePairing(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	code, err := h.reg.RotatePairing(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown device", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"pairing_code": code})
}

// POST /api/v1/admin/devices/{id}/token/revoke
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	err := h.reg.RevokeToken(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown device", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/admin/devices/{id}/enroll
func (h *Handler) StartEnroll(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	d := h.device(w, r)
	if d == nil {
		return
	}
	var req struct {
		UserID         uint   `json:"user_id"`
		CredentialType string `json:"credential_type"`
		Overwrite      bool   `json:"overwrite"`
		TTLSeconds     int    `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "user_id and credential_type are required", nil)
		return
	}
	ttl := defaultEnrollTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	expires := time.Now().UTC().Add(ttl)
	mode := devcfg.EnrollMode{
		UserID:         req.UserID,
		CredentialType: req.CredentialType,
		Overwrite:      req.Overwrite,
		ExpiresAt:      &expires,
	}
	if err := h.reg.StartEnroll(r.Context(), d.ID, mode); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	// the config patch is the source of truth; the command just gets a
	// polling device to prompt without waiting for its next config fetch
	if _, _, err := h.queue.Enqueue(r.Context(), d.ID, models.CommandTypeStartEnroll, map[string]any{
		"user_id":         req.UserID,
		"credential_type": req.CredentialType,
	}, "", nil); err != nil {
		logs.Logger.Warnf("start_enroll command for device %d not queued: %v", d.ID, err)
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"enroll_expires_at": expires})
}

// DELETE /api/v1/admin/devices/{id}/enroll
func (h *Handler) ClearEnroll(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeDevices) {
		return
	}
	d := h.device(w, r)
	if d == nil {
		return
	}
	if err := h.reg.ClearEnroll(r.Context(), d.ID); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/admin/devices/{id}/unlock
func (h *Handler) RemoteUnlock(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCommands) {
		return
	}
	d := h.device(w, r)
	if d == nil {
		return
	}
	var req struct {
		RequestID   string `json:"request_id"`
		UnlockMS    *int   `json:"unlock_ms"`
		ActorUserID *uint  `json:"actor_user_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
			return
		}
	}
	payload := map[string]any{}
	if req.UnlockMS != nil {
		payload["unlock_ms"] = *req.UnlockMS
	}
	cmd, existing, err := h.queue.Enqueue(r.Context(), d.ID, models.CommandTypeUnlock, payload, req.RequestID, req.ActorUserID)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	status := http.StatusAccepted
	if existing {
		status = http.StatusOK
	}
	models.WriteJSON(w, status, cmd)
}

// GET /api/v1/admin/devices/{id}/commands
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCommands) {
		return
	}
	d := h.device(w, r)
	if d == nil {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	cmds, err := h.queue.ListByDevice(r.Context(), d.ID, limit)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

// POST /api/v1/admin/commands/{id}/cancel
func (h *Handler) CancelCommand(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCommands) {
		return
	}
	err := h.queue.Cancel(r.Context(), pathID(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown command", nil)
	case errors.Is(err, store.ErrConflict):
		models.WriteProblem(w, http.StatusConflict, "Conflict", "command is not pending", nil)
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /api/v1/admin/credentials
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCredentials) {
		return
	}
	var req struct {
		UserID uint   `json:"user_id"`
		Type   string `json:"type"`
		Value  string `json:"value"`
		Label  string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "user_id, type and value are required", nil)
		return
	}
	c, err := h.creds.Create(r.Context(), req.UserID, req.Type, req.Value, req.Label)
	switch {
	case errors.Is(err, creds.ErrInvalid):
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid credential type or value", nil)
	case errors.Is(err, store.ErrConflict):
		models.WriteProblem(w, http.StatusConflict, "Conflict", "credential already in use", nil)
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
	default:
		models.WriteJSON(w, http.StatusCreated, c)
	}
}

// GET /api/v1/admin/credentials?user_id=
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCredentials) {
		return
	}
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "user_id query parameter is required", nil)
		return
	}
	list, err := h.creds.ListByUser(r.Context(), uint(userID))
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"credentials": list})
}

// DELETE /api/v1/admin/credentials/{id}
func (h *Handler) DeactivateCredential(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeCredentials) {
		return
	}
	err := h.creds.Deactivate(r.Context(), pathID(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "unknown credential", nil)
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/v1/admin/events?location_id=&device_id=&page=&page_size=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeEvents) {
		return
	}
	var f store.EventFilter
	q := r.URL.Query()
	if v, err := strconv.ParseUint(q.Get("location_id"), 10, 64); err == nil {
		id := uint(v)
		f.LocationID = &id
	}
	if v, err := strconv.ParseUint(q.Get("device_id"), 10, 64); err == nil {
		id := uint(v)
		f.DeviceID = &id
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	events, total, err := h.events.List(r.Context(), f)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "total": total})
}
