package adminapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"garita/internal/adminapi"
	"garita/internal/creds"
	"garita/internal/models"
	"garita/internal/queue"
	"garita/internal/registry"
	"garita/internal/secrets"
	"garita/internal/store/memory"
)

type env struct {
	router *mux.Router
	mem    *memory.Stores
	queue  *queue.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := memory.NewStores()
	reg := registry.New(mem.Devices)
	q := queue.New(mem.Commands, 30*time.Second, 60*time.Second)
	credSvc := creds.New(mem.Credentials, secrets.NewHasher("test-key"))

	r := mux.NewRouter().StrictSlash(true)
	h := adminapi.New(reg, q, credSvc, mem.Devices, mem.Events, mem.APITokens)
	adminapi.RegisterRoutes(r, h)
	return &env{router: r, mem: mem, queue: q}
}

// seedToken stores an operator token with the given scope and returns its
// plaintext.
func (e *env) seedToken(t *testing.T, scope string) string {
	t.Helper()
	raw, err := secrets.NewToken(32)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	hash, err := secrets.HashSecret(raw)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if err := e.mem.APITokens.Create(context.Background(), &models.APIToken{
		Name: "test", TokenHash: hash, Scope: scope,
	}); err != nil {
		t.Fatalf("token create: %v", err)
	}
	return raw
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestAuthAndScopes(t *testing.T) {
	e := newEnv(t)
	eventsOnly := e.seedToken(t, "events")

	if rr := e.do(t, http.MethodGet, "/api/v1/admin/devices", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/api/v1/admin/devices", "wrong", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d, want 401", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/api/v1/admin/devices", eventsOnly, nil); rr.Code != http.StatusForbidden {
		t.Errorf("missing scope: status %d, want 403", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/api/v1/admin/events", eventsOnly, nil); rr.Code != http.StatusOK {
		t.Errorf("granted scope: status %d, want 200", rr.Code)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	e := newEnv(t)
	raw, _ := secrets.NewToken(32)
	hash, _ := secrets.HashSecret(raw)
	past := time.Now().UTC().Add(-time.Hour)
	if err := e.mem.APITokens.Create(context.Background(), &models.APIToken{
		Name: "stale", TokenHash: hash, Scope: "*", ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("token create: %v", err)
	}
	if rr := e.do(t, http.MethodGet, "/api/v1/admin/devices", raw, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status %d, want 401", rr.Code)
	}
}

func TestCreateDeviceReturnsPairingCodeOnce(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "*")

	rr := e.do(t, http.MethodPost, "/api/v1/admin/devices", admin,
		map[string]any{"name": "puerta-1", "location_id": 3})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	var resp struct {
		Device      models.Device `json:"device"`
		PairingCode string        `json:"pairing_code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PairingCode == "" {
		t.Fatal("expected a plaintext pairing code")
	}
	if resp.Device.PublicID == "" {
		t.Fatal("expected a public id")
	}

	// the list never echoes the code
	rr = e.do(t, http.MethodGet, "/api/v1/admin/devices", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte(resp.PairingCode)) {
		t.Error("the pairing code must not appear in listings")
	}

	if rr := e.do(t, http.MethodPost, "/api/v1/admin/devices", admin, map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Errorf("missing name: status %d, want 400", rr.Code)
	}
}

func TestUpdateDeviceRejectsBadConfig(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "*")

	rr := e.do(t, http.MethodPost, "/api/v1/admin/devices", admin, map[string]any{"name": "puerta-1"})
	var created struct {
		Device models.Device `json:"device"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := fmt.Sprintf("/api/v1/admin/devices/%d", created.Device.ID)

	rr = e.do(t, http.MethodPatch, path, admin, map[string]any{
		"config": map[string]any{"unlock_ms": 5000},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("valid config: status %d, body %s", rr.Code, rr.Body)
	}

	rr = e.do(t, http.MethodPatch, path, admin, json.RawMessage(`{"config": {"allowed_hours": "nope"}}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unparseable config: status %d, want 400", rr.Code)
	}
}

func TestStartEnrollQueuesDeviceCommand(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "*")

	rr := e.do(t, http.MethodPost, "/api/v1/admin/devices", admin, map[string]any{"name": "puerta-1"})
	var created struct {
		Device models.Device `json:"device"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	path := fmt.Sprintf("/api/v1/admin/devices/%d/enroll", created.Device.ID)
	rr = e.do(t, http.MethodPost, path, admin, map[string]any{"user_id": 7, "credential_type": "fob"})
	if rr.Code != http.StatusOK {
		t.Fatalf("enroll status = %d, body %s", rr.Code, rr.Body)
	}

	// besides the config patch, the device gets a start_enroll command so a
	// poller prompts right away
	cmds, err := e.queue.ListByDevice(context.Background(), created.Device.ID, 10)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("queued %d commands, want 1", len(cmds))
	}
	if cmds[0].Type != models.CommandTypeStartEnroll {
		t.Errorf("command type = %q, want %q", cmds[0].Type, models.CommandTypeStartEnroll)
	}
}

func TestRemoteUnlockIsIdempotent(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "*")

	rr := e.do(t, http.MethodPost, "/api/v1/admin/devices", admin, map[string]any{"name": "puerta-1"})
	var created struct {
		Device models.Device `json:"device"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := fmt.Sprintf("/api/v1/admin/devices/%d/unlock", created.Device.ID)

	rr = e.do(t, http.MethodPost, path, admin, map[string]any{"request_id": "op-1"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first unlock status = %d, want 202", rr.Code)
	}
	var first models.AccessCommand
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rr = e.do(t, http.MethodPost, path, admin, map[string]any{"request_id": "op-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rr.Code)
	}
	var second models.AccessCommand
	if err := json.Unmarshal(rr.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("retry created command %d, want %d", second.ID, first.ID)
	}

	if rr := e.do(t, http.MethodPost, "/api/v1/admin/devices/9999/unlock", admin, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown device: status %d, want 404", rr.Code)
	}
}

func TestCancelCommand(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "*")

	cmd, _, err := e.queue.Enqueue(context.Background(), 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	path := fmt.Sprintf("/api/v1/admin/commands/%d/cancel", cmd.ID)

	if rr := e.do(t, http.MethodPost, path, admin, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rr.Code)
	}
	// a second cancel conflicts: the command is no longer pending
	if rr := e.do(t, http.MethodPost, path, admin, nil); rr.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/api/v1/admin/commands/9999/cancel", admin, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown command: status %d, want 404", rr.Code)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "credentials")

	rr := e.do(t, http.MethodPost, "/api/v1/admin/credentials", admin,
		map[string]any{"user_id": 7, "type": "fob", "value": "AB-12 cd"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body)
	}
	var c models.Credential
	if err := json.Unmarshal(rr.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Label != "****2 cd" {
		t.Errorf("label = %q, want masked value", c.Label)
	}

	// duplicate value, even for another user
	rr = e.do(t, http.MethodPost, "/api/v1/admin/credentials", admin,
		map[string]any{"user_id": 9, "type": "fob", "value": "ab12cd"})
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rr.Code)
	}

	rr = e.do(t, http.MethodPost, "/api/v1/admin/credentials", admin,
		map[string]any{"user_id": 7, "type": "retina", "value": "x1y2z3"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/api/v1/admin/credentials?user_id=7", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Credentials []models.Credential `json:"credentials"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Credentials) != 1 {
		t.Fatalf("credentials = %d, want 1", len(list.Credentials))
	}

	path := fmt.Sprintf("/api/v1/admin/credentials/%d", c.ID)
	if rr := e.do(t, http.MethodDelete, path, admin, nil); rr.Code != http.StatusNoContent {
		t.Errorf("deactivate status = %d, want 204", rr.Code)
	}
}

func TestListEventsPagination(t *testing.T) {
	e := newEnv(t)
	admin := e.seedToken(t, "events")
	ctx := context.Background()

	loc := uint(3)
	for i := 0; i < 5; i++ {
		if err := e.mem.Events.Insert(ctx, &models.AccessEvent{
			DeviceID: 1, LocationID: &loc, EventType: "dni", Decision: models.DecisionDeny,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	rr := e.do(t, http.MethodGet, "/api/v1/admin/events?page=1&page_size=2", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Events []models.AccessEvent `json:"events"`
		Total  int64                `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 5 {
		t.Errorf("total = %d, want 5", resp.Total)
	}
	if len(resp.Events) != 2 {
		t.Errorf("page = %d events, want 2", len(resp.Events))
	}

	rr = e.do(t, http.MethodGet, "/api/v1/admin/events?location_id=99", admin, nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("filtered total = %d, want 0", resp.Total)
	}
}
