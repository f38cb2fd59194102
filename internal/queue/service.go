// Package queue is the device-scoped command queue: operators enqueue
// remote actions, devices poll, claim and ack them. All state lives in the
// store; claiming is atomic and tolerates concurrent pollers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"garita/internal/models"
	"garita/internal/store"
)

var ErrPayloadTooLarge = errors.New("payload too large")

// Bounds on caller-supplied payload/result documents.
const (
	maxPayloadKeys  = 16
	maxPayloadBytes = 4096

	pollLimitMin = 1
	pollLimitMax = 20
)

type Service struct {
	cmds store.CommandStore

	defaultExpiry time.Duration
	claimLease    time.Duration
	now           func() time.Time
}

func New(cmds store.CommandStore, defaultExpiry, claimLease time.Duration) *Service {
	return &Service{
		cmds:          cmds,
		defaultExpiry: defaultExpiry,
		claimLease:    claimLease,
		now:           time.Now,
	}
}

func boundJSON(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	if len(m) > maxPayloadKeys {
		return nil, ErrPayloadTooLarge
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(blob) > maxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return blob, nil
}

// Enqueue queues a command. requestID empty means server-chosen; reusing a
// requestID for the same device is a no-op returning the original command,
// which makes operator retries after timeouts safe.
func (s *Service) Enqueue(ctx context.Context, deviceID uint, cmdType string, payload map[string]any, requestID string, actor *uint) (*models.AccessCommand, bool, error) {
	switch cmdType {
	case models.CommandTypeUnlock, models.CommandTypeStartEnroll:
	default:
		return nil, false, fmt.Errorf("unknown command type %q", cmdType)
	}
	blob, err := boundJSON(payload)
	if err != nil {
		return nil, false, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	now := s.now().UTC()
	cmd := &models.AccessCommand{
		DeviceID:    deviceID,
		Type:        cmdType,
		Payload:     blob,
		Status:      models.CommandStatusPending,
		RequestID:   &requestID,
		ActorUserID: actor,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.defaultExpiry),
	}
	existing, err := s.cmds.Enqueue(ctx, cmd)
	if err != nil {
		return nil, false, err
	}
	return cmd, existing, nil
}

// Poll claims up to limit commands for the device, oldest first. The limit
// is clamped to [1, 20]. Claimed-but-unacked commands whose lease ran out
// are claimable again.
func (s *Service) Poll(ctx context.Context, deviceID uint, limit int) ([]models.AccessCommand, error) {
	if limit < pollLimitMin {
		limit = pollLimitMin
	}
	if limit > pollLimitMax {
		limit = pollLimitMax
	}
	return s.cmds.Claim(ctx, deviceID, limit, s.now().UTC(), s.claimLease)
}

// Ack completes a claimed command with a bounded result document. Acking
// twice is success; acking a canceled or never-claimed command is a
// conflict.
func (s *Service) Ack(ctx context.Context, deviceID, id uint, result map[string]any) (already bool, err error) {
	blob, err := boundJSON(result)
	if err != nil {
		return false, err
	}
	return s.cmds.Ack(ctx, deviceID, id, blob, s.now().UTC())
}

// Cancel terminates a pending command. Cancellation also forces expiry, so
// a canceled command can never be claimed or acked afterwards.
func (s *Service) Cancel(ctx context.Context, id uint) error {
	return s.cmds.Cancel(ctx, id, s.now().UTC())
}

func (s *Service) ListByDevice(ctx context.Context, deviceID uint, limit int) ([]models.AccessCommand, error) {
	return s.cmds.ListByDevice(ctx, deviceID, limit)
}
