// Package registry owns device identity: creation, pairing, bearer-token
// authentication, secret rotation and the targeted config patches devices
// and operators perform.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"garita/internal/devcfg"
	"garita/internal/logs"
	"garita/internal/models"
	"garita/internal/secrets"
	"garita/internal/store"
)

// ErrUnauthorized deliberately carries no detail. Unknown device, disabled
// device, bad code and bad token all collapse into it so callers cannot
// enumerate device ids.
var ErrUnauthorized = errors.New("unauthorized")

const pairingCodeTTL = 30 * time.Minute

type Service struct {
	devices store.DeviceStore
	now     func() time.Time
}

func New(devices store.DeviceStore) *Service {
	return &Service{devices: devices, now: time.Now}
}

// Create registers a device and issues its pairing code. The plaintext code
// is returned exactly once; only its argon2id hash is stored.
func (s *Service) Create(ctx context.Context, name string, locationID *uint) (*models.Device, string, error) {
	code, err := secrets.NewPairingCode()
	if err != nil {
		return nil, "", err
	}
	codeHash, err := secrets.HashSecret(code)
	if err != nil {
		return nil, "", err
	}
	expires := s.now().UTC().Add(pairingCodeTTL)
	d := &models.Device{
		Name:             name,
		PublicID:         uuid.NewString(),
		LocationID:       locationID,
		Enabled:          true,
		PairingCodeHash:  &codeHash,
		PairingExpiresAt: &expires,
	}
	if err := s.devices.Create(ctx, d); err != nil {
		return nil, "", err
	}
	return d, code, nil
}

// Pair exchanges a valid pairing code for a fresh bearer token and clears
// the pairing fields. Every failure is ErrUnauthorized.
func (s *Service) Pair(ctx context.Context, publicID, code string) (string, error) {
	d, err := s.devices.GetByPublicID(ctx, publicID)
	if err != nil {
		return "", ErrUnauthorized
	}
	if !d.Enabled || d.PairingCodeHash == nil || d.PairingExpiresAt == nil {
		return "", ErrUnauthorized
	}
	if s.now().UTC().After(*d.PairingExpiresAt) {
		return "", ErrUnauthorized
	}
	if !secrets.VerifySecret(code, *d.PairingCodeHash) {
		return "", ErrUnauthorized
	}
	token, err := secrets.NewToken(32)
	if err != nil {
		return "", err
	}
	hash := secrets.TokenHash(token)
	d.TokenHash = &hash
	d.PairingCodeHash = nil
	d.PairingExpiresAt = nil
	if err := s.devices.Update(ctx, d); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate resolves a device from its public id and bearer token. On
// success it best-effort stamps last_seen_at; that write never fails the
// caller.
func (s *Service) Authenticate(ctx context.Context, publicID, token string) (*models.Device, error) {
	if publicID == "" || token == "" {
		return nil, ErrUnauthorized
	}
	d, err := s.devices.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !d.Enabled || d.TokenHash == nil || !secrets.VerifyTokenHash(*d.TokenHash, token) {
		return nil, ErrUnauthorized
	}
	if err := s.devices.Touch(ctx, d.ID, s.now().UTC()); err != nil {
		logs.Logger.Warnf("device %d: last-seen update failed: %v", d.ID, err)
	}
	return d, nil
}

// RotatePairing issues a new pairing code for an existing device. The old
// bearer token, if any, stays valid until revoked.
func (s *Service) RotatePairing(ctx context.Context, id uint) (string, error) {
	d, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	code, err := secrets.NewPairingCode()
	if err != nil {
		return "", err
	}
	codeHash, err := secrets.HashSecret(code)
	if err != nil {
		return "", err
	}
	expires := s.now().UTC().Add(pairingCodeTTL)
	d.PairingCodeHash = &codeHash
	d.PairingExpiresAt = &expires
	if err := s.devices.Update(ctx, d); err != nil {
		return "", err
	}
	return code, nil
}

// RevokeToken clears the bearer token; the device must pair again before
// any further call succeeds.
func (s *Service) RevokeToken(ctx context.Context, id uint) error {
	d, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return err
	}
	d.TokenHash = nil
	if err := s.devices.Update(ctx, d); err != nil {
		return err
	}
	return nil
}

// Heartbeat stores device-reported telemetry under the runtime_status
// config key and stamps last_seen_at. Both writes are best-effort.
func (s *Service) Heartbeat(ctx context.Context, deviceID uint, status map[string]any) {
	now := s.now().UTC()
	payload := map[string]any{"reported_at": now.Format(time.RFC3339)}
	for k, v := range status {
		payload[k] = v
	}
	if err := s.devices.PatchConfigKey(ctx, deviceID, "runtime_status", payload); err != nil {
		logs.Logger.Warnf("device %d: runtime_status update failed: %v", deviceID, err)
	}
	if err := s.devices.Touch(ctx, deviceID, now); err != nil {
		logs.Logger.Warnf("device %d: last-seen update failed: %v", deviceID, err)
	}
}

// StartEnroll opens a single-use enrollment window on the device.
func (s *Service) StartEnroll(ctx context.Context, deviceID uint, mode devcfg.EnrollMode) error {
	if !models.ValidCredentialType(mode.CredentialType) {
		return errors.New("invalid credential type")
	}
	mode.Enabled = true
	return s.devices.PatchConfigKey(ctx, deviceID, "enroll_mode", mode)
}

// ClearEnroll closes the enrollment window without enrolling anything.
func (s *Service) ClearEnroll(ctx context.Context, deviceID uint) error {
	return s.devices.PatchConfigKey(ctx, deviceID, "enroll_mode", nil)
}
