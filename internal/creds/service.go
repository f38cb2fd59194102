// Package creds is the content-addressed credential service. Raw fob, card
// and PIN values never leave this package unhashed.
package creds

import (
	"context"
	"errors"

	"garita/internal/models"
	"garita/internal/secrets"
	"garita/internal/store"
)

var ErrInvalid = errors.New("invalid credential")

type Service struct {
	store  store.CredentialStore
	hasher *secrets.Hasher
}

func New(st store.CredentialStore, hasher *secrets.Hasher) *Service {
	return &Service{store: st, hasher: hasher}
}

// Create enrolls a credential. An empty normalized value or an unknown type
// is ErrInvalid; a duplicate active hash surfaces as store.ErrConflict.
func (s *Service) Create(ctx context.Context, userID uint, credType, raw, label string) (*models.Credential, error) {
	if !models.ValidCredentialType(credType) {
		return nil, ErrInvalid
	}
	if secrets.Normalize(raw) == "" {
		return nil, ErrInvalid
	}
	if label == "" {
		label = secrets.Mask(raw)
	}
	c := &models.Credential{
		UserID: userID,
		Type:   credType,
		Hash:   s.hasher.CredentialHash(credType, raw),
		Label:  label,
		Active: true,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Deactivate soft-deletes one credential.
func (s *Service) Deactivate(ctx context.Context, id uint) error {
	return s.store.Deactivate(ctx, id)
}

// DeactivateByUserType soft-deletes every active credential of one type a
// user owns (the enrollment overwrite path).
func (s *Service) DeactivateByUserType(ctx context.Context, userID uint, credType string) error {
	if !models.ValidCredentialType(credType) {
		return ErrInvalid
	}
	return s.store.DeactivateByUserType(ctx, userID, credType)
}

// ResolveActive maps a raw value of a known type to its owning credential,
// active rows only.
func (s *Service) ResolveActive(ctx context.Context, credType, raw string) (*models.Credential, error) {
	if !models.ValidCredentialType(credType) {
		return nil, ErrInvalid
	}
	return s.store.FindActiveByHash(ctx, s.hasher.CredentialHash(credType, raw))
}

// ResolveActiveAny tries every credential type for a scan whose reader does
// not report one.
func (s *Service) ResolveActiveAny(ctx context.Context, raw string) (*models.Credential, error) {
	for _, t := range []string{models.CredentialTypeFob, models.CredentialTypeCard, models.CredentialTypePIN} {
		c, err := s.store.FindActiveByHash(ctx, s.hasher.CredentialHash(t, raw))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, store.ErrNotFound
}

func (s *Service) ListByUser(ctx context.Context, userID uint) ([]models.Credential, error) {
	return s.store.ListByUser(ctx, userID)
}
