package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"garita/internal/models"
	"garita/internal/store"
)

type CredentialStore struct{ db *gorm.DB }

func NewCredentialStore(db *gorm.DB) *CredentialStore { return &CredentialStore{db: db} }

func (s *CredentialStore) Create(ctx context.Context, c *models.Credential) error {
	// The partial unique index on (hash) WHERE active is the real guarantee;
	// the pre-check just turns the common case into a friendlier path.
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("hash = ? AND active = ?", c.Hash, true).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return store.ErrConflict
	}
	err := s.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

func (s *CredentialStore) GetByID(ctx context.Context, id uint) (*models.Credential, error) {
	var c models.Credential
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CredentialStore) FindActiveByHash(ctx context.Context, hash string) (*models.Credential, error) {
	var c models.Credential
	err := s.db.WithContext(ctx).Where("hash = ? AND active = ?", hash, true).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CredentialStore) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", id).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) DeactivateByUserType(ctx context.Context, userID uint, credType string) error {
	return s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("user_id = ? AND type = ? AND active = ?", userID, credType, true).
		Update("active", false).Error
}

func (s *CredentialStore) ListByUser(ctx context.Context, userID uint) ([]models.Credential, error) {
	var out []models.Credential
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&out).Error
	return out, err
}
