package repo

import (
	"context"

	"gorm.io/gorm"

	"garita/internal/models"
)

type APITokenStore struct{ db *gorm.DB }

func NewAPITokenStore(db *gorm.DB) *APITokenStore { return &APITokenStore{db: db} }

func (s *APITokenStore) Create(ctx context.Context, t *models.APIToken) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *APITokenStore) List(ctx context.Context) ([]models.APIToken, error) {
	var out []models.APIToken
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (s *APITokenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.APIToken{}).Count(&n).Error
	return n, err
}
