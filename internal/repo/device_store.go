package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"garita/internal/models"
	"garita/internal/store"
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

func (s *DeviceStore) Create(ctx context.Context, d *models.Device) error {
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

func (s *DeviceStore) GetByID(ctx context.Context, id uint) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) GetByPublicID(ctx context.Context, publicID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("public_id = ?", publicID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) Update(ctx context.Context, d *models.Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *DeviceStore) List(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

// PatchConfigKey rewrites one top-level key of the JSON config column so
// concurrent patches of unrelated keys do not clobber each other.
func (s *DeviceStore) PatchConfigKey(ctx context.Context, id uint, key string, value any) error {
	var doc any = value
	if value == nil {
		doc = json.RawMessage("null")
	}
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		UpdateColumn("config", datatypes.JSONSet("config").Set(key, doc))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DeviceStore) Touch(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		UpdateColumn("last_seen_at", at).Error
}
