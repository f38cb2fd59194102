package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"garita/internal/models"
	"garita/internal/store"
)

type EventStore struct{ db *gorm.DB }

func NewEventStore(db *gorm.DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Insert(ctx context.Context, e *models.AccessEvent) error {
	err := s.db.WithContext(ctx).Create(e).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// concurrent submit with the same nonce: the first row wins
		return store.ErrConflict
	}
	return err
}

func (s *EventStore) FindByNonce(ctx context.Context, deviceID uint, nonceHash string) (*models.AccessEvent, error) {
	var e models.AccessEvent
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND nonce_hash = ?", deviceID, nonceHash).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *EventStore) CountSince(ctx context.Context, deviceID uint, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AccessEvent{}).
		Where("device_id = ? AND created_at >= ?", deviceID, cutoff).
		Count(&n).Error
	return n, err
}

func (s *EventStore) LastAllowUnlock(ctx context.Context, userID uint, locationID *uint, cutoff time.Time) (*models.AccessEvent, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND decision = ? AND unlocked = ? AND created_at >= ?",
			userID, models.DecisionAllow, true, cutoff)
	if locationID != nil {
		q = q.Where("location_id = ?", *locationID)
	}
	var e models.AccessEvent
	err := q.Order("created_at DESC, id DESC").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *EventStore) List(ctx context.Context, f store.EventFilter) ([]models.AccessEvent, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AccessEvent{})
	if f.DeviceID != nil {
		q = q.Where("device_id = ?", *f.DeviceID)
	}
	if f.LocationID != nil {
		q = q.Where("location_id = ?", *f.LocationID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}
	var out []models.AccessEvent
	err := q.Order("created_at DESC, id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&out).Error
	return out, total, err
}
