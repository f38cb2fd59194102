package memory

import (
	"context"
	"sync"
	"time"

	"garita/internal/models"
	"garita/internal/store"
)

type EventStore struct {
	mu     *sync.Mutex
	nextID uint
	rows   []models.AccessEvent
}

func (s *EventStore) Insert(_ context.Context, e *models.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.NonceHash != nil {
		for i := range s.rows {
			r := &s.rows[i]
			if r.DeviceID == e.DeviceID && r.NonceHash != nil && *r.NonceHash == *e.NonceHash {
				return store.ErrConflict
			}
		}
	}
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, *e)
	return nil
}

func (s *EventStore) FindByNonce(_ context.Context, deviceID uint, nonceHash string) (*models.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		r := &s.rows[i]
		if r.DeviceID == deviceID && r.NonceHash != nil && *r.NonceHash == nonceHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *EventStore) CountSince(_ context.Context, deviceID uint, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.rows {
		r := &s.rows[i]
		if r.DeviceID == deviceID && !r.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *EventStore) LastAllowUnlock(_ context.Context, userID uint, locationID *uint, cutoff time.Time) (*models.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// rows are append-ordered; walk backwards for the most recent match
	for i := len(s.rows) - 1; i >= 0; i-- {
		r := &s.rows[i]
		if r.UserID == nil || *r.UserID != userID {
			continue
		}
		if r.Decision != models.DecisionAllow || !r.Unlock {
			continue
		}
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		if locationID != nil {
			if r.LocationID == nil || *r.LocationID != *locationID {
				continue
			}
		}
		cp := *r
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *EventStore) List(_ context.Context, f store.EventFilter) ([]models.AccessEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.AccessEvent
	for i := len(s.rows) - 1; i >= 0; i-- {
		r := &s.rows[i]
		if f.DeviceID != nil && r.DeviceID != *f.DeviceID {
			continue
		}
		if f.LocationID != nil && (r.LocationID == nil || *r.LocationID != *f.LocationID) {
			continue
		}
		matched = append(matched, *r)
	}
	total := int64(len(matched))
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}
	lo := (page - 1) * size
	if lo >= len(matched) {
		return nil, total, nil
	}
	hi := lo + size
	if hi > len(matched) {
		hi = len(matched)
	}
	return matched[lo:hi], total, nil
}
