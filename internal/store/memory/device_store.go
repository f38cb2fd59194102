package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"garita/internal/models"
	"garita/internal/store"
)

type deviceRow struct {
	d models.Device
}

type DeviceStore struct {
	mu     *sync.Mutex
	nextID uint
	byID   map[uint]*deviceRow
}

func (s *DeviceStore) Create(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.d.PublicID == d.PublicID {
			return store.ErrConflict
		}
	}
	s.nextID++
	d.ID = s.nextID
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	cp := *d
	s.byID[d.ID] = &deviceRow{d: cp}
	return nil
}

func (s *DeviceStore) GetByID(_ context.Context, id uint) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := row.d
	return &cp, nil
}

func (s *DeviceStore) GetByPublicID(_ context.Context, publicID string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.d.PublicID == publicID {
			cp := row.d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *DeviceStore) Update(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[d.ID]
	if !ok {
		return store.ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	row.d = cp
	return nil
}

func (s *DeviceStore) List(_ context.Context) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Device, 0, len(s.byID))
	for _, row := range s.byID {
		out = append(out, row.d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DeviceStore) PatchConfigKey(_ context.Context, id uint, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	doc := map[string]any{}
	if len(row.d.Config) > 0 {
		if err := json.Unmarshal(row.d.Config, &doc); err != nil {
			return err
		}
	}
	if value == nil {
		delete(doc, key)
	} else {
		doc[key] = value
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	row.d.Config = blob
	row.d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DeviceStore) Touch(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	row.d.LastSeenAt = &t
	return nil
}
