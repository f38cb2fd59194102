package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"garita/internal/models"
	"garita/internal/store"
)

type credRow struct {
	c models.Credential
}

type CredentialStore struct {
	mu     *sync.Mutex
	nextID uint
	byID   map[uint]*credRow
}

func (s *CredentialStore) Create(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.c.Active && row.c.Hash == c.Hash {
			return store.ErrConflict
		}
	}
	s.nextID++
	c.ID = s.nextID
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.byID[c.ID] = &credRow{c: cp}
	return nil
}

func (s *CredentialStore) GetByID(_ context.Context, id uint) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := row.c
	return &cp, nil
}

func (s *CredentialStore) FindActiveByHash(_ context.Context, hash string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.byID {
		if row.c.Active && row.c.Hash == hash {
			cp := row.c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *CredentialStore) Deactivate(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	row.c.Active = false
	row.c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *CredentialStore) DeactivateByUserType(_ context.Context, userID uint, credType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, row := range s.byID {
		if row.c.UserID == userID && row.c.Type == credType && row.c.Active {
			row.c.Active = false
			row.c.UpdatedAt = now
		}
	}
	return nil
}

func (s *CredentialStore) ListByUser(_ context.Context, userID uint) ([]models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Credential
	for _, row := range s.byID {
		if row.c.UserID == userID {
			out = append(out, row.c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
