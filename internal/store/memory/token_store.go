package memory

import (
	"context"
	"sync"
	"time"

	"garita/internal/models"
)

type APITokenStore struct {
	mu     *sync.Mutex
	nextID uint
	rows   []models.APIToken
}

func (s *APITokenStore) Create(_ context.Context, t *models.APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, *t)
	return nil
}

func (s *APITokenStore) List(_ context.Context) ([]models.APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.APIToken, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *APITokenStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}
