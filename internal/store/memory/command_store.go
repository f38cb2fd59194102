package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"garita/internal/models"
	"garita/internal/store"
)

type cmdRow struct {
	c models.AccessCommand
}

type CommandStore struct {
	mu     *sync.Mutex
	nextID uint
	byID   map[uint]*cmdRow
}

func (s *CommandStore) Enqueue(_ context.Context, cmd *models.AccessCommand) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.RequestID != nil {
		for _, row := range s.byID {
			if row.c.DeviceID == cmd.DeviceID && row.c.RequestID != nil && *row.c.RequestID == *cmd.RequestID {
				*cmd = row.c
				return true, nil
			}
		}
	}
	s.nextID++
	cmd.ID = s.nextID
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	if cmd.Status == "" {
		cmd.Status = models.CommandStatusPending
	}
	cp := *cmd
	s.byID[cmd.ID] = &cmdRow{c: cp}
	return false, nil
}

func (s *CommandStore) GetByID(_ context.Context, id uint) (*models.AccessCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := row.c
	return &cp, nil
}

func claimable(c *models.AccessCommand, now time.Time, lease time.Duration) bool {
	if !c.ExpiresAt.After(now) {
		return false
	}
	switch c.Status {
	case models.CommandStatusPending:
		return true
	case models.CommandStatusClaimed:
		// lease ran out: the claimer is presumed dead, requeue
		return c.ClaimedAt != nil && !c.ClaimedAt.Add(lease).After(now)
	}
	return false
}

func (s *CommandStore) Claim(_ context.Context, deviceID uint, limit int, now time.Time, lease time.Duration) ([]models.AccessCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.byID))
	for id, row := range s.byID {
		if row.c.DeviceID == deviceID && claimable(&row.c, now, lease) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]models.AccessCommand, 0, len(ids))
	for _, id := range ids {
		row := s.byID[id]
		t := now
		row.c.Status = models.CommandStatusClaimed
		row.c.ClaimedAt = &t
		row.c.ExpiresAt = now.Add(2 * lease)
		out = append(out, row.c)
	}
	return out, nil
}

func (s *CommandStore) Ack(_ context.Context, deviceID, id uint, result datatypes.JSON, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok || row.c.DeviceID != deviceID {
		return false, store.ErrNotFound
	}
	switch row.c.Status {
	case models.CommandStatusAcked:
		return true, nil
	case models.CommandStatusClaimed:
		t := at
		row.c.Status = models.CommandStatusAcked
		row.c.Result = result
		row.c.AckedAt = &t
		return false, nil
	}
	return false, store.ErrConflict
}

func (s *CommandStore) Cancel(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	if row.c.Status != models.CommandStatusPending {
		return store.ErrConflict
	}
	row.c.Status = models.CommandStatusCanceled
	row.c.ExpiresAt = at
	return nil
}

func (s *CommandStore) ListByDevice(_ context.Context, deviceID uint, limit int) ([]models.AccessCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AccessCommand
	for _, row := range s.byID {
		if row.c.DeviceID == deviceID {
			out = append(out, row.c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
